package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// countScript is the JSON encoding of
// `kprobe:vfs_read { @reads[comm] = count(); }` plus an `end` probe
// that reads the map's entry count and deletes the comm key.
const countScript = `{
  "probes": [
    {
      "attach": ["kprobe:vfs_read"],
      "body": [
        {
          "kind": "assign",
          "target": {"kind": "map", "name": "reads", "key": {"kind": "builtin", "name": "comm"}},
          "value": {"kind": "call", "name": "count"}
        }
      ]
    },
    {
      "attach": ["end"],
      "body": [
        {
          "kind": "expr",
          "x": {"kind": "call", "name": "len", "args": [{"kind": "map", "name": "reads"}]}
        },
        {
          "kind": "delete",
          "map": "reads",
          "key": {"kind": "builtin", "name": "comm"}
        }
      ]
    }
  ]
}`

func writeFakeTool(t *testing.T, dir, name, script string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

const copyScript = `
out=""; in=""
for arg in "$@"; do case "$arg" in -o) n=1;; -passes=*|-S|-march=*|-mcpu=*|-filetype=*) ;; *) if [ "${n:-}" = 1 ]; then out="$arg"; n=0; else in="$arg"; fi;; esac; done
[ -n "$in" ] && [ -n "$out" ] && cp "$in" "$out"; exit 0`

const elfScript = `
out=""
for arg in "$@"; do case "$arg" in -o) n=1;; *) [ "${n:-}" = 1 ] && { out="$arg"; n=0; };; esac; done
python3 -c "
import struct,sys
h=bytearray(64);h[0:4]=b'\\x7fELF';h[4]=2;h[5]=1;h[6]=1
struct.pack_into('<H',h,16,1);struct.pack_into('<H',h,18,247);struct.pack_into('<I',h,20,1)
struct.pack_into('<H',h,52,64);struct.pack_into('<H',h,58,64)
c=b'\\x95\\x00\\x00\\x00\\x00\\x00\\x00\\x00'
st=b'\\x00test\\x00\\x00\\x00\\x00'
ns=b'\\x00'*24;rs=struct.pack('<IBBHQQ',1,18,0,0,0,0)
ss=b'\\x00.text\\x00.symtab\\x00.strtab\\x00.shstrtab\\x00\\x00\\x00\\x00'
o=64;d=c;sto=o+len(d);d+=st;syo=o+len(d);d+=ns+rs;sso=o+len(d);d+=ss;so=o+len(d)
def s(n,t,f,off,sz,l=0,i=0,e=0):
 r=bytearray(64);struct.pack_into('<I',r,0,n);struct.pack_into('<I',r,4,t);struct.pack_into('<Q',r,8,f)
 struct.pack_into('<Q',r,24,off);struct.pack_into('<Q',r,32,sz);struct.pack_into('<I',r,40,l)
 struct.pack_into('<I',r,44,i);struct.pack_into('<Q',r,48,8);struct.pack_into('<Q',r,56,e);return bytes(r)
sh=s(0,0,0,0,0)+s(1,1,6,o,len(c))+s(7,3,0,sto,len(st))+s(15,2,0,syo,48,2,1,24)+s(23,3,0,sso,len(ss))
struct.pack_into('<Q',h,40,so);struct.pack_into('<H',h,60,5);struct.pack_into('<H',h,62,4)
sys.stdout.buffer.write(bytes(h)+d+sh)" > "$out"
exit 0`

func TestCompileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	toolDir := filepath.Join(dir, "tools")
	if err := os.MkdirAll(toolDir, 0o755); err != nil {
		t.Fatal(err)
	}
	link := writeFakeTool(t, toolDir, "llvm-link", copyScript)
	opt := writeFakeTool(t, toolDir, "opt", copyScript)
	llc := writeFakeTool(t, toolDir, "llc", elfScript)

	scriptPath := filepath.Join(dir, "readcount.json")
	if err := os.WriteFile(scriptPath, []byte(countScript), 0o600); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "readcount.o")

	stdout, stderr, code := runCLI(t,
		"compile", scriptPath,
		"-o", output,
		"--llvm-link", link, "--opt", opt, "--llc", llc,
	)
	if code != 0 {
		t.Fatalf("compile failed (code %d):\nstdout: %s\nstderr: %s", code, stdout, stderr)
	}

	if _, err := os.Stat(output); err != nil {
		t.Fatalf("object not written: %v", err)
	}
	resData, err := os.ReadFile(output + ".res.json")
	if err != nil {
		t.Fatalf("resource sidecar not written: %v", err)
	}
	for _, want := range []string{`"reads"`, `"percpu_hash"`, `"kprobe:vfs_read"`} {
		if !strings.Contains(string(resData), want) {
			t.Errorf("resources missing %q:\n%s", want, resData)
		}
	}
	if !strings.Contains(stdout, "wrote "+output) {
		t.Errorf("missing wrote line:\n%s", stdout)
	}
}

func TestCompileRejectsBadScript(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(scriptPath, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, stderr, code := runCLI(t, "compile", scriptPath)
	if code == 0 {
		t.Fatal("malformed script accepted")
	}
	if !strings.Contains(stderr, "decoding script") {
		t.Errorf("unexpected error output: %q", stderr)
	}
}

func TestCompileMissingScriptFile(t *testing.T) {
	_, stderr, code := runCLI(t, "compile", "/does/not/exist.json")
	if code == 0 {
		t.Fatal("missing script accepted")
	}
	if !strings.Contains(stderr, "reading script") {
		t.Errorf("unexpected error output: %q", stderr)
	}
}

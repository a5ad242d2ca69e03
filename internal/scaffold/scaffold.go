// Package scaffold generates the file structure for a new bpftrace
// tool directory: a starter script, a knob config, and a Makefile that
// drives compile and run.
package scaffold

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config holds settings for tool scaffolding.
type Config struct {
	Dir    string
	Name   string
	Stdout io.Writer
}

// Run generates a minimal tool skeleton in cfg.Dir.
func Run(cfg Config) error {
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("tool name is required")
	}

	toolDir := filepath.Join(cfg.Dir, "tools")
	if err := os.MkdirAll(toolDir, 0o755); err != nil {
		return fmt.Errorf("creating tools directory: %w", err)
	}

	files := []struct {
		path    string
		content string
	}{
		{filepath.Join(toolDir, cfg.Name+".bt"), starterScript(cfg.Name)},
		{filepath.Join(cfg.Dir, "bpftrace.json"), knobConfig()},
		{filepath.Join(cfg.Dir, "Makefile"), makefile(cfg.Name)},
	}

	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil {
			return fmt.Errorf("%s already exists; refusing to overwrite", f.path)
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", f.path, err)
		}
		rel, _ := filepath.Rel(cfg.Dir, f.path)
		if rel == "" {
			rel = f.path
		}
		fmt.Fprintf(cfg.Stdout, "  create %s\n", rel)
	}

	return nil
}

func starterScript(name string) string {
	return `// ` + name + `: count vfs_read calls per process.
//
// Usage: bpftrace run tools/` + name + `.bt

begin
{
	printf("Tracing vfs_read... Hit Ctrl-C to end.\n");
}

kprobe:vfs_read
{
	@reads[comm] = count();
}

end
{
	print(@reads);
	clear(@reads);
}
`
}

func knobConfig() string {
	return `{
  "max_strlen": 64,
  "on_stack_limit": 512,
  "max_cat_bytes": 10240,
  "perf_rb_pages": 64,
  "safe_mode": true
}
`
}

func makefile(name string) string {
	return `TOOL := tools/` + name + `.bt
OBJ  := build/` + name + `.o

.PHONY: compile run clean

compile:
	mkdir -p build
	bpftrace compile --config bpftrace.json -o $(OBJ) $(TOOL)

run:
	bpftrace run --config bpftrace.json $(TOOL)

clean:
	rm -rf build
`
}

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bpftrace-go/bpftrace/internal/diag"
)

// normalizeInputs validates the extra IR modules a build links in ahead
// of finalization. Only textual IR and bitcode are accepted: object and
// archive inputs would reintroduce host-compiled code the finalizer
// cannot see through.
func normalizeInputs(cfg Config) ([]string, error) {
	var out []string
	for _, input := range cfg.ExtraInputs {
		if err := ensureInputSupported(input); err != nil {
			return nil, err
		}
		info, err := os.Stat(input)
		if err != nil {
			return nil, &diag.Error{Stage: diag.StageInput, Err: err,
				Hint: "extra input does not exist or is unreadable"}
		}
		if info.IsDir() {
			return nil, &diag.Error{Stage: diag.StageInput,
				Err:  fmt.Errorf("extra input %q is a directory", input),
				Hint: "pass individual .ll or .bc files"}
		}
		out = append(out, input)
	}
	return out, nil
}

// ensureInputSupported validates the file extension is one we can link.
func ensureInputSupported(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ll", ".bc":
		return nil
	default:
		return &diag.Error{Stage: diag.StageInput,
			Err:  fmt.Errorf("unsupported extra input format %q", path),
			Hint: "supported extra inputs are .ll and .bc"}
	}
}

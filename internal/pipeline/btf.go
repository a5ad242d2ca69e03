package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/bpftrace-go/bpftrace/internal/diag"
	"github.com/bpftrace-go/bpftrace/internal/llvm"
)

// injectBTF embeds BTF type information into the output object: pahole
// -J when available, falling back to bpftool's BTF generation when only
// bpftool is installed.
func injectBTF(ctx context.Context, cfg Config, tools llvm.Tools) error {
	switch {
	case tools.Pahole != "":
		res, err := llvm.Run(ctx, cfg.Timeout, tools.Pahole, "-J", cfg.Output)
		if cfg.Verbose && strings.TrimSpace(res.Stderr) != "" {
			fmt.Fprintf(cfg.Stderr, "%s\n", res.Stderr)
		}
		if err != nil {
			return &diag.Error{Stage: diag.StageBTF, Err: err,
				Command: res.Command, Stderr: res.Stderr,
				Hint: "failed to inject BTF data into output object"}
		}
		return nil
	case tools.Bpftool != "":
		res, err := llvm.Run(ctx, cfg.Timeout, tools.Bpftool, "gen", "object", cfg.Output+".btf.o", cfg.Output)
		if err != nil {
			return &diag.Error{Stage: diag.StageBTF, Err: err,
				Command: res.Command, Stderr: res.Stderr,
				Hint: "bpftool gen object failed; check the object's map and program sections"}
		}
		return copyFile(cfg.Output+".btf.o", cfg.Output)
	default:
		return &diag.Error{Stage: diag.StageBTF,
			Err:     fmt.Errorf("neither pahole nor bpftool found"),
			Command: "pahole",
			Hint:    "install pahole or bpftool, or pass --pahole/--bpftool when using --btf"}
	}
}

// Package cli implements the bpftrace command-line interface: compile,
// run, list, init, doctor, and version, wired through cobra.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bpftrace-go/bpftrace/internal/llvm"
)

// Version is set at build time via ldflags:
//
//	go build -ldflags "-X github.com/bpftrace-go/bpftrace/internal/cli.Version=v0.1.0"
var Version = "(dev)"

// Run is the top-level entrypoint: build the root command, execute it,
// and map the result to a process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCommand assembles the full command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "bpftrace",
		Short:         "Compile and run BPF tracing scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		newCompileCmd(stdout, stderr),
		newRunCmd(stdout, stderr),
		newListCmd(stdout, stderr),
		newInitCmd(stdout, stderr),
		newDoctorCmd(stdout, stderr),
		newVersionCmd(stdout),
	)
	return root
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(stdout, "bpftrace %s\n", Version)
		},
	}
}

// registerToolFlags binds the standard tool path flags to a ToolOverrides.
func registerToolFlags(cmd *cobra.Command, tools *llvm.ToolOverrides) {
	cmd.Flags().StringVar(&tools.LLVMLink, "llvm-link", "", "Path to llvm-link binary.")
	cmd.Flags().StringVar(&tools.Opt, "opt", "", "Path to opt binary.")
	cmd.Flags().StringVar(&tools.LLC, "llc", "", "Path to llc binary.")
	cmd.Flags().StringVar(&tools.Pahole, "pahole", "", "Path to pahole binary (used with --btf).")
	cmd.Flags().StringVar(&tools.Bpftool, "bpftool", "", "Path to bpftool binary (BTF fallback).")
}

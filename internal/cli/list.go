package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bpftrace-go/bpftrace/internal/symbols"
)

// newListCmd wires the "list" subcommand: query the kernel's symbol
// tables for probe targets matching a glob, the same job bpftrace's own
// "-l" flag does.
func newListCmd(stdout, stderr io.Writer) *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:           "list [pattern]",
		Short:         "List kernel probe targets matching a pattern",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := "*"
			if len(args) == 1 {
				pattern = args[0]
			}
			return execList(symbols.NewKernelOracle(), domain, pattern, stdout)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.Flags().StringVar(&domain, "domain", "auto", "Symbol domain to query: auto, kprobe, or tracepoint.")
	return cmd
}

func execList(oracle symbols.Oracle, domain, pattern string, stdout io.Writer) error {
	var candidates []string
	var err error
	switch domain {
	case "kprobe":
		candidates, err = oracle.KernelFunctions()
	case "tracepoint":
		candidates, err = oracle.Tracepoints()
	case "auto":
		var kf, tp []string
		kf, err = oracle.KernelFunctions()
		if err == nil {
			tp, err = oracle.Tracepoints()
		}
		candidates = append(kf, tp...)
	default:
		return fmt.Errorf("unknown domain %q (want auto, kprobe, or tracepoint)", domain)
	}
	if err != nil {
		return fmt.Errorf("querying symbols: %w", err)
	}

	matches := symbols.Match(pattern, candidates)
	sort.Strings(matches)
	for _, m := range matches {
		fmt.Fprintln(stdout, m)
	}
	return nil
}

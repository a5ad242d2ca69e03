package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/bpftrace-go/bpftrace/internal/scaffold"
)

// newInitCmd wires the "init" subcommand: scaffold a starter tool
// directory in the current working directory.
func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "init <name>",
		Short:         "Scaffold a new tracing tool skeleton",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return scaffold.Run(scaffold.Config{Dir: ".", Name: args[0], Stdout: stdout})
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}

package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bpftrace-go/bpftrace/internal/doctor"
)

// newDoctorCmd wires the "doctor" subcommand: check toolchain
// installation, version compatibility, and kernel BTF availability.
func newDoctorCmd(stdout, stderr io.Writer) *cobra.Command {
	cfg := doctor.Config{Stdout: stdout, Stderr: stderr}

	cmd := &cobra.Command{
		Use:           "doctor",
		Short:         "Check toolchain installation and version compatibility",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return doctor.Run(cmd.Context(), cfg)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "Timeout for each version check.")
	registerToolFlags(cmd, &cfg.Tools)
	return cmd
}

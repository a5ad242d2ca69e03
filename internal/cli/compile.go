package cli

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/config"
	"github.com/bpftrace-go/bpftrace/internal/dwarfsrc"
	"github.com/bpftrace-go/bpftrace/internal/llvm"
	"github.com/bpftrace-go/bpftrace/internal/pipeline"
	"github.com/bpftrace-go/bpftrace/internal/scriptjson"
	"github.com/bpftrace-go/bpftrace/internal/semantic"
	"github.com/bpftrace-go/bpftrace/internal/symbols"
)

// compileOptions carries every knob of the compile subcommand.
type compileOptions struct {
	output       string
	resources    string
	configPath   string
	toolConfig   string
	vmlinux      string
	cpu          string
	optProfile   string
	passPipeline string
	timeout      time.Duration
	tmpDir       string
	keepTemp     bool
	btf          bool
	aot          bool
	verbose      bool
	dumpIR       bool
	extraInputs  []string
	tools        llvm.ToolOverrides
}

// newCompileCmd wires the "compile" subcommand: decode the typed script
// tree, run the multi-pass front half, then the LLVM back half, and
// write the object plus its RequiredResources sidecar.
func newCompileCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &compileOptions{}

	cmd := &cobra.Command{
		Use:           "compile <script.json>",
		Short:         "Compile a script into a BPF ELF object and resource sidecar",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execCompile(cmd, args[0], opts, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.Flags().StringVarP(&opts.output, "output", "o", "bpf.o", "Output eBPF ELF object path.")
	cmd.Flags().StringVar(&opts.resources, "resources", "", "Output RequiredResources sidecar path (default <output>.res.json).")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Knob config JSON file (max_strlen, on_stack_limit, ...).")
	cmd.Flags().StringVar(&opts.toolConfig, "tool-config", "", "Tool config JSON file (custom passes, opt profile).")
	cmd.Flags().StringVar(&opts.vmlinux, "vmlinux", "", "ELF with debug info for kernel-struct field resolution.")
	cmd.Flags().StringVar(&opts.cpu, "cpu", "v3", "BPF CPU version passed to llc as -mcpu.")
	cmd.Flags().StringVar(&opts.optProfile, "opt-profile", "default", "Optimization profile: conservative, default, aggressive, verifier-safe.")
	cmd.Flags().StringVar(&opts.passPipeline, "pass-pipeline", "", "Explicit LLVM opt pass pipeline string.")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-stage command timeout.")
	cmd.Flags().StringVar(&opts.tmpDir, "tmpdir", "", "Directory for intermediate artifacts (kept after run).")
	cmd.Flags().BoolVar(&opts.keepTemp, "keep-temp", false, "Keep temporary intermediate files after run.")
	cmd.Flags().BoolVar(&opts.btf, "btf", false, "Enable BTF injection via pahole/bpftool.")
	cmd.Flags().BoolVar(&opts.aot, "aot", false, "Gate features unavailable for ahead-of-time compiled objects.")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose stage logging.")
	cmd.Flags().BoolVar(&opts.dumpIR, "dump-ir", false, "Dump intermediate IR snapshots into the work directory.")
	cmd.Flags().StringArrayVar(&opts.extraInputs, "extra-input", nil, "Additional .ll/.bc module linked into the program. Repeatable.")
	registerToolFlags(cmd, &opts.tools)

	return cmd
}

// posFor anchors every decoded node's source location at the script
// file; the JSON tree carries no per-node positions of its own.
func posFor(path string) ast.Pos {
	return ast.Pos{File: path, Line: 1, Col: 1}
}

func execCompile(cmd *cobra.Command, scriptPath string, opts *compileOptions, stdout, stderr io.Writer) error {
	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	prog, err := scriptjson.Decode(raw, posFor(scriptPath))
	if err != nil {
		return fmt.Errorf("decoding script: %w", err)
	}

	knobs := config.Default()
	if opts.configPath != "" {
		knobs, err = config.Load(opts.configPath)
		if err != nil {
			return err
		}
	}

	var fields dwarfsrc.FieldSource
	if opts.vmlinux != "" {
		src, err := dwarfsrc.Open(opts.vmlinux)
		if err != nil {
			return err
		}
		fields = src
	}

	mode := semantic.ModeLive
	if opts.aot {
		mode = semantic.ModeAOT
	}

	in := pipeline.ScriptInput{
		Program: prog,
		Fields:  fields,
		Oracle:  symbols.NewKernelOracle(),
		Mode:    mode,
		Config:  knobs,
		BuildID: uuid.New(),
		NumCPU:  goruntime.NumCPU(),
	}
	art, diags, err := pipeline.CompileScript(in)
	for _, d := range diags.All() {
		fmt.Fprintln(stderr, d.Error())
	}
	if err != nil {
		return err
	}

	buildCfg := pipeline.Config{
		ExtraInputs:  opts.extraInputs,
		Output:       opts.output,
		CPU:          opts.cpu,
		KeepTemp:     opts.keepTemp,
		Verbose:      opts.verbose,
		PassPipeline: opts.passPipeline,
		OptProfile:   opts.optProfile,
		Timeout:      opts.timeout,
		TempDir:      opts.tmpDir,
		EnableBTF:    opts.btf,
		Tools:        opts.tools,
		Stdout:       stdout,
		Stderr:       stderr,
		DumpIR:       opts.dumpIR,
		Knobs:        knobs,
		NumCPU:       in.NumCPU,
	}
	if opts.toolConfig != "" {
		tc, err := llvm.LoadConfig(opts.toolConfig)
		if err != nil {
			return err
		}
		buildCfg.CustomPasses = tc.CustomPasses
		if tc.OptProfile != "" && !cmd.Flags().Changed("opt-profile") {
			buildCfg.OptProfile = tc.OptProfile
		}
	}

	built, err := pipeline.BuildObject(cmd.Context(), buildCfg, art)
	if err != nil {
		return err
	}

	resPath := opts.resources
	if resPath == "" {
		resPath = opts.output + ".res.json"
	}
	resData, err := art.Resources.Marshal()
	if err != nil {
		return fmt.Errorf("serializing resources: %w", err)
	}
	if err := os.WriteFile(resPath, resData, 0o600); err != nil {
		return fmt.Errorf("writing resources: %w", err)
	}

	if opts.verbose || opts.keepTemp || opts.tmpDir != "" {
		fmt.Fprintf(stdout, "intermediates: %s\n", built.TempDir)
	}
	fmt.Fprintf(stdout, "wrote %s\n", opts.output)
	fmt.Fprintf(stdout, "wrote %s\n", resPath)
	return nil
}

// Package pipeline orchestrates script compilation: the multi-pass
// front half from a typed AST to BPF-target LLVM IR plus its
// RequiredResources sidecar (compile.go), and the LLVM tool stages that
// turn that IR into a loadable eBPF ELF object.
package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"context"

	"github.com/bpftrace-go/bpftrace/internal/config"
	"github.com/bpftrace-go/bpftrace/internal/diag"
	"github.com/bpftrace-go/bpftrace/internal/elfcheck"
	"github.com/bpftrace-go/bpftrace/internal/llvm"
	"github.com/bpftrace-go/bpftrace/internal/resources"
	"github.com/bpftrace-go/bpftrace/internal/transform"
)

// Config holds all user-provided settings for an object build.
type Config struct {
	// ExtraInputs are additional .ll/.bc modules linked into the
	// program ahead of finalization (e.g. hand-written helper IR).
	ExtraInputs []string
	Output      string
	CPU         string
	KeepTemp    bool
	Verbose     bool

	PassPipeline string
	OptProfile   string
	CustomPasses []string

	Timeout time.Duration
	TempDir string

	EnableBTF bool
	Tools     llvm.ToolOverrides

	Stdout io.Writer
	Stderr io.Writer

	DumpIR bool

	// Knobs carries the numeric limits codegen already honored; the
	// build embeds them into the object's read-only config section.
	Knobs config.Config
	// NumCPU sizes the runtime counter section; zero means the
	// compiling host's CPU count was used.
	NumCPU int
}

// Artifacts records the paths of intermediate and final build products.
type Artifacts struct {
	TempDir     string
	CodegenLL   string
	LinkedLL    string
	FinalLL     string
	OptimizedLL string
	CodegenObj  string
	OutputObj   string
}

// BuildObject runs the back half of the pipeline over the front half's
// output: write IR → optional llvm-link → finalize → opt → llc →
// optional BTF → ELF validation.
func BuildObject(ctx context.Context, cfg Config, art *ScriptArtifacts) (*Artifacts, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	tools, err := llvm.DiscoverTools(cfg.Tools)
	if err != nil {
		return nil, err
	}

	workDir, cleanup, err := makeWorkDir(cfg.TempDir, cfg.KeepTemp)
	if err != nil {
		return nil, &diag.Error{Stage: diag.StageInput, Err: err, Hint: "failed to create temporary workspace"}
	}
	defer cleanup()

	out := &Artifacts{
		TempDir:     workDir,
		CodegenLL:   filepath.Join(workDir, "01-codegen.ll"),
		LinkedLL:    filepath.Join(workDir, "02-linked.ll"),
		FinalLL:     filepath.Join(workDir, "03-final.ll"),
		OptimizedLL: filepath.Join(workDir, "04-optimized.ll"),
		CodegenObj:  filepath.Join(workDir, "05-codegen.o"),
		OutputObj:   cfg.Output,
	}

	if err := os.WriteFile(out.CodegenLL, []byte(art.IR), 0o600); err != nil {
		return nil, &diag.Error{Stage: diag.StageIRBuild, Err: err, Hint: "failed to write generated IR"}
	}

	linked := out.CodegenLL
	if len(cfg.ExtraInputs) > 0 {
		inputs, err := normalizeInputs(cfg)
		if err != nil {
			return nil, err
		}
		linkArgs := append(append([]string{out.CodegenLL}, inputs...), "-S", "-o", out.LinkedLL)
		if err := runStage(ctx, cfg, diag.StageLink, tools.LLVMLink, linkArgs,
			"validate your extra IR files and ensure they are LLVM .ll/.bc modules"); err != nil {
			return nil, err
		}
		linked = out.LinkedLL
	}

	if err := transform.Run(ctx, linked, out.FinalLL, finalizeOptions(cfg, art.Resources)); err != nil {
		return nil, &diag.Error{Stage: diag.StageFinalize, Err: err,
			Hint: "the generated IR failed finalization; rerun with --dump-ir to inspect it"}
	}

	if err := stripHostPaths(out.FinalLL, workDir); err != nil {
		return nil, &diag.Error{Stage: diag.StageOpt, Err: err,
			Hint: "failed to sanitize paths in intermediate IR"}
	}

	if err := runOptStage(ctx, cfg, tools, out); err != nil {
		return nil, err
	}

	if err := runCodegenAndFinalize(ctx, cfg, tools, out); err != nil {
		return nil, err
	}

	if err := elfcheck.Validate(cfg.Output); err != nil {
		return nil, err
	}

	if cfg.DumpIR {
		fmt.Fprintf(cfg.Stdout, "[dump-ir] codegen:   %s\n", out.CodegenLL)
		fmt.Fprintf(cfg.Stdout, "[dump-ir] finalized: %s\n", out.FinalLL)
		fmt.Fprintf(cfg.Stdout, "[dump-ir] optimized: %s\n", out.OptimizedLL)
	}

	return out, nil
}

// finalizeOptions translates the script's RequiredResources into the
// finalizer's pass configuration: the probe function list, the map-spec
// table, and the two global-variable sections.
func finalizeOptions(cfg Config, rr *resources.RequiredResources) transform.Options {
	opts := transform.Options{
		Verbose: cfg.Verbose,
		Stdout:  cfg.Stdout,
	}
	for _, p := range rr.Probes {
		opts.Probes = append(opts.Probes, fmt.Sprintf("probe_%d", p.Index))
	}
	for _, m := range rr.Maps {
		typeID, ok := transform.MapTypeID(string(m.Kind))
		if !ok {
			typeID, _ = transform.MapTypeID("hash")
		}
		opts.Maps = append(opts.Maps, transform.MapSpec{
			IRName:     fmt.Sprintf("map.%d", m.ID),
			Name:       m.Name,
			TypeID:     typeID,
			KeySize:    mapKeySize(m),
			ValueSize:  mapValueSize(m),
			MaxEntries: m.MaxEntries,
		})
	}
	opts.Maps = append(opts.Maps, transform.MapSpec{
		IRName: "events", Name: "events",
		TypeID:     ringbufTypeID(),
		MaxEntries: uint32(cfg.Knobs.PerfRBPages * 4096),
	})

	numCPU := cfg.NumCPU
	if numCPU <= 0 {
		numCPU = 1
	}
	opts.ReadOnlyGlobals = []Global{
		{Name: "max_strlen", Type: "i64", Value: fmt.Sprintf("%d", cfg.Knobs.MaxStrlen)},
		{Name: "on_stack_limit", Type: "i64", Value: fmt.Sprintf("%d", cfg.Knobs.OnStackLimit)},
	}
	opts.DataGlobals = []Global{
		{Name: "loss", Type: "i64", Value: "0"},
		{Name: "num_cpus", Type: "i64", Value: fmt.Sprintf("%d", numCPU)},
		{Name: "max_cpu_id", Type: "i64", Value: fmt.Sprintf("%d", maxCPUID(numCPU))},
	}
	return opts
}

// Global aliases the finalizer's data-section entry type for callers
// configuring extra globals.
type Global = transform.Global

func ringbufTypeID() int {
	id, _ := transform.MapTypeID("ringbuf")
	return id
}

// maxCPUID rounds up to one less than a power of two so the emitted
// CPU-index masks stay verifier-provable.
func maxCPUID(numCPU int) int {
	n := 1
	for n < numCPU {
		n <<= 1
	}
	return n - 1
}

// mapKeySize picks the libbpf key width for a declared map. Keys are
// spilled through fixed scratch buffers, so the width is the scratch
// slot size rather than a per-script type layout.
func mapKeySize(m resources.MapDef) int {
	if m.KeyType == "bytes" {
		return 16
	}
	return 8
}

// mapValueSize mirrors the aggregation value structs codegen updates.
func mapValueSize(m resources.MapDef) int {
	switch m.ValueType {
	case "min", "max", "avg":
		return 16
	case "stats":
		return 32
	case "hist", "lhist":
		return 8 * 64
	case "tseries":
		return 8 + 8*int(max(1, m.Detail.NumIntervals))
	default:
		return 8
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// runOptStage runs the opt pass with optional custom passes.
func runOptStage(ctx context.Context, cfg Config, tools llvm.Tools, a *Artifacts) error {
	optArgs := llvm.BuildOptArgs(a.FinalLL, a.OptimizedLL, cfg.PassPipeline, cfg.OptProfile)
	if len(cfg.CustomPasses) > 0 {
		validated, vErr := llvm.AppendCustomPasses(optArgs, cfg.CustomPasses)
		if vErr != nil {
			return &diag.Error{Stage: diag.StageOpt, Err: vErr,
				Hint: "custom pass validation failed; check the tool config file"}
		}
		optArgs = validated
	}
	return runStage(ctx, cfg, diag.StageOpt, tools.Opt, optArgs,
		"try a less aggressive --pass-pipeline or inspect the finalized IR")
}

// runCodegenAndFinalize runs llc code generation, copies the output, and
// optionally injects BTF.
func runCodegenAndFinalize(ctx context.Context, cfg Config, tools llvm.Tools, a *Artifacts) error {
	llcArgs := buildLLCArgs(cfg.CPU, a.OptimizedLL, a.CodegenObj)
	if err := runStage(ctx, cfg, diag.StageCodegen, tools.LLC, llcArgs,
		"ensure llc supports the BPF target and the finalized IR is valid"); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return &diag.Error{Stage: diag.StageFinalize, Err: err, Hint: "failed to create output directory"}
	}
	if err := copyFile(a.CodegenObj, cfg.Output); err != nil {
		return &diag.Error{Stage: diag.StageFinalize, Err: err,
			Hint: "failed to produce final output object"}
	}
	if cfg.EnableBTF {
		if err := injectBTF(ctx, cfg, tools); err != nil {
			return err
		}
	}
	return nil
}

// validateConfig applies defaults and checks required fields.
func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Output) == "" {
		return &diag.Error{Stage: diag.StageInput, Err: fmt.Errorf("no output path provided"),
			Hint: "provide --output path"}
	}
	if cfg.CPU == "" {
		cfg.CPU = "v3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if cfg.Stderr == nil {
		cfg.Stderr = io.Discard
	}
	if cfg.DumpIR {
		// IR snapshots only survive if the work directory does.
		cfg.KeepTemp = true
	}
	if cfg.Knobs.MaxStrlen == 0 {
		cfg.Knobs = config.Default()
	}
	return nil
}

// runStage executes a single LLVM tool invocation with logging and error wrapping.
func runStage(ctx context.Context, cfg Config, stage diag.Stage, bin string, args []string, hint string) error {
	res, err := llvm.Run(ctx, cfg.Timeout, bin, args...)
	if cfg.Verbose {
		fmt.Fprintf(cfg.Stdout, "[%s] %s\n", stage, res.Command)
		if s := strings.TrimSpace(res.Stdout); s != "" {
			fmt.Fprintf(cfg.Stdout, "%s\n", s)
		}
		if s := strings.TrimSpace(res.Stderr); s != "" {
			fmt.Fprintf(cfg.Stderr, "%s\n", s)
		}
	}
	if err != nil {
		return &diag.Error{Stage: stage, Err: err, Command: res.Command, Stderr: res.Stderr, Hint: hint}
	}
	return nil
}

// makeWorkDir creates or reuses a directory for intermediate artifacts.
func makeWorkDir(baseDir string, keepTemp bool) (string, func(), error) {
	noop := func() {}
	if strings.TrimSpace(baseDir) != "" {
		if err := os.MkdirAll(baseDir, 0o700); err != nil {
			return "", noop, err
		}
		if err := os.Chmod(baseDir, 0o700); err != nil { //nolint:gosec
			return "", noop, err
		}
		return baseDir, noop, nil
	}
	dir, err := os.MkdirTemp("", "bpftrace-")
	if err != nil {
		return "", noop, err
	}
	if keepTemp {
		return dir, noop, nil
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// stripHostPaths rewrites absolute temp-directory references in an LLVM IR
// text file to relative paths.
func stripHostPaths(llPath, tempDir string) error {
	data, err := os.ReadFile(llPath)
	if err != nil {
		return err
	}
	cleaned := bytes.ReplaceAll(data, []byte(tempDir), []byte("."))
	return os.WriteFile(llPath, cleaned, 0o600)
}

// buildLLCArgs constructs the argument list for llc BPF code generation.
func buildLLCArgs(cpu, inputPath, outputPath string) []string {
	return []string{
		"-march=bpf",
		"-mcpu=" + cpu,
		"-filetype=obj",
		inputPath,
		"-o",
		outputPath,
	}
}

// copyFile copies src to dst, creating or overwriting dst.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

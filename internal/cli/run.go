package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cilium/ebpf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bpftrace-go/bpftrace/internal/ast"
	"github.com/bpftrace-go/bpftrace/internal/attach"
	"github.com/bpftrace-go/bpftrace/internal/attach/liveprobe"
	"github.com/bpftrace-go/bpftrace/internal/config"
	"github.com/bpftrace-go/bpftrace/internal/resources"
	bpfruntime "github.com/bpftrace-go/bpftrace/internal/runtime"
	"github.com/bpftrace-go/bpftrace/internal/symbols"
	"github.com/bpftrace-go/bpftrace/internal/watchpoint"
)

// newRunCmd wires the "run" subcommand: load a compiled BPF object and
// its resource sidecar, attach every probe, and drive the async
// dispatcher until the context is cancelled or an exit action fires.
func newRunCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		objectPath   string
		resourcePath string
		configPath   string
		metricsAddr  string
		unsafe       bool
		synchronous  bool
	)

	cmd := &cobra.Command{
		Use:           "run",
		Short:         "Load a compiled program and run its async dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execRun(cmd.Context(), runOptions{
				objectPath:   objectPath,
				resourcePath: resourcePath,
				configPath:   configPath,
				metricsAddr:  metricsAddr,
				unsafe:       unsafe,
				synchronous:  synchronous,
			}, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.Flags().StringVar(&objectPath, "object", "", "Path to the linked BPF ELF object (required).")
	cmd.Flags().StringVar(&resourcePath, "resources", "", "Path to the RequiredResources JSON sidecar (required).")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a runtime config JSON file (defaults to config.Default()).")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus runtime metrics on this address (e.g. :9435).")
	cmd.Flags().BoolVar(&unsafe, "unsafe", false, "Allow the syscall async action to execute shell commands.")
	cmd.Flags().BoolVar(&synchronous, "sync-watchpoints", false, "Resume the tracee synchronously after each watchpoint attach.")
	_ = cmd.MarkFlagRequired("object")
	_ = cmd.MarkFlagRequired("resources")
	return cmd
}

type runOptions struct {
	objectPath   string
	resourcePath string
	configPath   string
	metricsAddr  string
	unsafe       bool
	synchronous  bool
}

func execRun(ctx context.Context, opts runOptions, stdout, stderr io.Writer) error {
	resData, err := os.ReadFile(opts.resourcePath)
	if err != nil {
		return fmt.Errorf("reading resources: %w", err)
	}
	res, err := resources.Unmarshal(resData)
	if err != nil {
		return fmt.Errorf("parsing resources: %w", err)
	}

	cfg := config.Default()
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return fmt.Errorf("loading runtime config: %w", err)
		}
	}
	if opts.unsafe {
		cfg.SafeMode = false
	}

	spec, err := ebpf.LoadCollectionSpec(opts.objectPath)
	if err != nil {
		return fmt.Errorf("loading collection spec: %w", err)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("loading collection: %w", err)
	}
	defer coll.Close()

	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	mapReader, err := bpfruntime.NewEBPFMapReader(res, coll.Maps)
	if err != nil {
		return fmt.Errorf("binding maps: %w", err)
	}

	ringMap, ok := coll.Maps["events"]
	if !ok {
		return fmt.Errorf("collection has no \"events\" ring buffer map")
	}
	src, err := bpfruntime.NewRingbufSource(ringMap)
	if err != nil {
		return fmt.Errorf("opening ring buffer: %w", err)
	}
	defer src.Close()

	oracle := symbols.NewKernelOracle()
	links, err := attachProbes(res, coll, oracle)
	if err != nil {
		return err
	}
	defer closeLinks(links)

	metrics := bpfruntime.NewMetrics(nil)
	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: opts.metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	dispatchOpts := []bpfruntime.Option{bpfruntime.WithConfig(cfg), bpfruntime.WithMetrics(metrics)}
	if hasWatchpointProbe(res) {
		tracee := selfTracee{pid: os.Getpid()}
		ctrl := watchpoint.New(watchpoint.NewPtraceAttacher(tracee.pid))
		dispatchOpts = append(dispatchOpts, bpfruntime.WithWatchpointController(ctrl, tracee, opts.synchronous))
	}

	dispatcher := bpfruntime.New(res, src, bpfruntime.NewWriterSink(stdout), mapReader, log, dispatchOpts...)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return dispatcher.Run(runCtx)
}

// attachProbes re-parses each probe's raw attach-point strings (recorded
// by the resource analysis pass) and attaches the concrete ones through
// liveprobe. Probe kinds owned by other subsystems (watchpoint,
// begin/end, etc.) are skipped; this runner only drives the
// kernel-attached half of a program.
func attachProbes(res *resources.RequiredResources, coll *ebpf.Collection, oracle symbols.Oracle) ([]interface{ Close() error }, error) {
	linker := liveprobe.CiliumLinker{}
	var links []interface{ Close() error }
	for _, p := range res.Probes {
		for _, raw := range p.RawInputs {
			ap := ast.NewAttachPoint(raw, ast.Pos{})
			result := attach.Parse(ap, nil, oracle)
			if result.Status != attach.StatusOk {
				continue
			}
			prog, ok := coll.Programs[programName(p.Index)]
			if !ok {
				continue
			}
			lk, err := liveprobe.Attach(linker, result.Point, prog)
			if err != nil {
				closeLinks(links)
				return nil, fmt.Errorf("attaching probe %d: %w", p.Index, err)
			}
			links = append(links, lk)
		}
	}
	return links, nil
}

func closeLinks(links []interface{ Close() error }) {
	for _, l := range links {
		_ = l.Close()
	}
}

// programName derives the collection program name codegen assigns for
// probe index idx ("probe_<n>"); the IR builder names functions the same
// way so link.Programs keys line up.
func programName(idx int64) string {
	return fmt.Sprintf("probe_%d", idx)
}

func hasWatchpointProbe(res *resources.RequiredResources) bool {
	for _, p := range res.Probes {
		if p.Kind == resources.ProbeWatchpoint {
			return true
		}
	}
	return false
}

// selfTracee implements watchpoint.Tracee for the process running the
// dispatcher itself, the only target this runner knows how to ptrace
// without an explicit --pid flag.
type selfTracee struct{ pid int }

func (s selfTracee) Pid() int { return s.pid }

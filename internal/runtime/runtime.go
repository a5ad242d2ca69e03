// Package runtime implements the async dispatcher: a single-threaded
// loop polling a ring buffer of packed events emitted by the compiled
// BPF program, decoding the fixed record layout, and invoking the
// handler named by each record's leading AsyncActionId.
//
// The only blocking point is the ring-buffer poll (modeled as
// Source.Read, backed in production by a
// github.com/cilium/ebpf/ringbuf.Reader — one Reader per ring-buffer
// map). A single termination flag is checked between polls, settable by
// a signal handler or by the in-band `exit` action.
package runtime

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bpftrace-go/bpftrace/internal/config"
	"github.com/bpftrace-go/bpftrace/internal/diag"
	"github.com/bpftrace-go/bpftrace/internal/resources"
	"github.com/bpftrace-go/bpftrace/internal/watchpoint"
)

// Record is one polled ring-buffer entry: the raw bytes of a single
// event, action-id header included.
type Record struct {
	RawSample []byte
}

// Source abstracts the blocking ring-buffer poll. The production
// implementation wraps *ringbuf.Reader (see ringbuf.go); tests use an
// in-memory fake so the dispatch/decode logic is exercised without a
// kernel.
type Source interface {
	Read() (Record, error)
	Close() error
}

// ErrClosed is returned by a Source once it has been closed, signaling
// the poll loop to exit on its own rather than treating closure as a
// fatal error.
var ErrClosed = fmt.Errorf("runtime: ring buffer closed")

// FatalError wraps a dispatch failure the poll loop must not survive:
// an out-of-range watchpoint probe id (a design error), a watchpoint
// attach or tracee-resume failure, or a safe-mode violation. Everything
// else a handler returns is logged and the loop keeps polling.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

func fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// Sink is where textual output (printf, cat, print_map, ...) is written.
type Sink interface {
	Printf(format string, args ...any)
	Write(p []byte) (int, error)
}

// MapReader is the narrow slice of *ebpf.Map the dispatcher needs for
// print_map/clear/zero handling and cross-CPU aggregation reads.
// Implemented by EBPFMapReader in production (ringbuf.go); faked in
// tests.
type MapReader interface {
	// Iterate yields every key/value pair for the named map id, already
	// cross-CPU-aggregated per the map's MapKind.
	Iterate(mapID int) ([]KV, error)
	// Clear drains the map (used by `clear`). Zero overwrites every entry
	// with a zero value instead of removing it (used by `zero`).
	Clear(mapID int) error
	Zero(mapID int) error
}

// KV is one decoded map entry as handed to the print_map formatter.
type KV struct {
	Key   string
	Value int64
}

// Dispatcher is the runtime loop: poll, decode, dispatch.
type Dispatcher struct {
	res     *resources.RequiredResources
	src     Source
	sink    Sink
	maps    MapReader
	wp      *watchpoint.Controller
	tracee  watchpoint.Tracee
	log     *zap.Logger
	metrics *Metrics
	cfg     config.Config

	terminate        atomic.Bool
	synchronousWatch bool
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithWatchpointController wires the watchpoint controller so
// watchpoint_attach/watchpoint_detach records install and remove real
// watchpoints.
func WithWatchpointController(c *watchpoint.Controller, tracee watchpoint.Tracee, synchronous bool) Option {
	return func(d *Dispatcher) {
		d.wp = c
		d.tracee = tracee
		d.synchronousWatch = synchronous
	}
}

// WithMetrics attaches a Prometheus-backed Metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New constructs a Dispatcher bound to res (the compiled script's
// RequiredResources), src (the ring-buffer poll), sink (text output), and
// maps (print_map/clear/zero backing store).
func New(res *resources.RequiredResources, src Source, sink Sink, maps MapReader, log *zap.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{res: res, src: src, sink: sink, maps: maps, log: log, metrics: NewMetrics(nil), cfg: config.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Terminate sets the termination flag checked between polls. Safe to
// call from a signal handler goroutine.
func (d *Dispatcher) Terminate() { d.terminate.Store(true) }

// Run polls until ctx is canceled, the source closes, or an `exit`
// action sets the termination flag, in which case the current drain
// completes before the loop returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if d.terminate.Load() {
			return nil
		}

		rec, err := d.src.Read()
		if err != nil {
			if err == ErrClosed {
				return nil
			}
			return &diag.Error{Stage: diag.StageRuntime, Err: err, Hint: "ring-buffer read failed; is the program still loaded?"}
		}

		if err := d.dispatch(rec.RawSample); err != nil {
			var fe *FatalError
			if errors.As(err, &fe) {
				return &diag.Error{Stage: diag.StageRuntime, Err: fe.Err,
					Hint: "the run cannot continue past this handler failure"}
			}
			d.log.Warn("dispatch error", zap.Error(err))
		}

		if d.terminate.Load() {
			// An in-band `exit` action set the flag during dispatch;
			// the record that carried it has been fully handled.
			return nil
		}
	}
}

// dispatch decodes one record's 8-byte AsyncActionId header
// and routes to the matching handler.
func (d *Dispatcher) dispatch(raw []byte) error {
	if len(raw) < 8 {
		return fmt.Errorf("runtime: record too short (%d bytes) to hold an action id", len(raw))
	}
	id := binary.LittleEndian.Uint64(raw[:8])
	payload := raw[8:]

	if id >= ProtocolActionBase {
		return d.dispatchProtocol(id, payload)
	}

	schema, ok := d.res.ActionByID(id)
	if !ok {
		return fmt.Errorf("runtime: unknown async action id %d", id)
	}
	if d.metrics != nil {
		d.metrics.eventsTotal.Inc()
	}
	return d.dispatchAction(schema, payload)
}

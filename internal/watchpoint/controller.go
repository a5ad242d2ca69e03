// Package watchpoint pairs a watched memory address with a real
// hardware-watchpoint attachment and the signals needed to pause and
// resume the traced process around installing it.
//
// A shadow probe emitted by internal/irbuild/codegen reads the watched
// address out of a function argument register and sends a
// WatchpointAttach async event; this package owns the other half: pairing
// that event with the hardware breakpoint and resuming the traced
// process.
package watchpoint

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Attacher installs and removes the real hardware watchpoint at an
// address; the production implementation backs this with a perf_event
// hardware breakpoint, exercised here behind an interface so the
// controller's dedup/signal logic is tested without kernel access.
type Attacher interface {
	Attach(addr uint64, len int, mode string) error
	Detach(addr uint64) error
}

// Tracee is the subset of process control the controller needs to pause
// and resume the traced process around a synchronous watchpoint install.
type Tracee interface {
	Pid() int
}

// Controller tracks the set of currently-watched addresses and serializes
// attach/detach against concurrent async-event dispatch.
type Controller struct {
	mu       sync.Mutex
	attacher Attacher
	watched  map[uint64]int // addr -> probe id
}

// New constructs a Controller bound to attacher.
func New(attacher Attacher) *Controller {
	return &Controller{
		attacher: attacher,
		watched:  make(map[uint64]int),
	}
}

// ErrUnknownProbe is returned when a WatchpointAttach event names a
// probeID this build's RequiredResources never declared — a design error,
// distinct from an ordinary duplicate attach.
var ErrUnknownProbe = fmt.Errorf("watchpoint: probe id out of range")

// Attach handles one watchpoint_attach async event: if addr is already
// watched this is a no-op (beyond an optional resume); otherwise it
// installs the hardware watchpoint and, if synchronous, resumes tracee
// with SIGCONT. maxProbeID is the upper bound on valid probe indices
// drawn from RequiredResources, used to distinguish a design error from an
// ordinary duplicate.
func (c *Controller) Attach(tracee Tracee, probeID int, maxProbeID int, addr uint64, length int, mode string, synchronous bool) error {
	if probeID < 0 || probeID > maxProbeID {
		return ErrUnknownProbe
	}

	c.mu.Lock()
	if _, ok := c.watched[addr]; ok {
		// Duplicate address: non-fatal, already installed.
		c.mu.Unlock()
		if synchronous && tracee != nil {
			return resume(tracee)
		}
		return nil
	}
	c.mu.Unlock()

	if err := c.attacher.Attach(addr, length, mode); err != nil {
		return fmt.Errorf("watchpoint: attach at %#x: %w", addr, err)
	}

	c.mu.Lock()
	c.watched[addr] = probeID
	c.mu.Unlock()

	if synchronous && tracee != nil {
		if err := resume(tracee); err != nil {
			return fmt.Errorf("watchpoint: resume tracee after attach at %#x: %w", addr, err)
		}
	}
	return nil
}

// Detach handles one watchpoint_detach async event. Removing an
// address that was never watched is a no-op.
func (c *Controller) Detach(addr uint64) error {
	c.mu.Lock()
	_, ok := c.watched[addr]
	if ok {
		delete(c.watched, addr)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.attacher.Detach(addr)
}

// Watched reports whether addr currently has an installed watchpoint.
func (c *Controller) Watched(addr uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watched[addr]
	return ok
}

// Count returns the number of currently-installed watchpoints.
func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watched)
}

// Stop sends SIGSTOP to the tracee, pausing it until the watchpoint
// controller's Attach resumes it.
func Stop(t Tracee) error {
	if err := unix.Kill(t.Pid(), unix.SIGSTOP); err != nil {
		return fmt.Errorf("watchpoint: SIGSTOP pid %d: %w", t.Pid(), err)
	}
	return nil
}

// resume sends SIGCONT, completing the synchronous watchpoint-attach
// protocol.
func resume(t Tracee) error {
	if err := unix.Kill(t.Pid(), unix.SIGCONT); err != nil {
		return fmt.Errorf("watchpoint: SIGCONT pid %d: %w", t.Pid(), err)
	}
	return nil
}

// RaiseMemlock lifts RLIMIT_MEMLOCK to infinity so the BPF maps backing
// watchpoint shadow probes (and every other map the script declares) can
// be created on kernels without BPF memory cgroup accounting.
func RaiseMemlock() error {
	limit := unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
		return fmt.Errorf("watchpoint: raising RLIMIT_MEMLOCK: %w", err)
	}
	return nil
}

package watchpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAttacher struct {
	attached  map[uint64]bool
	attachErr error
	calls     int
}

func newFakeAttacher() *fakeAttacher {
	return &fakeAttacher{attached: make(map[uint64]bool)}
}

func (f *fakeAttacher) Attach(addr uint64, length int, mode string) error {
	f.calls++
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached[addr] = true
	return nil
}

func (f *fakeAttacher) Detach(addr uint64) error {
	delete(f.attached, addr)
	return nil
}

type fakeTracee struct{ pid int }

func (f fakeTracee) Pid() int { return f.pid }

func TestAttachInstallsOnce(t *testing.T) {
	a := newFakeAttacher()
	c := New(a)

	require.NoError(t, c.Attach(nil, 0, 3, 0x1000, 4, "w", false))
	require.True(t, c.Watched(0x1000))
	require.Equal(t, 1, c.Count())
	require.Equal(t, 1, a.calls)
}

func TestAttachDuplicateAddressSuppressed(t *testing.T) {
	// Two watchpoint_attach events at the same address install one probe.
	a := newFakeAttacher()
	c := New(a)

	require.NoError(t, c.Attach(nil, 0, 3, 0x2000, 4, "w", false))
	require.NoError(t, c.Attach(nil, 1, 3, 0x2000, 4, "w", false))

	require.Equal(t, 1, c.Count())
	require.Equal(t, 1, a.calls)
}

func TestAttachOutOfRangeProbeIDIsFatal(t *testing.T) {
	a := newFakeAttacher()
	c := New(a)

	err := c.Attach(nil, 99, 3, 0x3000, 4, "w", false)
	require.ErrorIs(t, err, ErrUnknownProbe)
	require.Equal(t, 0, a.calls)
}

func TestAttachFailurePropagates(t *testing.T) {
	a := newFakeAttacher()
	a.attachErr = errors.New("perf_event_open: EPERM")
	c := New(a)

	err := c.Attach(nil, 0, 3, 0x4000, 4, "w", false)
	require.Error(t, err)
	require.False(t, c.Watched(0x4000))
}

func TestDetachRemovesWatch(t *testing.T) {
	a := newFakeAttacher()
	c := New(a)

	require.NoError(t, c.Attach(nil, 0, 3, 0x5000, 4, "w", false))
	require.NoError(t, c.Detach(0x5000))
	require.False(t, c.Watched(0x5000))
	require.NotContains(t, a.attached, uint64(0x5000))
}

func TestDetachUnknownAddressIsNoop(t *testing.T) {
	a := newFakeAttacher()
	c := New(a)
	require.NoError(t, c.Detach(0x6000))
}

package runtime

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpftrace-go/bpftrace/internal/resources"
	"github.com/bpftrace-go/bpftrace/internal/watchpoint"
)

type fakeSource struct {
	records []Record
	i       int
}

func (f *fakeSource) Read() (Record, error) {
	if f.i >= len(f.records) {
		return Record{}, ErrClosed
	}
	r := f.records[f.i]
	f.i++
	return r, nil
}

func (f *fakeSource) Close() error { return nil }

type fakeMaps struct {
	entries map[int][]KV
	cleared []int
	zeroed  []int
}

func (f *fakeMaps) Iterate(mapID int) ([]KV, error) { return f.entries[mapID], nil }
func (f *fakeMaps) Clear(mapID int) error           { f.cleared = append(f.cleared, mapID); return nil }
func (f *fakeMaps) Zero(mapID int) error            { f.zeroed = append(f.zeroed, mapID); return nil }

func actionHeader(id uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, id)
	return b
}

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// TestDispatchPrintfFormatsArgs checks that printf("%s\n", str(arg0))
// decodes and formats per the recorded schema.
func TestDispatchPrintfFormatsArgs(t *testing.T) {
	res := &resources.RequiredResources{
		Actions: []resources.ActionSchema{{
			ActionID: 0,
			Kind:     "printf",
			Format:   "hello %s\n",
			Args:     []resources.ArgSchema{{Name: "arg0", Type: "string[8]", Offset: 0, Size: 8}},
		}},
	}
	payload := append([]byte("bob"), make([]byte, 5)...)
	raw := append(actionHeader(0), payload...)

	src := &fakeSource{records: []Record{{RawSample: raw}}}
	var out bytes.Buffer
	d := New(res, src, NewWriterSink(&out), nil, nil)

	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, "hello bob\n", out.String())
}

func TestDispatchErrorfLogsAndPrints(t *testing.T) {
	res := &resources.RequiredResources{
		Actions: []resources.ActionSchema{{
			ActionID: 0,
			Kind:     "errorf",
			Format:   "bad: %d\n",
			Args:     []resources.ArgSchema{{Name: "arg0", Type: "uint64", Offset: 0, Size: 8}},
		}},
	}
	raw := append(actionHeader(0), u64le(42)...)
	src := &fakeSource{records: []Record{{RawSample: raw}}}
	var out bytes.Buffer
	d := New(res, src, NewWriterSink(&out), nil, nil)

	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, "bad: 42\n", out.String())
}

func TestDispatchPrintMapDrainsNamedMap(t *testing.T) {
	res := &resources.RequiredResources{
		Maps: []resources.MapDef{{ID: 0, Name: "@x", Kind: resources.MapPerCPUHash}},
	}
	maps := &fakeMaps{entries: map[int][]KV{0: {{Key: "bob", Value: 3}}}}

	payload := append(append(u64le(0), u64le(0)...), u64le(0)...)
	raw := append(actionHeader(ActionPrintMap), payload...)
	src := &fakeSource{records: []Record{{RawSample: raw}}}

	var out bytes.Buffer
	d := New(res, src, NewWriterSink(&out), maps, nil)

	require.NoError(t, d.Run(context.Background()))
	require.Contains(t, out.String(), "@x:")
	require.Contains(t, out.String(), "bob: 3")
}

func TestDispatchClearAndZero(t *testing.T) {
	res := &resources.RequiredResources{
		Maps: []resources.MapDef{{ID: 0, Name: "@x", Kind: resources.MapHash}},
	}
	maps := &fakeMaps{entries: map[int][]KV{}}

	clearRaw := append(actionHeader(ActionClear), u64le(0)...)
	zeroRaw := append(actionHeader(ActionZero), u64le(0)...)
	src := &fakeSource{records: []Record{{RawSample: clearRaw}, {RawSample: zeroRaw}}}

	d := New(res, src, NewWriterSink(&bytes.Buffer{}), maps, nil)
	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, []int{0}, maps.cleared)
	require.Equal(t, []int{0}, maps.zeroed)
}

func TestDispatchExitTerminatesAfterCurrentDrain(t *testing.T) {
	res := &resources.RequiredResources{}
	exitRaw := append(actionHeader(ActionExit), u64le(0)...)
	// A second record would prove the loop stopped if it were read.
	src := &fakeSource{records: []Record{{RawSample: exitRaw}, {RawSample: exitRaw}}}

	d := New(res, src, NewWriterSink(&bytes.Buffer{}), nil, nil)
	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, 1, src.i)
}

func TestDispatchWatchpointAttachInstallsAndSuppressesDuplicates(t *testing.T) {
	res := &resources.RequiredResources{Probes: []resources.ProbeInfo{{Index: 1}}}
	attach1 := append(actionHeader(ActionWatchpointAttach), append(append(u64le(1), u64le(0)...), u64le(0x1000)...)...)
	attach2 := append(actionHeader(ActionWatchpointAttach), append(append(u64le(2), u64le(0)...), u64le(0x1000)...)...)
	src := &fakeSource{records: []Record{{RawSample: attach1}, {RawSample: attach2}}}

	a := newFakeAttacherForTest()
	ctrl := watchpoint.New(a)
	d := New(res, src, NewWriterSink(&bytes.Buffer{}), nil, nil,
		WithWatchpointController(ctrl, nil, false))

	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, 1, ctrl.Count())
	require.Equal(t, 1, a.calls)
}

func TestDispatchRuntimeErrorResolvesAgainstTable(t *testing.T) {
	res := &resources.RequiredResources{
		Errors: []resources.RuntimeErrorInfo{{ErrorID: 0, Kind: resources.RuntimeErrMapFull, FuncID: 2}},
	}
	raw := append(actionHeader(ActionRuntimeError), append(u64le(0), u64le(0xffffffff)...)...)
	src := &fakeSource{records: []Record{{RawSample: raw}}}

	d := New(res, src, NewWriterSink(&bytes.Buffer{}), nil, nil)
	require.NoError(t, d.Run(context.Background()))
}

func TestDispatchUnknownActionIDIsNonFatal(t *testing.T) {
	res := &resources.RequiredResources{}
	raw := actionHeader(999)
	src := &fakeSource{records: []Record{{RawSample: raw}}}

	d := New(res, src, NewWriterSink(&bytes.Buffer{}), nil, nil)
	require.NoError(t, d.Run(context.Background()))
}

// fakeAttacherForTest mirrors watchpoint's own test fake; duplicated here
// (unexported in its package) to keep the runtime package's tests free of
// a test-only cross-package dependency.
type fakeAttacherForTest struct {
	calls int
	err   error
}

func newFakeAttacherForTest() *fakeAttacherForTest { return &fakeAttacherForTest{} }

func (f *fakeAttacherForTest) Attach(addr uint64, length int, mode string) error {
	if f.err != nil {
		return f.err
	}
	f.calls++
	return nil
}
func (f *fakeAttacherForTest) Detach(addr uint64) error { return nil }

func TestAggregateValueSumsPerCPUSlabs(t *testing.T) {
	// Four CPUs' worth of count slabs: 3 + 0 + 5 + 2 = 10.
	value := make([]byte, 32)
	binary.LittleEndian.PutUint64(value[0:8], 3)
	binary.LittleEndian.PutUint64(value[16:24], 5)
	binary.LittleEndian.PutUint64(value[24:32], 2)

	if got := aggregateValue(value, true); got != 10 {
		t.Fatalf("per-CPU aggregate = %d, want 10", got)
	}
	if got := aggregateValue(value[:8], false); got != 3 {
		t.Fatalf("shared-map value = %d, want 3", got)
	}
}

func TestRunAbortsOnSafeModeSyscall(t *testing.T) {
	res := &resources.RequiredResources{
		Actions: []resources.ActionSchema{{ActionID: 0, Kind: "system", Format: "reboot"}},
	}
	// A second record proves the loop aborted rather than kept polling.
	src := &fakeSource{records: []Record{{RawSample: actionHeader(0)}, {RawSample: actionHeader(0)}}}

	d := New(res, src, NewWriterSink(&bytes.Buffer{}), nil, nil)
	err := d.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "safe mode")
	require.Equal(t, 1, src.i)
}

func TestRunAbortsOnWatchpointProbeOutOfRange(t *testing.T) {
	res := &resources.RequiredResources{Probes: []resources.ProbeInfo{{Index: 1}}}
	bad := append(actionHeader(ActionWatchpointAttach), append(append(u64le(1), u64le(7)...), u64le(0x2000)...)...)
	src := &fakeSource{records: []Record{{RawSample: bad}}}

	a := newFakeAttacherForTest()
	d := New(res, src, NewWriterSink(&bytes.Buffer{}), nil, nil,
		WithWatchpointController(watchpoint.New(a), nil, false))

	err := d.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, watchpoint.ErrUnknownProbe)
	require.Equal(t, 0, a.calls)
}

func TestRunAbortsOnWatchpointAttachFailure(t *testing.T) {
	res := &resources.RequiredResources{Probes: []resources.ProbeInfo{{Index: 1}}}
	raw := append(actionHeader(ActionWatchpointAttach), append(append(u64le(1), u64le(0)...), u64le(0x3000)...)...)
	src := &fakeSource{records: []Record{{RawSample: raw}}}

	a := newFakeAttacherForTest()
	a.err = errors.New("no free debug register")
	d := New(res, src, NewWriterSink(&bytes.Buffer{}), nil, nil,
		WithWatchpointController(watchpoint.New(a), nil, false))

	err := d.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no free debug register")
}

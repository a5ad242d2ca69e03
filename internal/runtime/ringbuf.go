// ringbuf.go binds the Source and MapReader interfaces to
// github.com/cilium/ebpf: one ringbuf.Reader per ring-buffer map,
// ebpf.Map handles for everything else (print_map/clear/zero and
// per-CPU aggregation reads).
package runtime

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	"github.com/bpftrace-go/bpftrace/internal/resources"
)

// RingbufSource wraps a *ringbuf.Reader as a Source.
type RingbufSource struct {
	rd *ringbuf.Reader
}

// NewRingbufSource opens a ring-buffer reader over m, which must be a
// BPF_MAP_TYPE_RINGBUF map.
func NewRingbufSource(m *ebpf.Map) (*RingbufSource, error) {
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("runtime: opening ring buffer reader: %w", err)
	}
	return &RingbufSource{rd: rd}, nil
}

// Read blocks until a record is available, the configured timeout
// elapses, or the reader is closed.
func (s *RingbufSource) Read() (Record, error) {
	rec, err := s.rd.Read()
	if err != nil {
		if errors.Is(err, ringbuf.ErrClosed) {
			return Record{}, ErrClosed
		}
		return Record{}, err
	}
	return Record{RawSample: rec.RawSample}, nil
}

// Close stops the poll loop's blocking Read.
func (s *RingbufSource) Close() error { return s.rd.Close() }

// EBPFMapReader backs MapReader with live *ebpf.Map handles, keyed by the
// small dense map id the resource analyser assigned in declaration
// order.
type EBPFMapReader struct {
	res  *resources.RequiredResources
	maps map[int]*ebpf.Map
}

// NewEBPFMapReader builds a reader over maps, a name-to-handle table
// produced when the collection was loaded.
func NewEBPFMapReader(res *resources.RequiredResources, maps map[string]*ebpf.Map) (*EBPFMapReader, error) {
	byID := make(map[int]*ebpf.Map, len(res.Maps))
	for _, def := range res.Maps {
		m, ok := maps[def.Name]
		if !ok {
			return nil, fmt.Errorf("runtime: no collection map named %q for declared map id %d", def.Name, def.ID)
		}
		byID[def.ID] = m
	}
	return &EBPFMapReader{res: res, maps: byID}, nil
}

// Iterate drains mapID, cross-CPU-aggregating per-CPU maps at read
// time.
func (r *EBPFMapReader) Iterate(mapID int) ([]KV, error) {
	def, ok := r.res.MapByID(mapID)
	if !ok {
		return nil, fmt.Errorf("runtime: unknown map id %d", mapID)
	}
	m, ok := r.maps[mapID]
	if !ok {
		return nil, fmt.Errorf("runtime: no live handle for map %q", def.Name)
	}

	perCPU := def.Kind == resources.MapPerCPUHash || def.Kind == resources.MapPerCPUArray
	var out []KV
	var key, value []byte
	// cilium/ebpf accepts []byte for raw key/value marshaling; per-CPU
	// maps report one value slab per possible CPU, concatenated.
	it := m.Iterate()
	for it.Next(&key, &value) {
		out = append(out, KV{
			Key:   decodeMapKey(key),
			Value: aggregateValue(value, perCPU),
		})
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("runtime: iterating map %q: %w", def.Name, err)
	}
	return out, nil
}

// Clear removes every entry from mapID. Map kinds whose entries cannot
// be deleted (per-CPU, ringbuf/perfbuf) fall back to Zero, which stores
// zeroed values instead.
func (r *EBPFMapReader) Clear(mapID int) error {
	def, ok := r.res.MapByID(mapID)
	if !ok {
		return fmt.Errorf("runtime: unknown map id %d", mapID)
	}
	m := r.maps[mapID]
	if m == nil {
		return fmt.Errorf("runtime: no live handle for map %q", def.Name)
	}
	if def.Kind == resources.MapPerCPUHash || def.Kind == resources.MapRingbuf || def.Kind == resources.MapPerfEvent {
		return r.Zero(mapID)
	}

	var keys [][]byte
	var key, value []byte
	it := m.Iterate()
	for it.Next(&key, &value) {
		k := append([]byte(nil), key...)
		keys = append(keys, k)
	}
	if err := it.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := m.Delete(k); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
			return fmt.Errorf("runtime: deleting key from %q: %w", def.Name, err)
		}
	}
	return nil
}

// Zero overwrites every entry in mapID with a zero value.
func (r *EBPFMapReader) Zero(mapID int) error {
	def, ok := r.res.MapByID(mapID)
	if !ok {
		return fmt.Errorf("runtime: unknown map id %d", mapID)
	}
	m := r.maps[mapID]
	if m == nil {
		return fmt.Errorf("runtime: no live handle for map %q", def.Name)
	}

	var keys [][]byte
	var key, value []byte
	it := m.Iterate()
	for it.Next(&key, &value) {
		k := append([]byte(nil), key...)
		keys = append(keys, k)
		zeroed := make([]byte, len(value))
		if err := m.Put(k, zeroed); err != nil {
			return fmt.Errorf("runtime: zeroing key in %q: %w", def.Name, err)
		}
	}
	return it.Err()
}

// decodeMapKey renders a raw map key: a short printable string (e.g. a
// comm key) is printed as-is, anything else falls back to an unsigned
// decimal.
func decodeMapKey(key []byte) string {
	if isPrintableASCII(key) {
		return string(trimNulTail(key))
	}
	return fmt.Sprintf("%d", decodeUnsignedInt(padKeyTo8(key)))
}

func isPrintableASCII(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	seenNonZero := false
	for _, c := range b {
		if c == 0 {
			continue
		}
		seenNonZero = true
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return seenNonZero
}

func trimNulTail(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

func padKeyTo8(b []byte) []byte {
	var buf [8]byte
	n := len(b)
	if n > 8 {
		n = 8
	}
	copy(buf[:n], b[:n])
	return buf[:]
}

// aggregateValue sums the per-CPU slab into one scalar; non-per-CPU
// values are decoded as a single little-endian u64.
func aggregateValue(value []byte, perCPU bool) int64 {
	if !perCPU {
		return int64(decodeUnsignedInt(padTo8(value)))
	}
	slab := 8
	var total int64
	for off := 0; off+8 <= len(value); off += slab {
		total += int64(binary.LittleEndian.Uint64(value[off : off+8]))
	}
	return total
}

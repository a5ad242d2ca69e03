package typesys

import "fmt"

// Bitfield is enough information to decode a field with one aligned load,
// one shift, one mask : ReadBytes is the aligned load width,
// AccessRshift the post-load right shift, Mask the final AND.
type Bitfield struct {
	ReadBytes    int
	AccessRshift uint
	Mask         uint64
}

// Field is {name, type, offset, bitfield?, is_data_loc}. IsDataLoc
// marks tracepoint dynamic-string fields : these are rewritten
// to 64-bit integers whose low 16 bits are an offset into the tracepoint
// context, decoded transparently by codegen.
type Field struct {
	Name      string
	Type      SizedType
	Offset    int
	Bitfield  *Bitfield
	IsDataLoc bool
}

// NewBitfield computes {ReadBytes, AccessRshift, Mask} from a C-style
// {byteOffset, bitOffset, width} declaration, so a field can be decoded
// with one aligned load, one shift, and one mask.
//
// byteOffset is the offset of the containing storage unit; bitOffset is
// the bit position within that unit (LSB-origin, matching little-endian
// BPF targets); width is the field's bit width.
func NewBitfield(byteOffset, bitOffset, width int) (Bitfield, error) {
	if width <= 0 || width > 64 {
		return Bitfield{}, fmt.Errorf("typesys: bitfield width %d out of range", width)
	}
	readBytes := alignedLoadWidth(bitOffset + width)
	mask := uint64(1)<<uint(width) - 1
	return Bitfield{
		ReadBytes:    readBytes,
		AccessRshift: uint(bitOffset),
		Mask:         mask,
	}, nil
}

// alignedLoadWidth returns the smallest power-of-two byte width (1,2,4,8)
// whose bit count covers totalBits, matching the aligned-load sizes the
// BPF verifier accepts.
func alignedLoadWidth(totalBits int) int {
	for _, bytes := range []int{1, 2, 4, 8} {
		if bytes*8 >= totalBits {
			return bytes
		}
	}
	return 8
}

// Decode reproduces the bitfield value from the raw bytes of one aligned
// load: shift by AccessRshift, mask by Mask.
func (b Bitfield) Decode(loaded uint64) uint64 {
	return (loaded >> b.AccessRshift) & b.Mask
}

// Registry resolves field accesses against C/BTF/DWARF-derived record
// types. Record layout is cached keyed by type name.
type Registry struct {
	records map[string]SizedType
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]SizedType)}
}

// Define registers a record type, keyed by name. Re-defining a name
// overwrites the cached layout — callers that ingest both user C
// definitions and BTF should define user definitions last so they win.
func (r *Registry) Define(t SizedType) {
	if t.Kind != KindRecord {
		return
	}
	r.records[t.Name] = t
}

// Lookup returns the cached record layout for name.
func (r *Registry) Lookup(name string) (SizedType, bool) {
	t, ok := r.records[name]
	return t, ok
}

// ResolveField looks up field on the named record, returning its full
// Field descriptor (offset, type, bitfield, is_data_loc).
func (r *Registry) ResolveField(recordName, field string) (Field, error) {
	rec, ok := r.records[recordName]
	if !ok {
		return Field{}, fmt.Errorf("typesys: unknown record type %q", recordName)
	}
	for _, f := range rec.Fields {
		if f.Name == field {
			return f, nil
		}
	}
	return Field{}, fmt.Errorf("typesys: record %q has no field %q", recordName, field)
}

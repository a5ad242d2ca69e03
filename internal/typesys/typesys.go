// Package typesys implements the SizedType sum type, record field layout,
// and the bitfield codec. Every non-scalar
// SizedType carries its size in bytes and an address-space tag; integer
// sizes are constrained to the BPF-representable set.
package typesys

import "fmt"

// AddrSpace tags which memory a value lives in, driving the access
// rule codegen picks: direct load/store for BPF-side values,
// probe-read helpers for kernel and user memory.
type AddrSpace int

const (
	AddrNone AddrSpace = iota
	AddrKernel
	AddrUser
)

func (a AddrSpace) String() string {
	switch a {
	case AddrKernel:
		return "kernel"
	case AddrUser:
		return "user"
	default:
		return "none"
	}
}

// Kind discriminates the SizedType sum-type variants.
type Kind int

const (
	KindInt Kind = iota
	KindBool
	KindPtr
	KindString
	KindBuffer
	KindArray
	KindRecord
	KindTuple
	KindStack
	KindMin
	KindMax
	KindAvg
	KindSum
	KindCount
	KindStats
	KindTSeries
	KindNone
	KindVoid
)

// validIntBits is the BPF-representable integer width set.
var validIntBits = map[int]bool{8: true, 16: true, 32: true, 64: true, 128: true}

// SizedType is the type sum. Only the fields relevant to Kind
// are populated; callers switch on Kind before reading variant fields.
type SizedType struct {
	Kind Kind

	// Int
	Bits   int
	Signed bool

	// Ptr
	Pointee  *SizedType
	PtrSpace AddrSpace

	// String / Buffer
	Cap int

	// Array
	Elem *SizedType
	N    int

	// Record
	Name   string
	Fields []Field

	// Tuple
	TupleFields []SizedType

	// Stack
	StackUser  bool // false = kstack, true = ustack
	StackLimit int

	// aggregation detail (Stats/TSeries share this)
	Agg string // "none" | "sum" | "min" | "max" | "avg" — for TSeries buckets

	space AddrSpace
}

// NewInt validates bit width and returns an Int SizedType. Pointer
// BPF-side representation is always 64 bits regardless of target pointer
// width — that rule lives in Ptr below, not here.
func NewInt(bits int, signed bool) (SizedType, error) {
	if !validIntBits[bits] {
		return SizedType{}, fmt.Errorf("typesys: invalid integer width %d bits", bits)
	}
	return SizedType{Kind: KindInt, Bits: bits, Signed: signed}, nil
}

func Bool() SizedType { return SizedType{Kind: KindBool, Bits: 8} }

// NewPtr always reports a 64-bit BPF-side size irrespective of pointee
// size, per: "pointer BPF-side representation is always 64 bits
// regardless of target pointer width."
func NewPtr(pointee SizedType, space AddrSpace) SizedType {
	p := pointee
	return SizedType{Kind: KindPtr, Pointee: &p, PtrSpace: space}
}

func NewString(cap int) SizedType { return SizedType{Kind: KindString, Cap: cap} }

func NewBuffer(cap int) SizedType { return SizedType{Kind: KindBuffer, Cap: cap} }

func NewArray(elem SizedType, n int) SizedType {
	e := elem
	return SizedType{Kind: KindArray, Elem: &e, N: n}
}

func NewRecord(name string, fields []Field) SizedType {
	return SizedType{Kind: KindRecord, Name: name, Fields: fields}
}

func NewTuple(fields []SizedType) SizedType {
	return SizedType{Kind: KindTuple, TupleFields: fields}
}

func NewStack(user bool, limit int) SizedType {
	return SizedType{Kind: KindStack, StackUser: user, StackLimit: limit}
}

func None() SizedType { return SizedType{Kind: KindNone} }
func Void() SizedType { return SizedType{Kind: KindVoid} }

// Each scalar aggregation kind stores a fixed-size struct. Min/Max use
// {value:i64, is_set:u8} padded to 16 bytes so the verifier sees a
// power-of-two-friendly, 8-byte-aligned per-CPU value.
const (
	sizeMinMax   = 16 // {i64 value, u8 is_set, 7 bytes pad}
	sizeSumCount = 8
	sizeAvg      = 16 // {i64 sum, i64 count}
	sizeStats    = 32 // {i64 count, i64 sum, i64 min, i64 max}
)

func NewMin() SizedType   { return SizedType{Kind: KindMin} }
func NewMax() SizedType   { return SizedType{Kind: KindMax} }
func NewAvg() SizedType   { return SizedType{Kind: KindAvg} }
func NewSum() SizedType   { return SizedType{Kind: KindSum} }
func NewCount() SizedType { return SizedType{Kind: KindCount} }
func NewStats() SizedType { return SizedType{Kind: KindStats} }

// NewTSeries is the t-series aggregation: {interval_ns, num_intervals, agg}
// per "detail carries aggregation-specific parameters."
func NewTSeries(intervalNS int64, numIntervals int, agg string) SizedType {
	return SizedType{Kind: KindTSeries, StackLimit: numIntervals, Agg: agg, Bits: 0, N: int(intervalNS)}
}

// Size returns the size in bytes of the BPF-side representation.
func (t SizedType) Size() int {
	switch t.Kind {
	case KindInt:
		return t.Bits / 8
	case KindBool:
		return 1
	case KindPtr:
		return 8
	case KindString:
		return t.Cap
	case KindBuffer:
		return 4 + t.Cap // {len:u32, data[cap]}
	case KindArray:
		if t.Elem == nil {
			return 0
		}
		return t.Elem.Size() * t.N
	case KindRecord:
		size := 0
		for _, f := range t.Fields {
			end := f.Offset + f.Type.Size()
			if end > size {
				size = end
			}
		}
		return size
	case KindTuple:
		size := 0
		for _, f := range t.TupleFields {
			size += f.Size()
		}
		return size
	case KindStack:
		return 8 // {hash:u64}; nr_frames/pid/probe_id are separate event fields
	case KindMin, KindMax:
		return sizeMinMax
	case KindSum, KindCount:
		return sizeSumCount
	case KindAvg:
		return sizeAvg
	case KindStats:
		return sizeStats
	case KindTSeries:
		return sizeStats * t.StackLimit
	default:
		return 0
	}
}

// Space returns the address-space tag.
func (t SizedType) Space() AddrSpace {
	if t.Kind == KindPtr {
		return t.PtrSpace
	}
	return t.space
}

// WithSpace returns a copy of t tagged with the given address space.
func (t SizedType) WithSpace(s AddrSpace) SizedType {
	t.space = s
	return t
}

func (t SizedType) String() string {
	switch t.Kind {
	case KindInt:
		if t.Signed {
			return fmt.Sprintf("int%d", t.Bits)
		}
		return fmt.Sprintf("uint%d", t.Bits)
	case KindBool:
		return "bool"
	case KindPtr:
		return fmt.Sprintf("*%s(%s)", t.Pointee, t.PtrSpace)
	case KindString:
		return fmt.Sprintf("string[%d]", t.Cap)
	case KindBuffer:
		return fmt.Sprintf("buffer[%d]", t.Cap)
	case KindArray:
		return fmt.Sprintf("[%d]%s", t.N, t.Elem)
	case KindRecord:
		return fmt.Sprintf("record %s", t.Name)
	case KindTuple:
		return "tuple"
	case KindStack:
		if t.StackUser {
			return fmt.Sprintf("ustack(%d)", t.StackLimit)
		}
		return fmt.Sprintf("kstack(%d)", t.StackLimit)
	case KindMin:
		return "min"
	case KindMax:
		return "max"
	case KindAvg:
		return "avg"
	case KindSum:
		return "sum"
	case KindCount:
		return "count"
	case KindStats:
		return "stats"
	case KindTSeries:
		return fmt.Sprintf("tseries(%d buckets, agg=%s)", t.StackLimit, t.Agg)
	case KindNone:
		return "none"
	default:
		return "void"
	}
}

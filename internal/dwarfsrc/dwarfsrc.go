// Package dwarfsrc implements the field analyser's FieldSource on top
// of the standard library's debug/dwarf and debug/elf packages. BTF
// lookups shell out to bpftool (see internal/pipeline/btf.go), so this
// package only covers the DWARF side.
package dwarfsrc

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"

	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

// FieldSource is the narrow interface internal/semantic depends on to
// resolve C/BTF/DWARF record types.
type FieldSource interface {
	// Record resolves name to a full SizedType Record, including nested
	// bitfield declarations.
	Record(name string) (typesys.SizedType, error)
}

// ELFSource loads DWARF debug info from an ELF binary (the running
// kernel's vmlinux, or a traced user binary) and exposes it as a
// FieldSource.
type ELFSource struct {
	data *dwarf.Data
}

// Open parses the DWARF sections of the ELF file at path.
func Open(path string) (*ELFSource, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dwarfsrc: open %s: %w", path, err)
	}
	defer f.Close()

	data, err := f.DWARF()
	if err != nil {
		return nil, fmt.Errorf("dwarfsrc: no DWARF data in %s: %w", path, err)
	}
	return &ELFSource{data: data}, nil
}

// Record walks the DWARF type tree for a StructType named `name` and
// converts it into a typesys.SizedType, decoding any DW_TAG_member with
// a DW_AT_bit_size into a typesys.Bitfield.
func (s *ELFSource) Record(name string) (typesys.SizedType, error) {
	reader := s.data.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return typesys.SizedType{}, fmt.Errorf("dwarfsrc: reading DWARF entries: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagStructType {
			continue
		}
		entryName, _ := entry.Val(dwarf.AttrName).(string)
		if entryName != name {
			continue
		}
		return s.convertStruct(reader, entry)
	}
	return typesys.SizedType{}, fmt.Errorf("dwarfsrc: record %q not found", name)
}

func (s *ELFSource) convertStruct(reader *dwarf.Reader, structEntry *dwarf.Entry) (typesys.SizedType, error) {
	var fields []typesys.Field
	for {
		child, err := reader.Next()
		if err != nil {
			return typesys.SizedType{}, err
		}
		if child == nil || child.Tag == 0 {
			break
		}
		if child.Tag != dwarf.TagMember {
			reader.SkipChildren()
			continue
		}

		memberName, _ := child.Val(dwarf.AttrName).(string)
		offset, _ := child.Val(dwarf.AttrDataMemberLoc).(int64)

		fieldType, err := s.resolveMemberType(child)
		if err != nil {
			return typesys.SizedType{}, err
		}

		f := typesys.Field{Name: memberName, Type: fieldType, Offset: int(offset)}

		if bitSize, ok := child.Val(dwarf.AttrBitSize).(int64); ok {
			// DWARF bit-offset is MSB-origin from the storage unit's
			// high end on some producers; codegen assumes the
			// little-endian LSB-origin convention, so normalize here
			// rather than carrying producer-specific semantics into
			// typesys.
			byteSize, _ := child.Val(dwarf.AttrByteSize).(int64)
			dwarfBitOffset, _ := child.Val(dwarf.AttrBitOffset).(int64)
			lsbBitOffset := int(byteSize*8 - dwarfBitOffset - bitSize)
			bf, err := typesys.NewBitfield(int(offset), lsbBitOffset, int(bitSize))
			if err != nil {
				return typesys.SizedType{}, err
			}
			f.Bitfield = &bf
		}

		fields = append(fields, f)
	}
	name, _ := structEntry.Val(dwarf.AttrName).(string)
	return typesys.NewRecord(name, fields), nil
}

// resolveMemberType maps a DWARF base/pointer type to a typesys.SizedType.
// Only the scalar and pointer cases are handled directly; nested structs
// are resolved lazily by name through Record when a field access needs
// them, not eagerly for the whole tree.
func (s *ELFSource) resolveMemberType(member *dwarf.Entry) (typesys.SizedType, error) {
	typeOff, ok := member.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return typesys.None(), nil
	}
	typeEntry, err := s.data.Type(typeOff)
	if err != nil {
		return typesys.None(), err
	}
	switch t := typeEntry.(type) {
	case *dwarf.IntType:
		bits := int(t.ByteSize) * 8
		if bits == 0 {
			bits = 32
		}
		return typesys.NewInt(bits, true)
	case *dwarf.UintType:
		bits := int(t.ByteSize) * 8
		if bits == 0 {
			bits = 32
		}
		return typesys.NewInt(bits, false)
	case *dwarf.BoolType:
		return typesys.Bool(), nil
	case *dwarf.PtrType:
		pointee := typesys.Void()
		return typesys.NewPtr(pointee, typesys.AddrKernel), nil
	case *dwarf.StructType:
		return typesys.NewRecord(t.StructName, nil), nil
	default:
		return typesys.None(), nil
	}
}

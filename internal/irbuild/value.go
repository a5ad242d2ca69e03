package irbuild

// Arith emits a two-operand integer arithmetic instruction (add/sub/mul/
// and/or/xor/shl/lshr) at the given bit width.
func (b *Builder) Arith(op, lhs, rhs string, bits int) string {
	dst := b.nextReg()
	b.emit("%s = %s i%d %s, %s", dst, op, bits, lhs, rhs)
	return dst
}

// Compare emits an icmp with the given predicate (eq/ne/slt/sle/sgt/sge/
// ult/...), returning an i1 register.
func (b *Builder) Compare(pred, lhs, rhs string, bits int) string {
	dst := b.nextReg()
	b.emit("%s = icmp %s i%d %s, %s", dst, pred, bits, lhs, rhs)
	return dst
}

// Shr emits a logical right shift by a compile-time-constant amount,
// backing bitfield decode and the pid/uid builtins' high-word
// extraction out of a packed 64-bit pidtgid/uidgid pair.
func (b *Builder) Shr(value string, amount uint) string {
	dst := b.nextReg()
	b.emit("%s = lshr i64 %s, %d", dst, value, amount)
	return dst
}

// AndConst emits a bitwise AND against a compile-time-constant mask,
// backing bitfield decode and the pid/uid builtins' low-word extraction.
func (b *Builder) AndConst(value string, mask uint64) string {
	dst := b.nextReg()
	b.emit("%s = and i64 %s, %d", dst, value, mask)
	return dst
}

// MaskLow16 extracts the low 16 bits of value, the is_data_loc decode
// rule: the low half-word is an offset into the tracepoint context.
func (b *Builder) MaskLow16(value string) string {
	return b.AndConst(value, 0xFFFF)
}

// GEPByte computes a byte-offset pointer from base, the general form of
// the field-offset addressing every record/struct access lowers through.
func (b *Builder) GEPByte(base string, offset int) string {
	if offset == 0 {
		return base
	}
	dst := b.nextReg()
	b.emit("%s = getelementptr i8, ptr %s, i64 %d", dst, base, offset)
	return dst
}

// GEPReg computes a byte-offset pointer from base using a runtime-valued
// offset register, used to rebase a tracepoint is_data_loc field onto the
// context buffer it names.
func (b *Builder) GEPReg(base, offsetReg string) string {
	dst := b.nextReg()
	b.emit("%s = getelementptr i8, ptr %s, i64 %s", dst, base, offsetReg)
	return dst
}

// IsNull reports whether ptr is the null pointer returned by a failed
// map_lookup_elem.
func (b *Builder) IsNull(ptr string) string {
	dst := b.nextReg()
	b.emit("%s = icmp eq ptr %s, null", dst, ptr)
	return dst
}

// SelectPtr picks onNull or ptr depending on cond, the branch-free
// fallback codegen uses to route a failed lookup to a zeroed scratch
// buffer instead of dereferencing null.
func (b *Builder) SelectPtr(cond, onNull, ptr string) string {
	dst := b.nextReg()
	b.emit("%s = select i1 %s, ptr %s, ptr %s", dst, cond, onNull, ptr)
	return dst
}

// GetCurrentTask emits bpf_get_current_task, backing the curtask builtin.
func (b *Builder) GetCurrentTask() string {
	return b.CallHelper("ptr", helperID.GetCurrentTask)
}

// GetRegCS reads the cs selector out of the probe's trapped pt_regs,
// backing the usermode builtin on x86_64 (cs & 3 != 0 iff ring 3).
func (b *Builder) GetRegCS() string {
	ptr := b.nextReg()
	b.emit("%s = getelementptr i8, ptr %%ctx, i64 %d", ptr, ptRegsCSOffsetAMD64)
	return b.Load("i64", ptr)
}

// ptRegsCSOffsetAMD64 is struct pt_regs::cs's byte offset on x86_64.
const ptRegsCSOffsetAMD64 = 136

package irbuild

// AllocaStore emits a stack allocation of irType initialized to value and
// returns the pointer register. This is the on-stack allocation path,
// used for values under the configured on-stack limit; larger values go
// through the per-CPU scratch maps in scratch.go.
func (b *Builder) AllocaStore(irType, value string) string {
	ptr := b.nextReg()
	b.emit("%s = alloca %s", ptr, irType)
	b.emit("store %s %s, ptr %s", irType, value, ptr)
	return ptr
}

// Load emits a typed load from ptr.
func (b *Builder) Load(irType, ptr string) string {
	dst := b.nextReg()
	b.emit("%s = load %s, ptr %s", dst, irType, ptr)
	return dst
}

// CallStatic emits a direct call to an already-emitted static function
// (an inlined helper such as @bpftrace.log2 or a for-range/for-map
// callback), in contrast to CallHelper's inttoptr-cast kernel-helper
// shape.
func (b *Builder) CallStatic(retType, fn string, args ...string) string {
	dst := ""
	prefix := ""
	if retType != "void" {
		dst = b.nextReg()
		prefix = dst + " = "
	}
	b.emit("%scall %s %s(%s)", prefix, retType, fn, joinTypedArgs(args))
	return dst
}

func joinTypedArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		out += "i64 " + a
	}
	return out
}

// IncrementI64 loads an i64 at ptr, adds delta, and stores it back:
// count's single atomic-free RMW on a per-CPU value.
func (b *Builder) IncrementI64(ptr string, delta int64) string {
	cur := b.Load("i64", ptr)
	next := b.nextReg()
	b.emit("%s = add i64 %s, %d", next, cur, delta)
	b.emit("store i64 %s, ptr %s", next, ptr)
	return next
}

// IncrementI64At increments the i64 field at byte offset off within the
// struct pointed to by ptr.
func (b *Builder) IncrementI64At(ptr string, off int) string {
	field := b.fieldPtr(ptr, off)
	cur := b.Load("i64", field)
	next := b.nextReg()
	b.emit("%s = add i64 %s, 1", next, cur)
	b.emit("store i64 %s, ptr %s", next, field)
	return next
}

// AddI64At adds value to the i64 field at byte offset off.
func (b *Builder) AddI64At(ptr string, off int, value string) string {
	field := b.fieldPtr(ptr, off)
	cur := b.Load("i64", field)
	next := b.nextReg()
	b.emit("%s = add i64 %s, %s", next, cur, value)
	b.emit("store i64 %s, ptr %s", next, field)
	return next
}

func (b *Builder) fieldPtr(structPtr string, off int) string {
	if off == 0 {
		return structPtr
	}
	dst := b.nextReg()
	b.emit("%s = getelementptr i8, ptr %s, i64 %d", dst, structPtr, off)
	return dst
}

// StoreByte stores a single literal byte at ptr+offset — used to
// pre-poison a scratch string buffer's truncation-marker byte and to pack
// scalar async-action arguments into a payload struct one field at a time.
func (b *Builder) StoreByte(ptr string, offset int, value byte) {
	field := b.fieldPtr(ptr, offset)
	b.emit("store i8 %d, ptr %s", value, field)
}

// StoreAt stores value, already formatted as an irType operand, at
// ptr+offset — the general field-store counterpart to GEPByte/fieldPtr
// addressing.
func (b *Builder) StoreAt(irType, ptr string, offset int, value string) {
	field := b.fieldPtr(ptr, offset)
	b.emit("store %s %s, ptr %s", irType, value, field)
}

// MemcpyBytes copies size bytes from src to dst via the llvm.memcpy
// intrinsic, used to pack a string/buffer-valued async-action argument's
// bytes into its payload slot.
func (b *Builder) MemcpyBytes(dst, src string, size int) {
	b.DeclareExternal("declare void @llvm.memcpy.p0.p0.i64(ptr, ptr, i64, i1)")
	b.emit("call void @llvm.memcpy.p0.p0.i64(ptr %s, ptr %s, i64 %d, i1 false)", dst, src, size)
}

// MinMaxUpdate lowers an unkeyed min/max update against a
// {value:i64, is_set:u8} struct; aggregation treats unset entries as
// identity.
func (b *Builder) MinMaxUpdate(ptr, value string, isMin bool) {
	b.MinMaxAt(ptr, 0, value, isMin)
}

// MinMaxAt lowers a min/max update against a struct field starting at
// byte offset off, used both by the standalone min/max map value and
// by stats's combined {count,sum,min,max} layout.
func (b *Builder) MinMaxAt(ptr string, off int, value string, isMin bool) {
	field := b.fieldPtr(ptr, off)
	isSetPtr := b.fieldPtr(ptr, off+8)
	isSet := b.Load("i8", isSetPtr)
	wasSet := b.nextReg()
	b.emit("%s = icmp ne i8 %s, 0", wasSet, isSet)

	cur := b.Load("i64", field)
	op := "icmp slt"
	if !isMin {
		op = "icmp sgt"
	}
	better := b.nextReg()
	b.emit("%s = %s i64 %s, %s", better, op, value, cur)

	shouldReplace := b.nextReg()
	b.emit("%s = select i1 %s, i1 %s, i1 true", shouldReplace, wasSet, better)

	next := b.nextReg()
	b.emit("%s = select i1 %s, i64 %s, i64 %s", next, shouldReplace, value, cur)
	b.emit("store i64 %s, ptr %s", next, field)
	b.emit("store i8 1, ptr %s", isSetPtr)
}

// IncrementBucket increments the i64 counter at histogram bucket index
// bucket within the value struct at ptr (hist/lhist's update).
func (b *Builder) IncrementBucket(ptr, bucket string) {
	elemPtr := b.nextReg()
	b.emit("%s = getelementptr i64, ptr %s, i64 %s", elemPtr, ptr, bucket)
	b.IncrementI64At(elemPtr, 0)
}

// DivConst divides value by a nonzero compile-time constant c.
func (b *Builder) DivConst(value string, c int64) string {
	dst := b.nextReg()
	b.emit("%s = udiv i64 %s, %d", dst, value, c)
	return dst
}

// ModConst reduces value modulo a nonzero compile-time constant c.
func (b *Builder) ModConst(value string, c int64) string {
	dst := b.nextReg()
	b.emit("%s = urem i64 %s, %d", dst, value, c)
	return dst
}

// TSeriesApply lowers the t-series update rule: if the stored epoch
// differs from the current one, reset the bucket before applying the
// bucket's aggregation (none|sum|min|max|avg). ptr points at the map
// value ({epoch:i64, buckets[num_intervals]} struct); bucket selects the
// slot.
func (b *Builder) TSeriesApply(ptr, epoch, bucket, agg, value string) {
	epochPtr := b.fieldPtr(ptr, 0)
	stored := b.Load("i64", epochPtr)
	stale := b.nextReg()
	b.emit("%s = icmp ne i64 %s, %s", stale, stored, epoch)

	resetLabel := b.NextLabel("tseries.reset")
	applyLabel := b.NextLabel("tseries.apply")
	b.CondBr(stale, resetLabel, applyLabel)

	b.Label(resetLabel)
	b.emit("store i64 %s, ptr %s", epoch, epochPtr)
	bucketBase := b.nextReg()
	b.emit("%s = getelementptr i64, ptr %s, i64 8", bucketBase, ptr)
	slot := b.nextReg()
	b.emit("%s = getelementptr i64, ptr %s, i64 %s", slot, bucketBase, bucket)
	b.emit("store i64 0, ptr %s", slot)
	b.Br(applyLabel)

	b.Label(applyLabel)
	bucketBase2 := b.nextReg()
	b.emit("%s = getelementptr i64, ptr %s, i64 8", bucketBase2, ptr)
	slot2 := b.nextReg()
	b.emit("%s = getelementptr i64, ptr %s, i64 %s", slot2, bucketBase2, bucket)
	switch agg {
	case "sum", "":
		b.AddI64At(slot2, 0, value)
	case "min":
		b.MinMaxAt(slot2, 0, value, true)
	case "max":
		b.MinMaxAt(slot2, 0, value, false)
	case "avg", "none":
		b.emit("store i64 %s, ptr %s", value, slot2)
	default:
		b.emit("store i64 %s, ptr %s ; unknown tseries agg %q treated as overwrite", value, slot2, agg)
	}
}

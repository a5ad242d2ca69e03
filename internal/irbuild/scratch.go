package irbuild

import "fmt"

// MaxCPUMask returns the verifier-provable CPU mask for numCPUs. The
// mask must be one less than a power of two so the verifier can prove
// boundedness: round numCPUs up to the next power of two, subtract one.
func MaxCPUMask(numCPUs int) uint32 {
	if numCPUs <= 1 {
		return 0
	}
	n := uint32(numCPUs - 1)
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n
}

// ScratchSlot emits the access sequence for a value that exceeded the
// configured on-stack limit and must live in a per-CPU scratch map
// indexed by (cpu_id & max_cpu_mask, slot_id). The mask form is what
// lets the verifier prove boundedness. scratchMap is the
// already-declared global for this scratch kind
// (tuple/string/map_key/map_value); slotID distinguishes concurrent
// scratch users of the same kind within one probe body. Returns the
// looked-up value pointer, or "null" if the lookup failed; callers
// branch on that.
func (b *Builder) ScratchSlot(scratchMap string, slotID int, maxCPUMask uint32) string {
	cpu := b.GetSmpProcessorID()
	masked := b.nextReg()
	b.emit("%s = and i64 %s, %d", masked, cpu, maxCPUMask)

	keyPtr := b.nextReg()
	b.emit("%s = alloca i64", keyPtr)
	b.emit("store i64 %s, ptr %s", masked, keyPtr)
	_ = slotID // slot disambiguation folds into the scratch array's second dimension at the caller

	return b.MapLookup(scratchMap, keyPtr)
}

// RecursionCheckEntry emits the per-CPU recursion guard's entry half:
// set a per-CPU byte atomically via exchange; on prior-set, increment
// the event-loss counter and return early. lossMap is the global
// loss-counter map; flagMap is the per-CPU recursion-flag map.
func (b *Builder) RecursionCheckEntry(flagMap, lossMap string, exitLabel, continueLabel string) {
	cpu := b.GetSmpProcessorID()
	keyPtr := b.nextReg()
	b.emit("%s = alloca i64", keyPtr)
	b.emit("store i64 %s, ptr %s", cpu, keyPtr)

	flagPtr := b.MapLookup(flagMap, keyPtr)
	isNull := b.nextReg()
	b.emit("%s = icmp eq ptr %s, null", isNull, flagPtr)

	setLabel := b.NextLabel("recursion.set")
	checkLabel := b.NextLabel("recursion.check")
	b.CondBr(isNull, setLabel, checkLabel)

	b.Label(checkLabel)
	prior := b.nextReg()
	b.emit("%s = atomicrmw xchg ptr %s, i8 1 seq_cst", prior, flagPtr)
	wasSet := b.nextReg()
	b.emit("%s = icmp ne i8 %s, 0", wasSet, prior)
	lossBranch := b.NextLabel("recursion.loss")
	b.CondBr(wasSet, lossBranch, continueLabel)

	b.Label(lossBranch)
	b.incrementCounter(lossMap)
	b.Br(exitLabel)

	b.Label(setLabel)
	b.Br(continueLabel)
}

// RecursionCheckExit clears the per-CPU recursion flag on probe exit.
func (b *Builder) RecursionCheckExit(flagMap string) {
	cpu := b.GetSmpProcessorID()
	keyPtr := b.nextReg()
	b.emit("%s = alloca i64", keyPtr)
	b.emit("store i64 %s, ptr %s", cpu, keyPtr)
	flagPtr := b.MapLookup(flagMap, keyPtr)
	b.emit("store atomic i8 0, ptr %s seq_cst", flagPtr)
}

func (b *Builder) incrementCounter(mapGlobal string) {
	keyPtr := b.nextReg()
	b.emit("%s = alloca i32", keyPtr)
	b.emit("store i32 0, ptr %s", keyPtr)
	valPtr := b.MapLookup(mapGlobal, keyPtr)
	cur := b.nextReg()
	b.emit("%s = load i64, ptr %s", cur, valPtr)
	next := b.nextReg()
	b.emit("%s = add i64 %s, 1", next, cur)
	b.emit("store i64 %s, ptr %s", next, valPtr)
}

// DivSafe lowers a divide/modulo whose divisor is not known non-zero
// at compile time: a zero divisor is surfaced as a runtime error and
// the result coerced to 1 so the program stays valid for the verifier.
// errEmit, if non-nil, is invoked on the zero-divisor path to emit the
// runtime_error async action as a side effect.
func (b *Builder) DivSafe(op, lhs, rhs string, bits int, errEmit func()) string {
	isZero := b.nextReg()
	b.emit("%s = icmp eq i%d %s, 0", isZero, bits, rhs)

	zeroLabel := b.NextLabel("divzero")
	okLabel := b.NextLabel("divok")
	doneLabel := b.NextLabel("divdone")
	b.CondBr(isZero, zeroLabel, okLabel)

	b.Label(zeroLabel)
	if errEmit != nil {
		errEmit()
	}
	b.Br(doneLabel)

	b.Label(okLabel)
	coerced := fmt.Sprintf("select i1 %s, i%d 1, i%d %s", isZero, bits, bits, rhs)
	safeRhs := b.nextReg()
	b.emit("%s = %s", safeRhs, coerced)
	result := b.nextReg()
	b.emit("%s = %s i%d %s, %s", result, op, bits, lhs, safeRhs)
	b.Br(doneLabel)

	b.Label(doneLabel)
	phi := b.nextReg()
	b.emit("%s = phi i%d [ 1, %%%s ], [ %s, %%%s ]", phi, bits, zeroLabel, result, okLabel)
	return phi
}

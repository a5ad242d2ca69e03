package irbuild

import "fmt"

// emitOnce tracks which inlined helper routines (log2, linear,
// murmur2, ...) have already been emitted into this module, so
// multi-use scripts (e.g. two hist calls) don't duplicate the static
// function.
func (b *Builder) emitOnce(key, irFunc string) {
	if b.declared["inline:"+key] {
		return
	}
	b.declared["inline:"+key] = true
	b.globals.WriteString(irFunc)
	b.globals.WriteString("\n")
}

// EmitLog2 emits the static log2 bucket-index routine used by hist:
// 0 for negative values, 1+log2 otherwise. Written as an unrolled
// binary-search shift-count, the conventional BPF-verifier-friendly
// log2 implementation (no loops, bounded shifts).
func (b *Builder) EmitLog2() {
	b.emitOnce("log2", `define internal i64 @bpftrace.log2(i64 %v) {
entry:
 %is_neg = icmp slt i64 %v, 0
 br i1 %is_neg, label %neg, label %pos
neg:
 ret i64 0
pos:
 %u = call i64 @bpftrace.log2.unsigned(i64 %v)
 %r = add i64 %u, 1
 ret i64 %r
}

define internal i64 @bpftrace.log2.unsigned(i64 %v) {
entry:
 %s0 = icmp uge i64 %v, 4294967296
 %v0 = select i1 %s0, i64 32, i64 0
 %x0 = lshr i64 %v, %v0
 %s1 = icmp uge i64 %x0, 65536
 %v1 = select i1 %s1, i64 16, i64 0
 %x1 = lshr i64 %x0, %v1
 %s2 = icmp uge i64 %x1, 256
 %v2 = select i1 %s2, i64 8, i64 0
 %x2 = lshr i64 %x1, %v2
 %s3 = icmp uge i64 %x2, 16
 %v3 = select i1 %s3, i64 4, i64 0
 %x3 = lshr i64 %x2, %v3
 %s4 = icmp uge i64 %x3, 4
 %v4 = select i1 %s4, i64 2, i64 0
 %x4 = lshr i64 %x3, %v4
 %s5 = icmp uge i64 %x4, 2
 %v5 = select i1 %s5, i64 1, i64 0
 %sum0 = add i64 %v0, %v1
 %sum1 = add i64 %sum0, %v2
 %sum2 = add i64 %sum1, %v3
 %sum3 = add i64 %sum2, %v4
 %sum4 = add i64 %sum3, %v5
 ret i64 %sum4
}`)
}

// EmitLinear emits the static linear-histogram bucket routine: bucket =
// clamp((v - min) / step, 0, (max-min)/step + 1) — the two out-of-range
// buckets collect underflow/overflow, matching bpftrace's own lhist.
func (b *Builder) EmitLinear() {
	b.emitOnce("linear", `define internal i64 @bpftrace.linear(i64 %v, i64 %min, i64 %max, i64 %step) {
entry:
 %below = icmp slt i64 %v, %min
 br i1 %below, label %under, label %check_above
under:
 ret i64 0
check_above:
 %above = icmp sgt i64 %v, %max
 br i1 %above, label %over, label %bucket
bucket:
 %rel = sub i64 %v, %min
 %idx = sdiv i64 %rel, %step
 %r = add i64 %idx, 1
 ret i64 %r
over:
 %span = sub i64 %max, %min
 %nbuckets = sdiv i64 %span, %step
 %last = add i64 %nbuckets, 2
 ret i64 %last
}`)
}

// EmitStrncmp emits the inline strncmp routine: compares up to
// min(n, sizeof(a), sizeof(b)), early-exits on first mismatch or NUL,
// returns i64 1 for equal and 0 otherwise.
func (b *Builder) EmitStrncmp() {
	b.emitOnce("strncmp", `define internal i64 @bpftrace.strncmp(ptr %a, ptr %b, i64 %n) {
entry:
 br label %loop.head
loop.head:
 %i = phi i64 [ 0, %entry ], [ %i.next, %loop.body ]
 %done = icmp uge i64 %i, %n
 br i1 %done, label %loop.equal, label %loop.body
loop.body:
 %pa = getelementptr i8, ptr %a, i64 %i
 %pb = getelementptr i8, ptr %b, i64 %i
 %ca = load i8, ptr %pa
 %cb = load i8, ptr %pb
 %neq = icmp ne i8 %ca, %cb
 br i1 %neq, label %loop.notequal, label %check.nul
check.nul:
 %azero = icmp eq i8 %ca, 0
 br i1 %azero, label %loop.equal, label %loop.continue
loop.continue:
 %i.next = add i64 %i, 1
 br label %loop.head
loop.equal:
 ret i64 1
loop.notequal:
 ret i64 0
}`)
}

// EmitStrcontains emits the inline strcontains routine: a bounded
// substring search over two scratch buffers, returning 1 i64 if needle
// occurs within haystack's first hlen bytes, 0 otherwise.
func (b *Builder) EmitStrcontains() {
	b.EmitStrncmp()
	b.emitOnce("strcontains", `define internal i64 @bpftrace.strcontains(ptr %haystack, i64 %hlen, ptr %needle, i64 %nlen) {
entry:
 br label %outer.head
outer.head:
 %i = phi i64 [ 0, %entry ], [ %i.next, %outer.continue ]
 %space = sub i64 %hlen, %i
 %fits = icmp sge i64 %space, %nlen
 br i1 %fits, label %inner.entry, label %outer.notfound
inner.entry:
 %base = getelementptr i8, ptr %haystack, i64 %i
 %cmp = call i64 @bpftrace.strncmp(ptr %base, ptr %needle, i64 %nlen)
 %matched = icmp eq i64 %cmp, 1
 br i1 %matched, label %outer.found, label %outer.continue
outer.continue:
 %i.next = add i64 %i, 1
 br label %outer.head
outer.found:
 ret i64 1
outer.notfound:
 ret i64 0
}`)
}

// EmitMurmurHash2 emits the 64-bit MurmurHash2 routine used to hash
// captured stack frames (seed=1, result 0 remapped to 1 to reserve
// zero). The routine processes frames 8 bytes at a time; nr is the
// frame count, not byte length.
func (b *Builder) EmitMurmurHash2() {
	const m = uint64(0xc6a4a7935bd1e995)
	const r = 47
	b.emitOnce("murmur2", fmt.Sprintf(`define internal i64 @bpftrace.murmur2(ptr %%frames, i64 %%nr) {
entry:
 %%h0 = xor i64 1, %%nr
 br label %%loop.head
loop.head:
 %%i = phi i64 [ 0, %%entry ], [ %%i.next, %%loop.body ]
 %%h = phi i64 [ %%h0, %%entry ], [ %%h.next, %%loop.body ]
 %%done = icmp uge i64 %%i, %%nr
 br i1 %%done, label %%loop.exit, label %%loop.body
loop.body:
 %%ptr = getelementptr i64, ptr %%frames, i64 %%i
 %%k = load i64, ptr %%ptr
 %%k1 = mul i64 %%k, %d
 %%k2 = lshr i64 %%k1, %d
 %%k3 = xor i64 %%k1, %%k2
 %%k4 = mul i64 %%k3, %d
 %%h1 = xor i64 %%h, %%k4
 %%h.next = mul i64 %%h1, %d
 %%i.next = add i64 %%i, 1
 br label %%loop.head
loop.exit:
 %%h2 = lshr i64 %%h, %d
 %%h3 = xor i64 %%h, %%h2
 %%h4 = mul i64 %%h3, %d
 %%h5 = lshr i64 %%h4, %d
 %%h6 = xor i64 %%h4, %%h5
 %%is_zero = icmp eq i64 %%h6, 0
 %%result = select i1 %%is_zero, i64 1, i64 %%h6
 ret i64 %%result
}`, m, r, m, m, r, m, r))
}

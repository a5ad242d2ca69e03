// ptrace.go implements a linux/amd64 hardware-breakpoint Attacher over
// golang.org/x/sys/unix's PTRACE_POKEUSER/PTRACE_PEEKUSER: suspend the
// tracee, poke its debug registers, resume. Other architectures have no
// debug register layout here; see the Controller doc for the fallback.
package watchpoint

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// debugRegOffset is offsetof(struct user, u_debugreg) in the x86_64
// ptrace(2) PTRACE_PEEKUSER/PTRACE_POKEUSER address space.
const debugRegOffset = 848

const maxHWBreakpoints = 4

// PtraceAttacher installs hardware watchpoints on a stopped tracee's
// debug registers. The tracee must already be ptrace-attached and
// stopped (Controller.Stop does this) before Attach/Detach are called.
type PtraceAttacher struct {
	pid   int
	slots [maxHWBreakpoints]uint64 // 0 means free
}

// NewPtraceAttacher builds an attacher for the given tracee pid.
func NewPtraceAttacher(pid int) *PtraceAttacher {
	return &PtraceAttacher{pid: pid}
}

var _ Attacher = (*PtraceAttacher)(nil)

// Attach installs addr in the first free debug-register slot (DR0-DR3),
// encoding length and mode into the matching DR7 LEN/R-W fields.
func (p *PtraceAttacher) Attach(addr uint64, length int, mode string) error {
	slot := -1
	for i, a := range p.slots {
		if a == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("watchpoint: no free hardware breakpoint slot (max %d)", maxHWBreakpoints)
	}
	l, err := lenBits(length)
	if err != nil {
		return err
	}
	rw, err := rwBits(mode)
	if err != nil {
		return err
	}

	if err := p.pokeReg(slot, addr); err != nil {
		return fmt.Errorf("watchpoint: writing DR%d: %w", slot, err)
	}

	dr7, err := p.peekDR7()
	if err != nil {
		return err
	}
	dr7 |= 1 << (uint(slot) * 2) // local-enable bit for this slot
	shift := 16 + uint(slot)*4
	dr7 &^= uint64(0xf) << shift
	dr7 |= (rw | l<<2) << shift
	if err := p.pokeDR7(dr7); err != nil {
		return err
	}

	p.slots[slot] = addr
	return nil
}

// Detach clears whichever slot currently watches addr.
func (p *PtraceAttacher) Detach(addr uint64) error {
	for i, a := range p.slots {
		if a != addr {
			continue
		}
		dr7, err := p.peekDR7()
		if err != nil {
			return err
		}
		dr7 &^= 1 << (uint(i) * 2)
		if err := p.pokeDR7(dr7); err != nil {
			return err
		}
		p.slots[i] = 0
		return nil
	}
	return fmt.Errorf("watchpoint: address %#x not attached", addr)
}

func (p *PtraceAttacher) pokeReg(slot int, value uint64) error {
	return pokeUser(p.pid, debugRegOffset+uintptr(slot)*8, value)
}

func (p *PtraceAttacher) peekDR7() (uint64, error) {
	v, err := peekUser(p.pid, debugRegOffset+7*8)
	if err != nil {
		return 0, fmt.Errorf("watchpoint: reading DR7: %w", err)
	}
	return v, nil
}

func (p *PtraceAttacher) pokeDR7(v uint64) error {
	if err := pokeUser(p.pid, debugRegOffset+7*8, v); err != nil {
		return fmt.Errorf("watchpoint: writing DR7: %w", err)
	}
	return nil
}

// lenBits encodes a watch length into the DR7 LEN field.
func lenBits(length int) (uint64, error) {
	switch length {
	case 1:
		return 0b00, nil
	case 2:
		return 0b01, nil
	case 8:
		return 0b10, nil
	case 4:
		return 0b11, nil
	default:
		return 0, fmt.Errorf("watchpoint: unsupported length %d (want 1, 2, 4, or 8)", length)
	}
}

// rwBits encodes a watch mode into the DR7 R/W field. x86 has no
// write-only-vs-read-only distinction for data breakpoints finer than
// "write" or "read-or-write", so "r" and "rw" both map to the same bits.
func rwBits(mode string) (uint64, error) {
	switch mode {
	case "r", "rw":
		return 0b11, nil
	case "w":
		return 0b01, nil
	case "x":
		return 0b00, nil
	default:
		return 0, fmt.Errorf("watchpoint: unsupported mode %q", mode)
	}
}

func pokeUser(pid int, addr uintptr, value uint64) error {
	var buf [8]byte
	putLE64(buf[:], value)
	_, err := unix.PtracePokeUser(pid, addr, buf[:])
	return err
}

func peekUser(pid int, addr uintptr) (uint64, error) {
	var buf [8]byte
	_, err := unix.PtracePeekUser(pid, addr, buf[:])
	if err != nil {
		return 0, err
	}
	return getLE64(buf[:]), nil
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getLE64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

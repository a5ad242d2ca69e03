// Package elfcheck validates that an output file is a well-formed eBPF ELF object.
package elfcheck

import (
	"debug/elf"
	"fmt"

	"github.com/bpftrace-go/bpftrace/internal/diag"
)

// Validate opens the ELF at path and checks that it meets the minimum
// requirements for a BPF object: 64-bit class, EM_BPF machine, at least
// one executable program section, and at least one symbol.
func Validate(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return &diag.Error{Stage: diag.StageValidate, Err: err,
			Hint: "output is not a readable ELF object"}
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 {
		return &diag.Error{Stage: diag.StageValidate,
			Err:  fmt.Errorf("expected ELFCLASS64, got %s", f.Class),
			Hint: "use llc with BPF target"}
	}

	if f.Machine != elf.EM_BPF {
		return &diag.Error{Stage: diag.StageValidate,
			Err:  fmt.Errorf("expected machine %s, got %s", elf.EM_BPF, f.Machine),
			Hint: "ensure llc uses -march=bpf"}
	}

	hasCode := false
	for _, s := range f.Sections {
		if s.Type == elf.SHT_PROGBITS && (s.Flags&elf.SHF_EXECINSTR) != 0 {
			hasCode = true
			break
		}
	}
	if !hasCode {
		return &diag.Error{Stage: diag.StageValidate,
			Err:  fmt.Errorf("missing executable program section"),
			Hint: "verify input IR contains at least one BPF program function section"}
	}

	syms, err := f.Symbols()
	if err == nil && len(syms) == 0 {
		return &diag.Error{Stage: diag.StageValidate,
			Err:  fmt.Errorf("object contains no symbols"),
			Hint: "expected at least one global function symbol for a BPF program"}
	}

	return nil
}

// ProgramSections returns the executable section name for every global
// function symbol in the object, keyed by symbol name. Callers pair it
// with pipeline.ValidateProgramType to check that a built object carries
// only the probe kinds a run expects.
func ProgramSections(path string) (map[string]string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, &diag.Error{Stage: diag.StageValidate, Err: err,
			Hint: "object is not a readable ELF"}
	}
	defer func() { _ = f.Close() }()

	syms, err := f.Symbols()
	if err != nil {
		return nil, &diag.Error{Stage: diag.StageValidate, Err: err,
			Hint: "object carries no symbol table"}
	}

	out := make(map[string]string)
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
			continue
		}
		if int(sym.Section) < 0 || int(sym.Section) >= len(f.Sections) {
			continue
		}
		sec := f.Sections[sym.Section]
		if sec.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		out[sym.Name] = sec.Name
	}
	return out, nil
}

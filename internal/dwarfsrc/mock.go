package dwarfsrc

import (
	"fmt"

	"github.com/bpftrace-go/bpftrace/internal/typesys"
)

// Mock is an in-memory FieldSource for tests and for scripts compiled
// against user-supplied C struct definitions rather than a live binary's
// DWARF.
type Mock struct {
	records map[string]typesys.SizedType
}

func NewMock() *Mock { return &Mock{records: map[string]typesys.SizedType{}} }

func (m *Mock) Define(t typesys.SizedType) { m.records[t.Name] = t }

func (m *Mock) Record(name string) (typesys.SizedType, error) {
	t, ok := m.records[name]
	if !ok {
		return typesys.SizedType{}, fmt.Errorf("dwarfsrc: record %q not found", name)
	}
	return t, nil
}

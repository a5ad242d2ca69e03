// Package config holds the numeric knobs and safety flags that drive both
// the compiler (internal/codegen scratch-allocation decisions) and the
// runtime (internal/runtime, internal/watchpoint): a safe-mode flag
// gating the syscall action, a debug-output flag gating trace-printk
// emission, and the max_cat_bytes/max_strlen/on_stack_limit/perf_rb_pages
// numeric knobs consumed by codegen and runtime.
//
// Config loads from a JSON file the same way internal/llvm's tool
// configuration does.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Defaults mirror bpftrace's own defaults for these knobs.
const (
	DefaultMaxCatBytes  = 10240
	DefaultMaxStrlen    = 64
	DefaultOnStackLimit = 512
	DefaultPerfRBPages  = 64
)

// Config is the process-wide, immutable-once-loaded knob set threaded
// through the compiler and runtime.
type Config struct {
	// MaxCatBytes bounds the cat async action's file copy.
	MaxCatBytes int `json:"max_cat_bytes"`
	// MaxStrlen bounds str/buf scratch buffers.
	MaxStrlen int `json:"max_strlen"`
	// OnStackLimit is the scratch allocation policy threshold: allocations
	// at or under this size stay on the BPF stack; larger ones spill to a
	// per-CPU scratch map.
	OnStackLimit int `json:"on_stack_limit"`
	// PerfRBPages sizes the ring buffer map in pages.
	PerfRBPages int `json:"perf_rb_pages"`
	// SafeMode gates the syscall async action; reject unless --unsafe.
	SafeMode bool `json:"safe_mode"`
	// Debug gates trace-printk emission in generated IR.
	Debug bool `json:"debug"`
}

// Default returns the knob set bpftrace itself ships with.
func Default() Config {
	return Config{
		MaxCatBytes:  DefaultMaxCatBytes,
		MaxStrlen:    DefaultMaxStrlen,
		OnStackLimit: DefaultOnStackLimit,
		PerfRBPages:  DefaultPerfRBPages,
		SafeMode:     true,
	}
}

// Load reads a JSON config file, applying it on top of Default so a
// partial file only overrides the knobs it names.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects knob combinations that would make generated code
// unsafe or meaningless.
func (c Config) Validate() error {
	if c.MaxCatBytes <= 0 {
		return fmt.Errorf("max_cat_bytes must be positive, got %d", c.MaxCatBytes)
	}
	if c.MaxStrlen <= 0 {
		return fmt.Errorf("max_strlen must be positive, got %d", c.MaxStrlen)
	}
	if c.OnStackLimit <= 0 {
		return fmt.Errorf("on_stack_limit must be positive, got %d", c.OnStackLimit)
	}
	if c.PerfRBPages <= 0 || c.PerfRBPages&(c.PerfRBPages-1) != 0 {
		return fmt.Errorf("perf_rb_pages must be a positive power of two, got %d", c.PerfRBPages)
	}
	return nil
}

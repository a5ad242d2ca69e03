// Package resources implements the resource analyser and the
// RequiredResources model: the serializable, self-contained description
// of everything the runtime needs to interpret ring-buffer events
// emitted by a compiled script.
package resources

import (
	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
)

// MapKind is the BPF map type backing a declared map.
type MapKind string

const (
	MapHash        MapKind = "hash"
	MapPerCPUHash  MapKind = "percpu_hash"
	MapArray       MapKind = "array"
	MapPerCPUArray MapKind = "percpu_array"
	MapLRUHash     MapKind = "lru_hash"
	MapRingbuf     MapKind = "ringbuf"
	MapPerfEvent   MapKind = "perf_event_array"
)

// MapDetail carries aggregation-specific parameters, e.g. the t-series
// {interval_ns, num_intervals, agg} triple.
type MapDetail struct {
	IntervalNS   int64  `json:"interval_ns,omitempty"`
	NumIntervals int    `json:"num_intervals,omitempty"`
	Agg          string `json:"agg,omitempty"`
}

// MapDef describes one declared map: name, BPF map type, max entries,
// key/value types, and aggregation detail. ID is a small dense integer
// assigned in declaration order; print/clear/zero events reference maps
// by ID.
type MapDef struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	Kind       MapKind   `json:"bpf_type"`
	MaxEntries uint32    `json:"max_entries"`
	KeyType    string    `json:"key_type"`
	ValueType  string    `json:"value_type"`
	Detail     MapDetail `json:"detail,omitempty"`
}

// Severity mirrors the severity an async-action record is reported at.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// ArgSchema is one ordered {type, offset} entry in an async action's
// packed argument struct.
type ArgSchema struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Size   int    `json:"size"`
}

// ActionSchema is the format+field-list schema for one printf/errorf/
// cat/system/join/time call site, keyed by a dense AsyncActionID.
type ActionSchema struct {
	ActionID uint64      `json:"action_id"`
	Kind     string      `json:"kind"` // printf|errorf|cat|syscall|join|time|strftime
	Format   string      `json:"format,omitempty"`
	Args     []ArgSchema `json:"args,omitempty"`
	Severity Severity    `json:"severity"`
}

// ProbeKind distinguishes the probe-list variants.
type ProbeKind string

const (
	ProbeNormal     ProbeKind = "normal"
	ProbeSpecial    ProbeKind = "special" // begin/end/bench
	ProbeSignal     ProbeKind = "signal"
	ProbeWatchpoint ProbeKind = "watchpoint"
)

// ProbeInfo is one entry of the probe list persisted in RequiredResources.
type ProbeInfo struct {
	Index     int64     `json:"index"`
	Kind      ProbeKind `json:"kind"`
	RawInputs []string  `json:"raw_inputs"`
	UsymDeps  []string  `json:"usym_deps,omitempty"`
}

// Flags are the resource analyser's derived boolean/set outputs.
type Flags struct {
	NeedsElapsedMap    bool     `json:"needs_elapsed_map"`
	NeedsJoinMap       bool     `json:"needs_join_map"`
	UsingSkboutput     bool     `json:"using_skboutput"`
	NeedRecursionCheck bool     `json:"need_recursion_check"`
	StackTypes         []string `json:"stack_types,omitempty"` // "kstack(N)" / "ustack(N)"
}

// ScratchBudget is the per-kind scratch-buffer accounting that drives
// per-CPU scratch-map sizing.
type ScratchBudget struct {
	Kind    string `json:"kind"` // tuple|string|map_key|map_value
	Count   int    `json:"count"`
	MaxSize int    `json:"max_size"`
}

// RequiredResources is the persisted record: everything the
// runtime needs to interpret ring-buffer events, decoupled from the
// compiler's in-memory AST/type representations so the runtime need not
// link against the compiler.
//
// The format is not forward-compatible: BuildID pins a producer/consumer
// pair to the exact artifact, and loading resources from a different
// build is rejected.
type RequiredResources struct {
	BuildID       uuid.UUID          `json:"build_id"`
	Actions       []ActionSchema     `json:"actions"`
	PrintkPool    []string           `json:"printk_pool"`
	JoinPool      []string           `json:"join_pool,omitempty"`
	TimePool      []string           `json:"time_pool,omitempty"`
	CgroupPathIDs []uint64           `json:"cgroup_path_ids,omitempty"`
	Maps          []MapDef           `json:"maps"`
	Globals       []GlobalVar        `json:"globals,omitempty"`
	Probes        []ProbeInfo        `json:"probes"`
	Flags         Flags              `json:"flags"`
	Scratch       []ScratchBudget    `json:"scratch,omitempty"`
	Errors        []RuntimeErrorInfo `json:"errors,omitempty"`
}

// ErrorByID returns the RuntimeErrorInfo for a dispatched
// runtime_error record's error_id field.
func (r *RequiredResources) ErrorByID(id uint64) (RuntimeErrorInfo, bool) {
	for _, e := range r.Errors {
		if e.ErrorID == id {
			return e, true
		}
	}
	return RuntimeErrorInfo{}, false
}

// GlobalVar is an entry in the global-variable table.
type GlobalVar struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RuntimeErrorKind selects the helper-specific message class: map full,
// not found, divide-by-zero, invalid argument.
type RuntimeErrorKind string

const (
	RuntimeErrMapFull       RuntimeErrorKind = "map_full"
	RuntimeErrMapNotFound   RuntimeErrorKind = "map_not_found"
	RuntimeErrDivideByZero  RuntimeErrorKind = "divide_by_zero"
	RuntimeErrInvalid       RuntimeErrorKind = "invalid"
	RuntimeErrHelperFailure RuntimeErrorKind = "helper_error"
)

// RuntimeErrorInfo is one entry of the table runtime_error records are
// resolved against to print helper-specific messages. Populated at
// codegen time (internal/codegen emits one entry per fallible helper
// call site), read-only at runtime.
type RuntimeErrorInfo struct {
	ErrorID   uint64           `json:"error_id"`
	Kind      RuntimeErrorKind `json:"kind"`
	FuncID    int64            `json:"func_id"`
	Locations []string         `json:"locations,omitempty"`
}

// MapByID returns the MapDef with the given dense ID, used by runtime
// handlers dispatching print_map/clear/zero.
func (r *RequiredResources) MapByID(id int) (MapDef, bool) {
	for _, m := range r.Maps {
		if m.ID == id {
			return m, true
		}
	}
	return MapDef{}, false
}

// ActionByID returns the ActionSchema for a dispatched AsyncActionId.
func (r *RequiredResources) ActionByID(id uint64) (ActionSchema, bool) {
	for _, a := range r.Actions {
		if a.ActionID == id {
			return a, true
		}
	}
	return ActionSchema{}, false
}

// Marshal serializes r with the v2 JSON package; the runtime decodes
// the same bytes back on every run, so encoder and decoder stay paired.
func (r *RequiredResources) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a RequiredResources record produced by Marshal.
func Unmarshal(data []byte) (*RequiredResources, error) {
	var r RequiredResources
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

package runtime

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bpftrace-go/bpftrace/internal/resources"
)

// ProtocolActionBase separates the two AsyncActionId namespaces sharing
// one 8-byte header field: dense per-callsite ids the Resource Analyser
// assigns in declaration order (0..N-1) for printf/errorf/cat/join/time/
// strftime, versus the fixed, compiler-independent protocol actions
// (print_map, clear, zero, watchpoint_*, exit, runtime_error,
// print_non_map, skboutput). A script would need more than 2^32 call
// sites to collide with this base, which comfortably exceeds any real
// script.
const ProtocolActionBase uint64 = 1 << 32

// Protocol action ids: the fixed records that carry no per-callsite
// schema.
const (
	ActionPrintNonMap uint64 = ProtocolActionBase + iota
	ActionPrintMap
	ActionClear
	ActionZero
	ActionWatchpointAttach
	ActionWatchpointDetach
	ActionSkboutput
	ActionExit
	ActionRuntimeError
)

// dispatchAction handles a record whose id matched a Resource-Analyser-
// assigned ActionSchema: printf, errorf, cat, system (syscall), join,
// time, strftime.
func (d *Dispatcher) dispatchAction(schema resources.ActionSchema, payload []byte) error {
	switch schema.Kind {
	case "printf", "errorf":
		return d.handlePrintf(schema, payload)
	case "cat":
		return d.handleCat(schema, payload)
	case "system":
		return d.handleSyscall(schema, payload)
	case "join":
		return d.handleJoin(schema, payload)
	case "time", "strftime":
		return d.handleTime(schema, payload)
	default:
		return fmt.Errorf("runtime: unhandled action schema kind %q", schema.Kind)
	}
}

// dispatchProtocol handles the fixed-id protocol actions.
func (d *Dispatcher) dispatchProtocol(id uint64, payload []byte) error {
	switch id {
	case ActionPrintNonMap:
		return d.handlePrintNonMap(payload)
	case ActionPrintMap:
		return d.handlePrintMap(payload)
	case ActionClear:
		return d.handleClearOrZero(payload, false)
	case ActionZero:
		return d.handleClearOrZero(payload, true)
	case ActionWatchpointAttach:
		return d.handleWatchpointAttach(payload)
	case ActionWatchpointDetach:
		return d.handleWatchpointDetach(payload)
	case ActionSkboutput:
		return d.handleSkboutput(payload)
	case ActionExit:
		return d.handleExit(payload)
	case ActionRuntimeError:
		return d.handleRuntimeError(payload)
	default:
		return fmt.Errorf("runtime: unknown protocol action id %d", id)
	}
}

// decodeArg extracts one printf/errorf argument from payload at the
// offset/size/type recorded in arg's ArgSchema.
func decodeArg(payload []byte, arg resources.ArgSchema) (any, error) {
	if arg.Offset+arg.Size > len(payload) {
		return nil, fmt.Errorf("runtime: arg %q offset %d size %d exceeds payload length %d", arg.Name, arg.Offset, arg.Size, len(payload))
	}
	field := payload[arg.Offset : arg.Offset+arg.Size]

	switch {
	case strings.HasPrefix(arg.Type, "string["):
		return decodeScratchString(field), nil
	case strings.HasPrefix(arg.Type, "buffer["):
		return decodeScratchBuffer(field), nil
	case arg.Type == "bool":
		return field[0] != 0, nil
	case strings.HasPrefix(arg.Type, "int"):
		return decodeSignedInt(field), nil
	case strings.HasPrefix(arg.Type, "uint"):
		return decodeUnsignedInt(field), nil
	default:
		// Pointers and unresolved scalars are BPF-side 64-bit values.
		return decodeUnsignedInt(field), nil
	}
}

func decodeUnsignedInt(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

func decodeSignedInt(b []byte) int64 {
	return int64(decodeUnsignedInt(b))
}

// decodeScratchString decodes a str scratch buffer. The buffer's extra
// byte is pre-poisoned with 0xFF so truncation is detectable: stop at
// the first NUL, or return the full buffer (truncation-marked) if none
// is found.
func decodeScratchString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// decodeScratchBuffer decodes the {len:u32, data[N]} layout buf()
// values use on the wire.
func decodeScratchBuffer(b []byte) []byte {
	if len(b) < 4 {
		return nil
	}
	n := binary.LittleEndian.Uint32(b[:4])
	data := b[4:]
	if int(n) > len(data) {
		n = uint32(len(data))
	}
	return data[:n]
}

// formatPrintf substitutes %-verbs in format with decoded args in
// order, a printf-style writer bound to the output sink.
func formatPrintf(format string, args []any) string {
	var b strings.Builder
	ai := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i == len(format)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		verb := format[i]
		if verb == '%' {
			b.WriteByte('%')
			continue
		}
		if ai >= len(args) {
			b.WriteString("%!" + string(verb) + "(MISSING)")
			continue
		}
		writeVerb(&b, verb, args[ai])
		ai++
	}
	return b.String()
}

func writeVerb(b *strings.Builder, verb byte, arg any) {
	switch verb {
	case 'd', 'i':
		b.WriteString(strconv.FormatInt(toInt64(arg), 10))
	case 'u':
		b.WriteString(strconv.FormatUint(toUint64(arg), 10))
	case 'x':
		b.WriteString("0x" + strconv.FormatUint(toUint64(arg), 16))
	case 's':
		b.WriteString(toDisplayString(arg))
	case 'c':
		b.WriteRune(rune(toUint64(arg)))
	default:
		fmt.Fprintf(b, "%v", arg)
	}
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case uint64:
		return int64(x)
	default:
		return 0
	}
}

func toUint64(v any) uint64 {
	switch x := v.(type) {
	case int64:
		return uint64(x)
	case uint64:
		return x
	default:
		return 0
	}
}

func toDisplayString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// handlePrintf decodes and formats a printf/errorf record against its
// recorded schema.
func (d *Dispatcher) handlePrintf(schema resources.ActionSchema, payload []byte) error {
	args := make([]any, len(schema.Args))
	for i, a := range schema.Args {
		v, err := decodeArg(payload, a)
		if err != nil {
			return err
		}
		args[i] = v
	}
	line := formatPrintf(schema.Format, args)
	if schema.Kind == "errorf" {
		d.log.Error("errorf", zap.String("message", line))
	}
	d.sink.Printf("%s", line)
	return nil
}

// handleCat implements the `cat` action: a file copy capped at
// max_cat_bytes. The path/args are decoded the same way as printf's
// schema; the format string yields the path.
func (d *Dispatcher) handleCat(schema resources.ActionSchema, payload []byte) error {
	args := make([]any, len(schema.Args))
	for i, a := range schema.Args {
		v, err := decodeArg(payload, a)
		if err != nil {
			return err
		}
		args[i] = v
	}
	path := formatPrintf(schema.Format, args)
	return d.catFile(path)
}

// handleSyscall implements the `syscall` action; in safe mode it is
// rejected outright.
func (d *Dispatcher) handleSyscall(schema resources.ActionSchema, payload []byte) error {
	if d.safeMode() {
		return fatalf("runtime: system rejected in safe mode; rerun with --unsafe")
	}
	args := make([]any, len(schema.Args))
	for i, a := range schema.Args {
		v, err := decodeArg(payload, a)
		if err != nil {
			return err
		}
		args[i] = v
	}
	cmd := formatPrintf(schema.Format, args)
	return d.execShell(cmd)
}

// handleJoin implements `join`: argv-like strings joined with the
// recorded separator.
func (d *Dispatcher) handleJoin(schema resources.ActionSchema, payload []byte) error {
	var parts []string
	for _, a := range schema.Args {
		v, err := decodeArg(payload, a)
		if err != nil {
			return err
		}
		parts = append(parts, toDisplayString(v))
	}
	sep := schema.Format
	if sep == "" {
		sep = " "
	}
	d.sink.Printf("%s\n", strings.Join(parts, sep))
	return nil
}

// handleTime implements `time`/`strftime`. Output is bounded; an empty
// formatting result is reported as a warning and produces no output.
func (d *Dispatcher) handleTime(schema resources.ActionSchema, payload []byte) error {
	out := strftimeFormat(schema.Format, payload)
	if out == "" {
		d.log.Warn("strftime produced no output", zap.String("format", schema.Format))
		return nil
	}
	d.sink.Printf("%s", out)
	return nil
}

package runtime

import (
	"encoding/binary"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/bpftrace-go/bpftrace/internal/config"
)

// WithConfig wires the numeric knobs and safe-mode flag into
// the dispatcher, governing `cat`'s byte cap and `syscall`'s safe-mode
// gate.
func WithConfig(cfg config.Config) Option {
	return func(d *Dispatcher) { d.cfg = cfg }
}

func (d *Dispatcher) safeMode() bool {
	return d.cfg.SafeMode
}

func (d *Dispatcher) maxCatBytes() int {
	if d.cfg.MaxCatBytes > 0 {
		return d.cfg.MaxCatBytes
	}
	return config.DefaultMaxCatBytes
}

// catFile streams a file's contents (or as much as max_cat_bytes allows)
// to the sink, the way `cat` is specified to behave.
func (d *Dispatcher) catFile(path string) error {
	data, err := readFileLimited(path, d.maxCatBytes())
	if err != nil {
		return fmt.Errorf("runtime: cat %q: %w", path, err)
	}
	_, err = d.sink.Write(data)
	return err
}

// execShell runs cmd via the shell. Only reached when safe mode is off.
func (d *Dispatcher) execShell(cmd string) error {
	out, err := exec.Command("/bin/sh", "-c", cmd).CombinedOutput()
	if len(out) > 0 {
		_, _ = d.sink.Write(out)
	}
	if err != nil {
		return fmt.Errorf("runtime: system(%q): %w", cmd, err)
	}
	return nil
}

// handlePrintNonMap renders a single scalar value from a
// {print_id, content[N]} payload using the recorded type.
func (d *Dispatcher) handlePrintNonMap(payload []byte) error {
	if len(payload) < 8 {
		return fmt.Errorf("runtime: print_non_map payload too short")
	}
	printID := binary.LittleEndian.Uint64(payload[:8])
	content := payload[8:]
	d.sink.Printf("%d\n", binary.LittleEndian.Uint64(padTo8(content)))
	d.log.Debug("print_non_map", zap.Uint64("print_id", printID))
	return nil
}

func padTo8(b []byte) []byte {
	if len(b) >= 8 {
		return b[:8]
	}
	var buf [8]byte
	copy(buf[:], b)
	return buf[:]
}

// printMapHeader is print_map's {map_id, top, div} payload.
type printMapHeader struct {
	MapID uint64
	Top   int64
	Div   int64
}

func decodePrintMapHeader(payload []byte) (printMapHeader, error) {
	if len(payload) < 24 {
		return printMapHeader{}, fmt.Errorf("runtime: print_map payload too short")
	}
	return printMapHeader{
		MapID: binary.LittleEndian.Uint64(payload[0:8]),
		Top:   int64(binary.LittleEndian.Uint64(payload[8:16])),
		Div:   int64(binary.LittleEndian.Uint64(payload[16:24])),
	}, nil
}

// handlePrintMap drains the named map and formats it per its value
// type.
func (d *Dispatcher) handlePrintMap(payload []byte) error {
	hdr, err := decodePrintMapHeader(payload)
	if err != nil {
		return err
	}
	mapDef, ok := d.res.MapByID(int(hdr.MapID))
	if !ok {
		return fmt.Errorf("runtime: print_map references unknown map id %d", hdr.MapID)
	}
	if d.maps == nil {
		return nil
	}
	entries, err := d.maps.Iterate(int(hdr.MapID))
	if err != nil {
		return fmt.Errorf("runtime: iterating map %q: %w", mapDef.Name, err)
	}
	entries = applyTopAndDiv(entries, hdr.Top, hdr.Div)
	d.sink.Printf("%s:\n", mapDef.Name)
	for _, kv := range entries {
		d.sink.Printf(" %s: %d\n", kv.Key, kv.Value)
	}
	return nil
}

// applyTopAndDiv applies the print_map `top`/`div` modifiers: top N
// entries by value (0 = all), values divided by div (0 or 1 = no-op).
func applyTopAndDiv(entries []KV, top, div int64) []KV {
	if div > 1 {
		for i := range entries {
			entries[i].Value /= div
		}
	}
	if top > 0 && int64(len(entries)) > top {
		// Entries are assumed pre-sorted descending by the map reader;
		// truncate to the requested count.
		entries = entries[:top]
	}
	return entries
}

// handleClearOrZero implements `clear`/`zero`: drain-then-reset, or
// overwrite with zeros for map kinds that cannot be drained.
func (d *Dispatcher) handleClearOrZero(payload []byte, zero bool) error {
	if len(payload) < 8 {
		return fmt.Errorf("runtime: clear/zero payload too short")
	}
	mapID := int(binary.LittleEndian.Uint64(payload[:8]))
	if d.maps == nil {
		return nil
	}
	if zero {
		return d.maps.Zero(mapID)
	}
	return d.maps.Clear(mapID)
}

// watchpointAttachPayload is watchpoint_attach's
// {async_id, probe_id, addr} record.
type watchpointAttachPayload struct {
	AsyncID uint64
	ProbeID uint64
	Addr    uint64
}

func decodeWatchpointAttach(payload []byte) (watchpointAttachPayload, error) {
	if len(payload) < 24 {
		return watchpointAttachPayload{}, fmt.Errorf("runtime: watchpoint_attach payload too short")
	}
	return watchpointAttachPayload{
		AsyncID: binary.LittleEndian.Uint64(payload[0:8]),
		ProbeID: binary.LittleEndian.Uint64(payload[8:16]),
		Addr:    binary.LittleEndian.Uint64(payload[16:24]),
	}, nil
}

// handleWatchpointAttach installs the real watchpoint at the reported
// address and resumes the tracee, delegated to
// internal/watchpoint.Controller, which owns the dedup/resume protocol.
func (d *Dispatcher) handleWatchpointAttach(payload []byte) error {
	p, err := decodeWatchpointAttach(payload)
	if err != nil {
		return err
	}
	if d.wp == nil {
		return fatalf("runtime: watchpoint_attach received but no watchpoint controller configured")
	}
	maxProbeID := len(d.res.Probes) - 1
	err = d.wp.Attach(d.tracee, int(p.ProbeID), maxProbeID, p.Addr, 0, "", d.synchronousWatch)
	if err != nil {
		// Out-of-range probe ids, attach failures, and tracee-resume
		// failures all abort the run; duplicate addresses never reach
		// here (the controller treats them as a no-op).
		return fatalf("runtime: watchpoint_attach probe %d addr %#x: %w", p.ProbeID, p.Addr, err)
	}
	if d.metrics != nil {
		d.metrics.watchpointsSet.Set(float64(d.wp.Count()))
	}
	return nil
}

// handleWatchpointDetach removes the watchpoint at the given address.
func (d *Dispatcher) handleWatchpointDetach(payload []byte) error {
	if len(payload) < 8 {
		return fmt.Errorf("runtime: watchpoint_detach payload too short")
	}
	addr := binary.LittleEndian.Uint64(payload[:8])
	if d.wp == nil {
		return nil
	}
	if err := d.wp.Detach(addr); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.watchpointsSet.Set(float64(d.wp.Count()))
	}
	return nil
}

// handleSkboutput appends a packet record to the pcap writer. Packet
// capture output is a narrow append-only stream; here it is routed
// through Sink like any other binary payload, letting the caller bind a
// real pcap writer as the sink when skboutput is used.
func (d *Dispatcher) handleSkboutput(payload []byte) error {
	if len(payload) < 16 {
		return fmt.Errorf("runtime: skboutput payload too short")
	}
	_, err := d.sink.Write(payload[16:])
	return err
}

// handleExit sets the termination flag; the loop exits after the
// current drain.
func (d *Dispatcher) handleExit(payload []byte) error {
	d.Terminate()
	if len(payload) >= 8 {
		code := int64(binary.LittleEndian.Uint64(payload[:8]))
		d.log.Info("exit requested", zap.Int64("code", code))
	}
	return nil
}

// runtimeErrorPayload is runtime_error's {error_id, retval} record.
type runtimeErrorPayload struct {
	ErrorID uint64
	RetVal  int64
}

func decodeRuntimeError(payload []byte) (runtimeErrorPayload, error) {
	if len(payload) < 16 {
		return runtimeErrorPayload{}, fmt.Errorf("runtime: runtime_error payload too short")
	}
	return runtimeErrorPayload{
		ErrorID: binary.LittleEndian.Uint64(payload[0:8]),
		RetVal:  int64(binary.LittleEndian.Uint64(payload[8:16])),
	}, nil
}

// handleRuntimeError resolves a runtime_error record against the
// RuntimeErrorInfo table and logs a helper-specific diagnostic.
func (d *Dispatcher) handleRuntimeError(payload []byte) error {
	p, err := decodeRuntimeError(payload)
	if err != nil {
		return err
	}
	info, ok := d.res.ErrorByID(p.ErrorID)
	if !ok {
		d.log.Warn("unresolved runtime error", zap.Uint64("error_id", p.ErrorID), zap.Int64("retval", p.RetVal))
		return nil
	}
	d.log.Error("runtime error",
		zap.String("kind", string(info.Kind)),
		zap.Int64("func_id", info.FuncID),
		zap.Int64("retval", p.RetVal),
		zap.Strings("locations", info.Locations))
	return nil
}

// strftimeFormat is a minimal strftime implementation over a handful of
// the verbs the time/strftime actions use; payload carries the raw
// nanosecond timestamp as its trailing 8 bytes.
func strftimeFormat(format string, payload []byte) string {
	if len(payload) < 8 {
		return ""
	}
	ns := int64(binary.LittleEndian.Uint64(payload[len(payload)-8:]))
	t := time.Unix(0, ns).UTC()
	return strftimeLayout(format, t)
}

func strftimeLayout(format string, t time.Time) string {
	var b []byte
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i == len(format)-1 {
			b = append(b, format[i])
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			b = append(b, t.Format("2006")...)
		case 'm':
			b = append(b, t.Format("01")...)
		case 'd':
			b = append(b, t.Format("02")...)
		case 'H':
			b = append(b, t.Format("15")...)
		case 'M':
			b = append(b, t.Format("04")...)
		case 'S':
			b = append(b, t.Format("05")...)
		case '%':
			b = append(b, '%')
		default:
			b = append(b, '%', format[i])
		}
	}
	return string(b)
}

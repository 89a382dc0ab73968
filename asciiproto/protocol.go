// Package asciiproto encodes and parses the "type key=value,key=value" telemetry
// lines exchanged with the central server.
package asciiproto

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/gwac/camannex/internal/util"
)

const (
	// BufferCount is the number of output buffers rotated by a Protocol.
	BufferCount = 10
	// BufferSize is the nominal size of one output buffer.
	BufferSize = 1024
)

// ErrUnknownType is returned by Resolve for lines of an unrecognized type.
var ErrUnknownType = errors.New("asciiproto: unknown record type")

// Protocol builds telemetry lines into a rotating pool of buffers.
//
// A slice returned by a Compact method stays valid until BufferCount further
// Compact calls have been made on the same Protocol. Callers that keep the line
// longer must copy it.
type Protocol struct {
	mu   sync.Mutex
	bufs [BufferCount][]byte
	next int
}

// New creates a Protocol with its buffers preallocated.
func New() *Protocol {
	p := &Protocol{}
	for i := range p.bufs {
		p.bufs[i] = make([]byte, 0, BufferSize)
	}
	return p
}

// CompactCooler renders rec as a "cooler ..." line terminated by "\n".
func (p *Protocol) CompactCooler(rec *Cooler) []byte {
	var sb strings.Builder
	sb.WriteString(TypeCooler)
	sb.WriteByte(' ')
	writeBase(&sb, &rec.Base)
	writeFloat(&sb, "voltage", rec.Voltage)
	writeFloat(&sb, "current", rec.Current)
	writeFloat(&sb, "hotend", rec.HotEnd)
	writeFloat(&sb, "coolget", rec.CoolGet)
	writeFloat(&sb, "coolset", rec.CoolSet)

	return p.output(sb.String())
}

// CompactVacuum renders rec as a "vacuum ..." line terminated by "\n".
func (p *Protocol) CompactVacuum(rec *Vacuum) []byte {
	var sb strings.Builder
	sb.WriteString(TypeVacuum)
	sb.WriteByte(' ')
	writeBase(&sb, &rec.Base)
	writeFloat(&sb, "voltage", rec.Voltage)
	writeFloat(&sb, "current", rec.Current)
	writeString(&sb, "pressure", rec.Pressure)

	return p.output(sb.String())
}

// Compact renders any known record. Unknown records yield nil.
func (p *Protocol) Compact(rec Record) []byte {
	switch r := rec.(type) {
	case *Cooler:
		return p.CompactCooler(r)
	case *Vacuum:
		return p.CompactVacuum(r)
	}
	return nil
}

func (p *Protocol) output(line string) []byte {
	line = strings.TrimRightFunc(line, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	buf := p.bufs[p.next][:0]
	buf = append(buf, line...)
	buf = append(buf, '\n')
	p.bufs[p.next] = buf
	p.next = (p.next + 1) % BufferCount

	return buf
}

func writeBase(sb *strings.Builder, b *Base) {
	if b.UTC != "" {
		writeString(sb, "time", b.UTC)
	}
	writeString(sb, "group_id", b.GroupID)
	writeString(sb, "unit_id", b.UnitID)
	writeString(sb, "cam_id", b.CamID)
}

func writeString(sb *strings.Builder, key, value string) {
	sb.WriteString(key)
	sb.WriteByte('=')
	sb.WriteString(value)
	sb.WriteByte(',')
}

func writeFloat(sb *strings.Builder, key string, value float64) {
	writeString(sb, key, strconv.FormatFloat(value, 'f', 1, 64))
}

// Resolve parses one line. Unknown types return ErrUnknownType.
// Pairs missing a key or a value are skipped, keys match case-insensitively.
func (p *Protocol) Resolve(line string) (Record, error) {
	return Resolve(line)
}

// Resolve parses one line without a Protocol; it holds no state.
func Resolve(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	typ, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimLeft(rest, " ")

	var rec Record
	switch {
	case strings.EqualFold(typ, TypeCooler):
		rec = &Cooler{}
	case strings.EqualFold(typ, TypeVacuum):
		rec = &Vacuum{}
	default:
		return nil, ErrUnknownType
	}

	for _, kv := range strings.Split(rest, ",") {
		key, value, ok := splitKV(kv)
		if !ok {
			continue
		}
		assign(rec, key, value)
	}

	return rec, nil
}

// splitKV splits "key=value", collapsing repeated separators.
func splitKV(kv string) (key, value string, ok bool) {
	tokens := strings.FieldsFunc(kv, func(r rune) bool { return r == '=' })
	if len(tokens) < 2 {
		return "", "", false
	}
	key, value = strings.TrimSpace(tokens[0]), strings.TrimSpace(tokens[1])

	return key, value, key != "" && value != ""
}

func assign(rec Record, key, value string) {
	key = strings.ToLower(key)
	switch key {
	case "time":
		rec.Header().UTC = value
		return
	case "group_id":
		rec.Header().GroupID = value
		return
	case "unit_id":
		rec.Header().UnitID = value
		return
	case "cam_id":
		rec.Header().CamID = value
		return
	}

	switch r := rec.(type) {
	case *Cooler:
		switch key {
		case "voltage":
			r.Voltage = util.Atof(value)
		case "current":
			r.Current = util.Atof(value)
		case "hotend":
			r.HotEnd = util.Atof(value)
		case "coolget":
			r.CoolGet = util.Atof(value)
		case "coolset":
			r.CoolSet = util.Atof(value)
		}
	case *Vacuum:
		switch key {
		case "voltage":
			r.Voltage = util.Atof(value)
		case "current":
			r.Current = util.Atof(value)
		case "pressure":
			r.Pressure = value
		}
	}
}

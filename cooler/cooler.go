// Package cooler implements the detector cooler controller family.
//
// Cooler controllers speak an ASCII framed protocol:
//
//	':' id(2) func(2) data(2n) lrc(2) "\r\n"
//
// where every field is uppercase hex and data carries the decimal text of a
// value, one hex pair per character. lrc is the 8-bit sum of every byte that
// precedes it, the leading ':' included.
package cooler

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gwac/camannex/asciiproto"
	"github.com/gwac/camannex/controller"
	"github.com/gwac/camannex/internal/util"
	"github.com/gwac/camannex/logger"
)

// Function ids understood by cooler controllers.
const (
	FuncReadVoltage   byte = 0x21
	FuncReadCurrent   byte = 0x22
	FuncReadColdEnd   byte = 0x23 // detector temperature
	FuncReadHotEnd    byte = 0x24
	FuncReadSetpoint  byte = 0x15
	FuncWriteSetpoint byte = 0x16
)

const (
	frameHead = ":"
	frameTail = "\r\n"

	// minFrameLen is ':' + id + func + lrc + "\r\n".
	minFrameLen = 9
)

var pollFunctions = []byte{FuncReadVoltage, FuncReadCurrent, FuncReadColdEnd, FuncReadHotEnd, FuncReadSetpoint}

// Cooler is the controller.Family for cooler controllers.
type Cooler struct {
	verify bool

	mu      sync.Mutex
	records []*Data
}

var _ controller.Family = (*Cooler)(nil)

// Option configures a Cooler.
type Option func(*Cooler)

// WithChecksumVerification rejects frames whose checksum does not match.
// Controllers in the field send unreliable checksums, so it is off by default.
func WithChecksumVerification(on bool) Option {
	return func(c *Cooler) { c.verify = on }
}

// New creates a cooler family with an empty telemetry table.
func New(opts ...Option) *Cooler {
	c := &Cooler{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name reports the family name used in logs.
func (*Cooler) Name() string { return "cooler" }

func (*Cooler) Markers() controller.Markers {
	return controller.Markers{Head: []byte(frameHead), Tail: []byte(frameTail)}
}

// PollFunctions lists the read functions queued for every device on each poll.
func (*Cooler) PollFunctions() []byte { return pollFunctions }

// Register adds a device record for id. Duplicate ids are ignored.
func (c *Cooler) Register(id byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.find(id) == nil {
		c.records = append(c.records, &Data{ID: id})
	}
}

// Encode builds ':' id func payload-hex lrc "\r\n".
func (*Cooler) Encode(id, fn byte, payload []byte) []byte {
	out := make([]byte, 0, minFrameLen+2*len(payload))
	out = append(out, frameHead...)
	out = util.AppendHex(out, id)
	out = util.AppendHex(out, fn)
	out = util.AppendHexString(out, payload)
	out = util.AppendHex(out, util.Sum8(out))

	return append(out, frameTail...)
}

// Decode parses a response frame and updates the device's record.
// Frames from unregistered devices and unknown functions are ignored.
func (c *Cooler) Decode(frame []byte, _ *controller.Directive) error {
	n := len(frame)
	if n < minFrameLen || (n-minFrameLen)%2 != 0 {
		return fmt.Errorf("cooler: %w: length %d", controller.ErrMalformedFrame, n)
	}
	if c.verify {
		if want, got := util.HexByte(frame[n-4], frame[n-3]), util.Sum8(frame[:n-4]); want != got {
			return fmt.Errorf("cooler: %w: frame %02X, computed %02X", controller.ErrChecksumMismatch, want, got)
		}
	}

	id := util.HexByte(frame[1], frame[2])
	fn := util.HexByte(frame[3], frame[4])
	if n == minFrameLen {
		return nil // acknowledgement without data
	}

	text := make([]byte, 0, (n-minFrameLen)/2)
	for i := 5; i <= n-5; i += 2 {
		text = append(text, util.HexByte(frame[i], frame[i+1]))
	}
	value := util.Atof(string(text))

	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.find(id)
	if d == nil {
		return nil
	}
	switch fn {
	case FuncReadVoltage:
		d.setVoltage(value)
	case FuncReadCurrent:
		d.setCurrent(value)
	case FuncReadColdEnd:
		d.setCoolGet(value)
	case FuncReadHotEnd:
		d.setHotEnd(value)
	case FuncReadSetpoint:
		d.setCoolSet(value)
	}

	return nil
}

// FlushLog logs every changed record and clears its dirty state.
func (c *Cooler) FlushLog(l logger.Logger) {
	for _, d := range c.drain() {
		l.Info("cooler telemetry",
			"device", d.ID,
			"voltage", round1(d.Voltage),
			"current", round1(d.Current),
			"hotend", round1(d.HotEnd),
			"coolget", round1(d.CoolGet),
			"coolset", round1(d.CoolSet),
		)
	}
}

// Records returns one record per device. unit_id is the device id divided by ten.
func (c *Cooler) Records(groupID string) []asciiproto.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs := make([]asciiproto.Record, 0, len(c.records))
	for _, d := range c.records {
		recs = append(recs, &asciiproto.Cooler{
			Base: asciiproto.Base{
				GroupID: groupID,
				UnitID:  fmt.Sprintf("%03d", d.ID/10),
				CamID:   fmt.Sprintf("%03d", d.ID),
			},
			Voltage: d.Voltage,
			Current: d.Current,
			HotEnd:  d.HotEnd,
			CoolGet: d.CoolGet,
			CoolSet: d.CoolSet,
		})
	}

	return recs
}

// Get returns a copy of the record of device id.
func (c *Cooler) Get(id byte) (Data, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d := c.find(id); d != nil {
		return *d, true
	}
	return Data{}, false
}

// drain copies the dirty records and clears their dirty bits in one step.
func (c *Cooler) drain() []Data {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Data
	for _, d := range c.records {
		if d.dirty == 0 {
			continue
		}
		out = append(out, *d)
		d.dirty = 0
	}

	return out
}

func (c *Cooler) find(id byte) *Data {
	for _, d := range c.records {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func round1(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

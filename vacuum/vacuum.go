// Package vacuum implements the vacuum pump controller family.
//
// Requests look like "~ 01 0B 33\r": id and function as hex separated by
// spaces, then an 8-bit sum of the bytes between '~' and the checksum.
// Responses carry no function id; the value is attributed to the
// function of the directive in flight.
package vacuum

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gwac/camannex/asciiproto"
	"github.com/gwac/camannex/controller"
	"github.com/gwac/camannex/internal/util"
	"github.com/gwac/camannex/logger"
)

// Function ids understood by vacuum controllers.
const (
	FuncReset        byte = 0x07
	FuncReadCurrent  byte = 0x0A
	FuncReadPressure byte = 0x0B
	FuncReadVoltage  byte = 0x0C
)

const (
	requestHead = '~'
	frameTail   = "\r"

	minFrameLen = 12
	// valueOffset is where the hex encoded value starts in a response.
	valueOffset = 6
)

var pollFunctions = []byte{FuncReadCurrent, FuncReadPressure, FuncReadVoltage}

// Vacuum is the controller.Family for vacuum pump controllers.
type Vacuum struct {
	verify bool

	mu      sync.Mutex
	records []*Data
}

var _ controller.Family = (*Vacuum)(nil)

// Option configures a Vacuum.
type Option func(*Vacuum)

// WithChecksumVerification rejects responses whose checksum does not match the
// sum of the bytes before it.
func WithChecksumVerification(on bool) Option {
	return func(v *Vacuum) { v.verify = on }
}

// New creates a vacuum family with an empty telemetry table.
func New(opts ...Option) *Vacuum {
	v := &Vacuum{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Name reports the family name used in logs.
func (*Vacuum) Name() string { return "vacuum" }

// Markers: responses start right at the buffered data and end with '\r'.
func (*Vacuum) Markers() controller.Markers {
	return controller.Markers{Tail: []byte(frameTail)}
}

// PollFunctions lists the read functions queued for every device on each poll.
func (*Vacuum) PollFunctions() []byte { return pollFunctions }

// Register adds a device record for id. Duplicate ids are ignored.
func (v *Vacuum) Register(id byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.find(id) == nil {
		v.records = append(v.records, &Data{ID: id})
	}
}

// Encode builds "~ id fn lrc\r". The protocol carries no payload, so payload is ignored.
func (*Vacuum) Encode(id, fn byte, _ []byte) []byte {
	out := make([]byte, 0, 11)
	out = append(out, requestHead, ' ')
	out = util.AppendHex(out, id)
	out = append(out, ' ')
	out = util.AppendHex(out, fn)
	out = append(out, ' ')
	out = util.AppendHex(out, util.Sum8(out[1:]))

	return append(out, frameTail...)
}

// Decode parses a response to inflight and updates the device's record.
func (v *Vacuum) Decode(frame []byte, inflight *controller.Directive) error {
	n := len(frame)
	if n < minFrameLen {
		return fmt.Errorf("vacuum: %w: length %d", controller.ErrMalformedFrame, n)
	}
	if inflight == nil {
		return fmt.Errorf("vacuum: %w", controller.ErrUnsolicitedFrame)
	}
	if v.verify {
		if want, got := util.HexByte(frame[n-3], frame[n-2]), util.Sum8(frame[:n-3]); want != got {
			return fmt.Errorf("vacuum: %w: frame %02X, computed %02X", controller.ErrChecksumMismatch, want, got)
		}
	}

	id := util.HexByte(frame[0], frame[1])
	text := make([]byte, 0, (n-valueOffset)/2)
	for i := valueOffset; i <= n-5; i += 2 {
		text = append(text, util.HexByte(frame[i], frame[i+1]))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	d := v.find(id)
	if d == nil {
		return nil
	}

	switch inflight.FuncID {
	case FuncReadPressure:
		d.setPressure(string(text))
	case FuncReadCurrent, FuncReadVoltage:
		value := util.Atof(string(text))
		if inflight.FuncID == FuncReadCurrent {
			d.setCurrent(value)
		} else {
			d.setVoltage(value)
		}
	}

	return nil
}

// FlushLog logs every changed record and clears its dirty state.
func (v *Vacuum) FlushLog(l logger.Logger) {
	for _, d := range v.drain() {
		l.Info("vacuum telemetry",
			"device", d.ID,
			"voltage", strconv.FormatFloat(d.Voltage, 'f', 1, 64),
			"current", strconv.FormatFloat(d.Current, 'f', 1, 64),
			"pressure", d.Pressure,
		)
	}
}

// Records returns one record per device. unit_id is the device id divided by ten.
func (v *Vacuum) Records(groupID string) []asciiproto.Record {
	v.mu.Lock()
	defer v.mu.Unlock()

	recs := make([]asciiproto.Record, 0, len(v.records))
	for _, d := range v.records {
		recs = append(recs, &asciiproto.Vacuum{
			Base: asciiproto.Base{
				GroupID: groupID,
				UnitID:  fmt.Sprintf("%03d", d.ID/10),
				CamID:   fmt.Sprintf("%03d", d.ID),
			},
			Voltage:  d.Voltage,
			Current:  d.Current,
			Pressure: d.Pressure,
		})
	}

	return recs
}

// Get returns a copy of the record of device id.
func (v *Vacuum) Get(id byte) (Data, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if d := v.find(id); d != nil {
		return *d, true
	}
	return Data{}, false
}

func (v *Vacuum) drain() []Data {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []Data
	for _, d := range v.records {
		if d.dirty != 0 {
			out = append(out, *d)
			d.dirty = 0
		}
	}

	return out
}

func (v *Vacuum) find(id byte) *Data {
	for _, d := range v.records {
		if d.ID == id {
			return d
		}
	}
	return nil
}

package cooler

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gwac/camannex/asciiproto"
	"github.com/gwac/camannex/controller"
	"github.com/gwac/camannex/logger"
)

func TestEncode(t *testing.T) {
	require := require.New(t)
	c := New()

	require.Equal(":0121FE\r\n", string(c.Encode(0x01, FuncReadVoltage, nil)))
	require.Equal(":011632352E30A9\r\n", string(c.Encode(0x01, FuncWriteSetpoint, []byte("25.0"))))

	frame := c.Encode(0xAB, FuncReadHotEnd, nil)
	require.Equal(":AB24", string(frame[:5]))
	require.Len(frame, 9)
}

func TestEncode_ChecksumTracksContent(t *testing.T) {
	require := require.New(t)
	c := New()

	require.Equal(c.Encode(3, FuncReadCurrent, nil), c.Encode(3, FuncReadCurrent, nil))
	a := c.Encode(3, FuncWriteSetpoint, []byte("-80.0"))
	b := c.Encode(3, FuncWriteSetpoint, []byte("-81.0"))
	require.NotEqual(a[len(a)-4:len(a)-2], b[len(b)-4:len(b)-2])
}

func TestDecode_Voltage(t *testing.T) {
	require := require.New(t)
	c := New()
	c.Register(1)

	// a response carrying "25.0"
	require.NoError(c.Decode([]byte(":012132352E30A5\r\n"), nil))

	d, ok := c.Get(1)
	require.True(ok)
	require.InDelta(25.0, d.Voltage, 1e-9)
	require.True(d.Dirty())
}

func TestDecode_RoundTrip(t *testing.T) {
	c := New()
	c.Register(7)

	fields := map[byte]func(Data) float64{
		FuncReadVoltage:  func(d Data) float64 { return d.Voltage },
		FuncReadCurrent:  func(d Data) float64 { return d.Current },
		FuncReadColdEnd:  func(d Data) float64 { return d.CoolGet },
		FuncReadHotEnd:   func(d Data) float64 { return d.HotEnd },
		FuncReadSetpoint: func(d Data) float64 { return d.CoolSet },
	}

	for fn, get := range fields {
		for _, v := range []float64{0, 12.0, 1.5, -80.0, 35.2, 123.4} {
			payload := strconv.FormatFloat(v, 'f', 1, 64)
			require.NoError(t, c.Decode(c.Encode(7, fn, []byte(payload)), nil))

			d, _ := c.Get(7)
			require.InDelta(t, v, get(d), 0.05, "func %02X value %s", fn, payload)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	c := New()
	c.Register(1)

	for _, frame := range []string{
		"",
		":0121F\r\n",   // too short
		":0121FE0\r\n", // odd data length
	} {
		err := c.Decode([]byte(frame), nil)
		require.ErrorIs(t, err, controller.ErrMalformedFrame, "%q", frame)
	}

	d, _ := c.Get(1)
	require.False(t, d.Dirty())
}

func TestDecode_UnitSuffix(t *testing.T) {
	require := require.New(t)
	c := New()
	c.Register(1)

	require.NoError(c.Decode(c.Encode(1, FuncReadVoltage, []byte("25.0V")), nil))
	require.NoError(c.Decode(c.Encode(1, FuncReadColdEnd, []byte(" -80.5 C")), nil))
	d, _ := c.Get(1)
	require.InDelta(25.0, d.Voltage, 1e-9)
	require.InDelta(-80.5, d.CoolGet, 1e-9)
}

func TestDecode_NonNumericReadsZero(t *testing.T) {
	require := require.New(t)
	c := New()
	c.Register(1)

	// "AB" carries no numeric prefix
	require.NoError(c.Decode([]byte(":01214142FE\r\n"), nil))
	d, _ := c.Get(1)
	require.Zero(d.Voltage)
	require.False(d.Dirty())
}

func TestDecode_Acknowledge(t *testing.T) {
	require := require.New(t)
	c := New()
	c.Register(1)

	require.NoError(c.Decode(c.Encode(1, FuncWriteSetpoint, nil), nil))
	d, _ := c.Get(1)
	require.False(d.Dirty())
}

func TestDecode_Checksum(t *testing.T) {
	require := require.New(t)

	lenient := New()
	lenient.Register(1)
	require.NoError(lenient.Decode([]byte(":012132352E3000\r\n"), nil))

	strict := New(WithChecksumVerification(true))
	strict.Register(1)
	require.ErrorIs(strict.Decode([]byte(":012132352E3000\r\n"), nil), controller.ErrChecksumMismatch)
	require.NoError(strict.Decode(strict.Encode(1, FuncReadVoltage, []byte("25.0")), nil))
}

func TestDecode_UnknownDevice(t *testing.T) {
	require := require.New(t)
	c := New()
	c.Register(1)

	require.NoError(c.Decode(c.Encode(9, FuncReadVoltage, []byte("5.0")), nil))
	_, ok := c.Get(9)
	require.False(ok)
}

func TestFlushLog_Dirty(t *testing.T) {
	require := require.New(t)
	c := New()
	c.Register(1)
	c.Register(2)

	m := logger.NewMockLogger()
	m.On("Info", "cooler telemetry", mock.Anything).Return()

	c.FlushLog(m)
	m.AssertNumberOfCalls(t, "Info", 0)

	frame := c.Encode(1, FuncReadColdEnd, []byte("-80.0"))
	require.NoError(c.Decode(frame, nil))
	c.FlushLog(m)
	m.AssertNumberOfCalls(t, "Info", 1)

	kv := m.Calls[0].Arguments.Get(1).([]any)
	require.Equal([]any{
		"device", byte(1),
		"voltage", "0.0",
		"current", "0.0",
		"hotend", "0.0",
		"coolget", "-80.0",
		"coolset", "0.0",
	}, kv)

	// the same value again does not mark the record dirty
	require.NoError(c.Decode(frame, nil))
	c.FlushLog(m)
	m.AssertNumberOfCalls(t, "Info", 1)

	require.NoError(c.Decode(c.Encode(1, FuncReadColdEnd, []byte("-79.5")), nil))
	c.FlushLog(m)
	m.AssertNumberOfCalls(t, "Info", 2)
}

func TestRecords(t *testing.T) {
	require := require.New(t)
	c := New()
	c.Register(1)
	c.Register(12)
	c.Register(1)

	require.NoError(c.Decode(c.Encode(12, FuncReadHotEnd, []byte("35.0")), nil))

	recs := c.Records("001")
	require.Len(recs, 2)

	first := recs[0].(*asciiproto.Cooler)
	require.Equal(asciiproto.Base{GroupID: "001", UnitID: "000", CamID: "001"}, first.Base)

	second := recs[1].(*asciiproto.Cooler)
	require.Equal("001", second.UnitID)
	require.Equal("012", second.CamID)
	require.InDelta(35.0, second.HotEnd, 1e-9)

	// records are snapshots
	second.HotEnd = 0
	d, _ := c.Get(12)
	require.InDelta(35.0, d.HotEnd, 1e-9)
}

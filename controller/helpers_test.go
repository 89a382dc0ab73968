package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gwac/camannex/asciiproto"
	"github.com/gwac/camannex/controller/controllertest"
	"github.com/gwac/camannex/logger"
)

var _ Transport = (*controllertest.Transport)(nil)

// ============================================================
// fakeFamily: frames look like "<DDFF payload>"
// ============================================================

type decoded struct {
	frame    string
	inflight byte
}

type fakeFamily struct {
	mu       sync.Mutex
	devices  []byte
	decoded  []decoded
	payloads []string
	events   *eventLog
}

var _ Family = (*fakeFamily)(nil)

func (f *fakeFamily) Name() string { return "fake" }

func (f *fakeFamily) Markers() Markers {
	return Markers{Head: []byte("<"), Tail: []byte(">")}
}

func (f *fakeFamily) Register(id byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, id)
}

func (f *fakeFamily) PollFunctions() []byte { return []byte{0x21, 0x22} }

func (f *fakeFamily) Encode(id, fn byte, payload []byte) []byte {
	f.mu.Lock()
	f.payloads = append(f.payloads, string(payload))
	f.mu.Unlock()
	return []byte(fmt.Sprintf("<%02X%02X%s>", id, fn, payload))
}

func (f *fakeFamily) Decode(frame []byte, inflight *Directive) error {
	if len(frame) < 6 {
		return fmt.Errorf("fake: %w: length %d", ErrMalformedFrame, len(frame))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d := decoded{frame: string(frame)}
	if inflight != nil {
		d.inflight = inflight.FuncID
	}
	f.decoded = append(f.decoded, d)
	return nil
}

func (f *fakeFamily) FlushLog(logger.Logger) {
	f.events.add("log")
}

func (f *fakeFamily) Records(groupID string) []asciiproto.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := make([]asciiproto.Record, 0, len(f.devices))
	for _, id := range f.devices {
		recs = append(recs, &asciiproto.Cooler{Base: asciiproto.Base{GroupID: groupID, CamID: fmt.Sprintf("%03d", id)}})
	}
	return recs
}

func (f *fakeFamily) decodedFrames() []decoded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.decoded)
}

// ============================================================
// sinks
// ============================================================

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

type fakeSession struct {
	events *eventLog
	open   bool
	mu     sync.Mutex
	lines  []string
}

func (s *fakeSession) Write(data []byte) error {
	s.mu.Lock()
	s.lines = append(s.lines, string(data))
	s.mu.Unlock()
	s.events.add("net")
	return nil
}

func (s *fakeSession) IsOpen() bool { return s.open }

type fakeDatabase struct {
	events *eventLog
	mu     sync.Mutex
	recs   []*asciiproto.Cooler
	err    error
}

func (d *fakeDatabase) UploadCooler(_ context.Context, rec *asciiproto.Cooler) (string, error) {
	d.mu.Lock()
	d.recs = append(d.recs, rec)
	d.mu.Unlock()
	d.events.add("db")
	if d.err != nil {
		return "rejected", d.err
	}
	return "ok", nil
}

func (d *fakeDatabase) UploadVacuum(context.Context, *asciiproto.Vacuum) (string, error) {
	return "", errors.New("unexpected vacuum upload")
}

// ============================================================
// helpers
// ============================================================

type resultRecorder struct {
	mu    sync.Mutex
	codes []ResultCode
}

func (r *resultRecorder) handle(_ *Engine, code ResultCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *resultRecorder) list() []ResultCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.codes)
}

type testEngine struct {
	*Engine
	tr      *controllertest.Transport
	family  *fakeFamily
	events  *eventLog
	results *resultRecorder
}

// fastOptions shrink every engine period so tests run in milliseconds.
func fastOptions() []Option {
	return []Option{
		WithStartDelay(5 * time.Millisecond),
		WithPollInterval(time.Hour),
		WithSettleDelay(time.Millisecond),
		WithHeartbeatInterval(time.Hour),
		WithResponseTimeout(0),
		WithGroupID("001"),
	}
}

func newTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()

	events := &eventLog{}
	te := &testEngine{
		tr:      controllertest.New(),
		family:  &fakeFamily{events: events},
		events:  events,
		results: &resultRecorder{},
	}

	e, err := NewEngine(te.family, te.tr, append(fastOptions(), opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	e.RegisterResult(te.results.handle)
	te.Engine = e
	t.Cleanup(e.Stop)

	return te
}

// respond answers the in-flight directive with a well formed frame.
func (te *testEngine) respond(value string) {
	d, ok := te.InFlight()
	if !ok {
		return
	}
	te.tr.Feed(fmt.Appendf(nil, "<%02X%02X%s>", d.DeviceID, d.FuncID, value))
}

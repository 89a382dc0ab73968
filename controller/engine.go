package controller

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gwac/camannex/asciiproto"
	"github.com/gwac/camannex/internal/pool"
	"github.com/gwac/camannex/internal/queue"
	"github.com/gwac/camannex/internal/task"
	"github.com/gwac/camannex/logger"
)

// Engine drives the devices of one serial port.
type Engine struct {
	id      uuid.UUID
	family  Family
	tr      Transport
	cfg     *Config
	base    logger.Logger
	logger  atomic.Pointer[logger.Logger]
	proto   *asciiproto.Protocol
	taskMgr *task.Manager
	metrics Metrics
	state   atomicOpState

	lifeMu sync.Mutex // serializes Start and Stop

	mu      sync.Mutex // protects port, baud, queue, sentAt and devices
	port    string
	baud    int
	queue   queue.Queue[*Directive]
	sentAt  time.Time
	devices []byte

	netMu   sync.RWMutex // protects session, groupID and db
	session NetworkSession
	groupID string
	db      Database

	resultMu sync.RWMutex
	onResult ResultHandler

	lastResp atomic.Int64 // unix nanos of the last successfully decoded frame
	alarmed  atomic.Bool

	frameCh chan struct{}
}

// NewEngine creates a stopped engine for family over tr.
func NewEngine(family Family, tr Transport, opts ...Option) (*Engine, error) {
	if family == nil || tr == nil {
		return nil, fmt.Errorf("controller: family and transport are required")
	}

	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	e := &Engine{
		id:      id,
		family:  family,
		tr:      tr,
		cfg:     cfg,
		proto:   asciiproto.New(),
		queue:   queue.NewSliceQueue[*Directive](cfg.queueSize),
		groupID: cfg.groupID,
		frameCh: make(chan struct{}, 1),
	}
	e.base = cfg.logger.With("engine", id.String(), "family", family.Name())
	e.setLogger(e.base)
	e.taskMgr = task.NewManager(context.Background(), e.base)

	return e, nil
}

func (e *Engine) log() logger.Logger {
	return *e.logger.Load()
}

func (e *Engine) setLogger(l logger.Logger) {
	e.logger.Store(&l)
}

// ID returns the unique id of the engine.
func (e *Engine) ID() uuid.UUID { return e.id }

// Family returns the device family of the engine.
func (e *Engine) Family() Family { return e.family }

// Metrics returns the counters of the engine.
func (e *Engine) Metrics() *Metrics { return &e.metrics }

// State returns the lifecycle state.
func (e *Engine) State() OpState { return e.state.Get() }

// PortName returns the port given to the last Start call.
func (e *Engine) PortName() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.port
}

// RegisterResult sets the handler of asynchronous failures, replacing any previous one.
func (e *Engine) RegisterResult(h ResultHandler) {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()

	e.onResult = h
}

// Start opens port at baud and starts the engine loops. It does not block.
func (e *Engine) Start(port string, baud int) error {
	if port == "" {
		return ErrEmptyPortName
	}

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if !e.state.ToStarting() {
		return ErrAlreadyStarted
	}

	e.setLogger(e.base.With("port", port))
	e.tr.SetReadHandler(e.onRead)
	if err := e.tr.Open(port, baud); err != nil {
		e.state.Set(StoppedState)
		return fmt.Errorf("%w: %s: %w", ErrPortOpenFailed, port, err)
	}

	e.mu.Lock()
	e.port, e.baud = port, baud
	e.mu.Unlock()
	e.stamp()

	err := e.taskMgr.StartInterval("poll", e.pollOnce, e.cfg.pollInterval, e.cfg.startDelay)
	if err == nil {
		err = e.taskMgr.Start("respond", e.respondOnce)
	}
	if err == nil {
		err = e.taskMgr.StartInterval("heartbeat", e.heartbeatOnce, e.cfg.heartbeatInterval, e.cfg.heartbeatInterval)
	}
	if err != nil {
		e.shutdown()
		return err
	}

	e.state.ToRunning()
	e.log().Info("engine started", "baud", baud, "devices", len(e.Devices()))

	// directives queued while stopped
	if e.QueueLength() > 0 {
		e.transmitHead()
	}

	return nil
}

// Stop terminates the loops, waits for them and closes the transport.
// It is idempotent.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if !e.state.ToStopping() {
		return
	}
	e.shutdown()
	e.log().Info("engine stopped")
}

func (e *Engine) shutdown() {
	e.taskMgr.Stop()
	e.taskMgr.Wait()

	if err := e.tr.Close(); err != nil {
		e.log().Warn("failed to close port", "error", err)
	}

	e.mu.Lock()
	e.queue.Reset()
	e.mu.Unlock()

	select {
	case <-e.frameCh:
	default:
	}
	e.state.Set(StoppedState)
}

// RegisterDevice adds a device id to the poll registry. Duplicates are ignored.
func (e *Engine) RegisterDevice(id byte) {
	e.mu.Lock()
	if slices.Contains(e.devices, id) {
		e.mu.Unlock()
		return
	}
	e.devices = append(e.devices, id)
	e.mu.Unlock()

	e.family.Register(id)
}

// Devices returns the registered device ids in registration order.
func (e *Engine) Devices() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Clone(e.devices)
}

// Write queues a function call without payload.
func (e *Engine) Write(id, fn byte) {
	e.append(id, fn, nil)
}

// WriteInt queues a function call carrying v formatted as a decimal integer.
func (e *Engine) WriteInt(id, fn byte, v int) {
	e.append(id, fn, strconv.AppendInt(nil, int64(v), 10))
}

// WriteFloat queues a function call carrying v formatted with one decimal digit.
func (e *Engine) WriteFloat(id, fn byte, v float64) {
	e.append(id, fn, strconv.AppendFloat(nil, v, 'f', 1, 64))
}

// append queues one directive and transmits it at once when nothing is in flight.
func (e *Engine) append(id, fn byte, payload []byte) {
	d := &Directive{DeviceID: id, FuncID: fn, Frame: e.family.Encode(id, fn, payload)}

	e.mu.Lock()
	idle := e.queue.IsEmpty()
	e.queue.Enqueue(d)
	e.mu.Unlock()

	if idle && e.state.IsRunning() {
		e.transmitHead()
	}
}

// QueueLength returns the number of queued directives, including the in-flight one.
func (e *Engine) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.queue.Length()
}

// InFlight returns the directive at the queue head.
func (e *Engine) InFlight() (*Directive, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.queue.Peek()
}

// CoupleNetwork attaches the shared network session and sets the group id.
// An already coupled session is kept.
func (e *Engine) CoupleNetwork(session NetworkSession, groupID string) {
	e.netMu.Lock()
	defer e.netMu.Unlock()

	if e.session == nil {
		e.session = session
	}
	e.groupID = groupID
}

// DecoupleNetwork detaches the network session.
func (e *Engine) DecoupleNetwork() {
	e.netMu.Lock()
	defer e.netMu.Unlock()

	e.session = nil
}

// SetDatabase attaches db; nil detaches.
func (e *Engine) SetDatabase(db Database) {
	e.netMu.Lock()
	defer e.netMu.Unlock()

	e.db = db
}

// LastResponse returns the time of the last successfully decoded frame.
func (e *Engine) LastResponse() time.Time {
	return time.Unix(0, e.lastResp.Load())
}

func (e *Engine) stamp() {
	e.lastResp.Store(time.Now().UnixNano())
	e.alarmed.Store(false)
}

func (e *Engine) notify(code ResultCode) {
	e.resultMu.RLock()
	h := e.onResult
	e.resultMu.RUnlock()

	if h != nil {
		h(e, code)
	}
}

// pollOnce queues the poll directives of every device when the queue is idle.
func (e *Engine) pollOnce(_ context.Context) bool {
	devices := e.Devices()
	fns := e.family.PollFunctions()

	e.mu.Lock()
	if !e.queue.IsEmpty() {
		e.mu.Unlock()
		e.metrics.PollSkipCount.Add(1)
		e.log().Debug("poll cycle skipped", "queued", e.QueueLength())
		return true
	}
	for _, id := range devices {
		for _, fn := range fns {
			e.queue.Enqueue(&Directive{DeviceID: id, FuncID: fn, Frame: e.family.Encode(id, fn, nil)})
		}
	}
	e.mu.Unlock()

	e.metrics.PollCycleCount.Add(1)
	e.transmitHead()

	return true
}

// transmitHead writes the queue head. A directive whose write fails is dropped
// and the next one is tried.
func (e *Engine) transmitHead() {
	for {
		e.mu.Lock()
		head, ok := e.queue.Peek()
		if ok {
			e.sentAt = time.Now()
		}
		e.mu.Unlock()
		if !ok {
			return
		}

		err := e.tr.Write(head.Frame)
		if err == nil {
			e.metrics.DirectiveSendCount.Add(1)
			e.log().Debug("directive sent", "device", head.DeviceID, "func", head.FuncID, "frame", strconv.Quote(string(head.Frame)))
			return
		}

		e.metrics.WriteErrCount.Add(1)
		e.log().Error("failed to write directive", "device", head.DeviceID, "func", head.FuncID, "error", err)
		e.dropHead(head)
		e.notify(ResultWriteError)
		if !e.state.IsRunning() {
			return
		}
	}
}

// dropHead removes d when it is still the queue head.
func (e *Engine) dropHead(d *Directive) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if head, ok := e.queue.Peek(); ok && head == d {
		_, _ = e.queue.Dequeue()
	}
}

// onRead runs on the transport goroutine for every read event.
func (e *Engine) onRead(err error) {
	if err != nil {
		if !e.state.IsRunning() {
			return
		}
		e.metrics.ReadErrCount.Add(1)
		e.log().Error("failed to read port", "error", err)
		e.notify(ResultReadError)
		return
	}

	frame := e.nextFrame()
	if frame == nil {
		return
	}
	e.metrics.FrameRecvCount.Add(1)

	head, _ := e.InFlight()
	if err := e.family.Decode(frame, head); err != nil {
		e.metrics.FrameErrCount.Add(1)
		e.log().Warn("frame rejected", "frame", strconv.Quote(string(frame)), "error", err)
	} else {
		e.stamp()
	}

	select {
	case e.frameCh <- struct{}{}:
	default:
		e.log().Debug("response already pending")
	}
}

// nextFrame extracts one complete frame from the receive buffer, nil if there is none.
func (e *Engine) nextFrame() []byte {
	m := e.family.Markers()

	ihead := 0
	if len(m.Head) > 0 {
		if ihead = e.tr.Lookup(m.Head, 0); ihead < 0 {
			return nil
		}
	}
	itail := e.tr.Lookup(m.Tail, ihead+len(m.Head))
	if itail < 0 {
		return nil
	}

	return e.tr.Read(itail-ihead+len(m.Tail), ihead)
}

// respondOnce waits for one response or response timeout and advances the queue.
func (e *Engine) respondOnce(ctx context.Context) bool {
	timer := pool.GetTimer(e.nextDeadline())
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return false

	case <-e.frameCh:
		if !pool.Sleep(ctx, e.cfg.settleDelay) {
			return false
		}
		e.advance(ctx)

	case <-timer.C:
		if d, ok := e.expired(); ok {
			e.metrics.EvictCount.Add(1)
			e.log().Warn("directive timed out", "device", d.DeviceID, "func", d.FuncID)
			e.advance(ctx)
		}
	}

	return true
}

// nextDeadline returns the wait until the in-flight directive times out.
func (e *Engine) nextDeadline() time.Duration {
	timeout := e.cfg.responseTimeout
	if timeout <= 0 {
		return idleWait
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.queue.IsEmpty() {
		return timeout
	}

	return max(time.Until(e.sentAt.Add(timeout)), time.Millisecond)
}

func (e *Engine) expired() (*Directive, bool) {
	if e.cfg.responseTimeout <= 0 {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	head, ok := e.queue.Peek()
	if !ok || time.Since(e.sentAt) < e.cfg.responseTimeout {
		return nil, false
	}

	return head, true
}

// advance pops the head, then transmits the next directive or flushes.
func (e *Engine) advance(ctx context.Context) {
	e.mu.Lock()
	_, _ = e.queue.Dequeue()
	idle := e.queue.IsEmpty()
	e.mu.Unlock()

	if !idle {
		e.transmitHead()
		return
	}
	e.flush(ctx)
}

// heartbeatOnce raises ResultHeartbeatTimeout once per silence period.
func (e *Engine) heartbeatOnce(_ context.Context) bool {
	if time.Since(e.LastResponse()) < e.cfg.heartbeatInterval {
		return true
	}
	if e.alarmed.CompareAndSwap(false, true) {
		e.metrics.HeartbeatAlarmCount.Add(1)
		e.log().Error("no response from port", "since", e.LastResponse().Format(time.RFC3339))
		e.notify(ResultHeartbeatTimeout)
	}

	return true
}

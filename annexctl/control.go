// Package annexctl runs one engine per configured serial port and keeps
// them connected to the serial devices and the central server.
//
// Engines that report a failure are stopped and forgotten; a periodic
// reconnect pass recreates missing engines and redials the server.
package annexctl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gwac/camannex/config"
	"github.com/gwac/camannex/controller"
	"github.com/gwac/camannex/cooler"
	"github.com/gwac/camannex/internal/task"
	"github.com/gwac/camannex/logger"
	"github.com/gwac/camannex/vacuum"
)

// Family kinds of an annex.
const (
	KindCooler = "cooler"
	KindVacuum = "vacuum"
)

const resultQueueSize = 32

// Session is the reconnectable network session shared by all engines.
type Session interface {
	controller.NetworkSession
	Connect(ctx context.Context, address string) error
	Close() error
}

// TransportFactory creates the transport of one configured annex.
type TransportFactory func(kind string, annex config.Annex) (controller.Transport, error)

type result struct {
	engine *controller.Engine
	code   controller.ResultCode
}

type annex struct {
	kind string
	cfg  config.Annex
}

// Control owns the engines of the daemon.
type Control struct {
	cfg          *config.Config
	logger       logger.Logger
	newTransport TransportFactory
	session      Session
	db           controller.Database

	engines *xsync.MapOf[uuid.UUID, *controller.Engine]
	results chan result

	connMu  sync.Mutex // serializes connect passes
	taskMgr *task.Manager
	started bool
	mu      sync.Mutex // protects taskMgr and started
}

// Option configures a Control.
type Option func(*Control)

// WithSession sets the network session; engines stay decoupled without one.
func WithSession(s Session) Option {
	return func(c *Control) { c.session = s }
}

// WithDatabase sets the telemetry database of every engine.
func WithDatabase(db controller.Database) Option {
	return func(c *Control) { c.db = db }
}

func WithTransportFactory(fn TransportFactory) Option {
	return func(c *Control) { c.newTransport = fn }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Control) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Control for cfg. A transport factory is required.
func New(cfg *config.Config, opts ...Option) (*Control, error) {
	if cfg == nil {
		return nil, errors.New("annexctl: nil config")
	}

	c := &Control{
		cfg:     cfg,
		logger:  logger.GetLogger(),
		engines: xsync.NewMapOf[uuid.UUID, *controller.Engine](),
		results: make(chan result, resultQueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.newTransport == nil {
		return nil, errors.New("annexctl: transport factory is required")
	}
	c.logger = c.logger.With("component", "annexctl")

	return c, nil
}

// Start connects the server and every configured port, then runs the
// result and reconnect loops. Connection failures are retried by the
// reconnect loop.
func (c *Control) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("annexctl: already started")
	}

	c.taskMgr = task.NewManager(ctx, c.logger)
	c.connectServer(ctx)
	c.connectPorts()

	if err := c.taskMgr.Start("results", c.resultOnce); err != nil {
		return err
	}
	if err := c.taskMgr.StartInterval("reconnect", c.reconnectOnce, c.cfg.ReconnectInterval, c.cfg.ReconnectInterval); err != nil {
		c.taskMgr.Stop()
		c.taskMgr.Wait()
		return err
	}
	c.started = true

	c.logger.Info("annex control started", "engines", c.engines.Size())

	return nil
}

// Stop stops the loops, every engine and the session.
func (c *Control) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	c.started = false

	c.taskMgr.Stop()
	c.taskMgr.Wait()

	c.engines.Range(func(id uuid.UUID, e *controller.Engine) bool {
		e.Stop()
		c.engines.Delete(id)
		return true
	})

	if c.session != nil {
		if err := c.session.Close(); err != nil {
			c.logger.Warn("failed to close session", "error", err)
		}
	}
	c.logger.Info("annex control stopped")
}

// Engines returns the running engines ordered by family and port.
func (c *Control) Engines() []*controller.Engine {
	list := make([]*controller.Engine, 0, c.engines.Size())
	c.engines.Range(func(_ uuid.UUID, e *controller.Engine) bool {
		list = append(list, e)
		return true
	})
	slices.SortFunc(list, func(a, b *controller.Engine) int {
		if n := strings.Compare(a.Family().Name(), b.Family().Name()); n != 0 {
			return n
		}
		return strings.Compare(a.PortName(), b.PortName())
	})

	return list
}

// Engine returns the engine with id.
func (c *Control) Engine(id uuid.UUID) (*controller.Engine, bool) {
	return c.engines.Load(id)
}

// ServerConnected reports whether the network session is open.
func (c *Control) ServerConnected() bool {
	return c.session != nil && c.session.IsOpen()
}

// NetworkClosed decouples every engine from the session. It is the close
// handler of the session.
func (c *Control) NetworkClosed() {
	c.logger.Warn("connection with server closed")
	c.engines.Range(func(_ uuid.UUID, e *controller.Engine) bool {
		e.DecoupleNetwork()
		return true
	})
}

func (c *Control) connectServer(ctx context.Context) {
	if c.session == nil || !c.cfg.Server.Enable || c.session.IsOpen() {
		return
	}

	addr := c.cfg.Server.Address()
	if err := c.session.Connect(ctx, addr); err != nil {
		c.logger.Warn("failed to connect server", "address", addr, "error", err)
		return
	}

	c.logger.Info("connection with server established", "address", addr)
	c.engines.Range(func(_ uuid.UUID, e *controller.Engine) bool {
		e.CoupleNetwork(c.session, c.cfg.GroupID)
		return true
	})
}

// connectPorts starts an engine for every configured port without one.
func (c *Control) connectPorts() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	running := make(map[string]bool)
	c.engines.Range(func(_ uuid.UUID, e *controller.Engine) bool {
		running[strings.ToLower(e.PortName())] = true
		return true
	})

	var all []annex
	for _, a := range c.cfg.Cooler {
		all = append(all, annex{kind: KindCooler, cfg: a})
	}
	for _, a := range c.cfg.Vacuum {
		all = append(all, annex{kind: KindVacuum, cfg: a})
	}

	for _, a := range all {
		if running[strings.ToLower(a.cfg.Port)] {
			continue
		}
		if err := c.connectSerial(a); err != nil {
			c.logger.Warn("failed to connect annex", "family", a.kind, "port", a.cfg.Port, "error", err)
			continue
		}
	}
}

func (c *Control) connectSerial(a annex) error {
	family, err := c.newFamily(a.kind)
	if err != nil {
		return err
	}
	tr, err := c.newTransport(a.kind, a.cfg)
	if err != nil {
		return fmt.Errorf("annexctl: failed to create transport: %w", err)
	}

	opts := append(c.cfg.Engine.Options(),
		controller.WithGroupID(c.cfg.GroupID),
		controller.WithLogger(c.logger),
	)
	e, err := controller.NewEngine(family, tr, opts...)
	if err != nil {
		return err
	}

	for _, id := range a.cfg.DeviceIDs() {
		e.RegisterDevice(id)
	}
	e.RegisterResult(c.postResult)
	if c.db != nil {
		e.SetDatabase(c.db)
	}
	if c.session != nil {
		e.CoupleNetwork(c.session, c.cfg.GroupID)
	}

	if err := e.Start(a.cfg.Port, a.cfg.BaudRate); err != nil {
		return err
	}

	c.engines.Store(e.ID(), e)
	c.logger.Info("connection with annex established", "family", a.kind, "port", a.cfg.Port, "engine_id", e.ID())

	return nil
}

func (c *Control) newFamily(kind string) (controller.Family, error) {
	verify := c.cfg.Engine.VerifyChecksum
	switch kind {
	case KindCooler:
		return cooler.New(cooler.WithChecksumVerification(verify)), nil
	case KindVacuum:
		return vacuum.New(vacuum.WithChecksumVerification(verify)), nil
	}

	return nil, fmt.Errorf("annexctl: unknown family %q", kind)
}

// postResult hands a failure to the result loop; engines must not be
// stopped from their own goroutines.
func (c *Control) postResult(e *controller.Engine, code controller.ResultCode) {
	select {
	case c.results <- result{engine: e, code: code}:
	default:
		c.logger.Error("result queue full, drop result", "engine_id", e.ID(), "code", code.String())
	}
}

func (c *Control) resultOnce(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case r := <-c.results:
		c.closeEngine(r.engine, r.code)
		return true
	}
}

func (c *Control) closeEngine(e *controller.Engine, code controller.ResultCode) {
	if _, ok := c.engines.LoadAndDelete(e.ID()); !ok {
		return
	}
	c.logger.Warn("connection with annex closed",
		"family", e.Family().Name(),
		"port", e.PortName(),
		"engine_id", e.ID(),
		"reason", code.String(),
	)
	e.Stop()
}

func (c *Control) reconnectOnce(ctx context.Context) bool {
	c.connectServer(ctx)
	c.connectPorts()

	return true
}

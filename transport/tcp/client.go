// Package tcp is the network session to the central telemetry server.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gwac/camannex/asciiproto"
	"github.com/gwac/camannex/logger"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultWriteTimeout   = 5 * time.Second

	keepAlive   = 30 * time.Second
	maxLineSize = 64 * 1024
)

var (
	// ErrNotConnected is returned by Write when no connection is established.
	ErrNotConnected = errors.New("tcp: not connected")
	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("tcp: already connected")
)

// Client is a line oriented TCP session. It is safe for concurrent use and
// may be reconnected after the connection drops.
type Client struct {
	connectTimeout time.Duration
	writeTimeout   time.Duration
	logger         logger.Logger
	onRecord       func(asciiproto.Record)
	onClose        func()

	mu      sync.Mutex // protects conn and closing
	conn    net.Conn
	closing bool
	writeMu sync.Mutex // serializes writes on conn
	wg      sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client) error

// WithConnectTimeout bounds how long Connect waits for the dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("tcp: invalid connect timeout %v", d)
		}
		c.connectTimeout = d
		return nil
	}
}

// WithWriteTimeout sets the deadline applied to each Write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("tcp: invalid write timeout %v", d)
		}
		c.writeTimeout = d
		return nil
	}
}

// WithLogger sets the logger of the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) error {
		if l == nil {
			return errors.New("tcp: nil logger")
		}
		c.logger = l
		return nil
	}
}

// WithRecordHandler sets the callback for telemetry lines received from the server.
func WithRecordHandler(fn func(asciiproto.Record)) Option {
	return func(c *Client) error {
		c.onRecord = fn
		return nil
	}
}

// WithCloseHandler sets the callback run when the server side drops the
// connection. It is not run for Close.
func WithCloseHandler(fn func()) Option {
	return func(c *Client) error {
		c.onClose = fn
		return nil
	}
}

// NewClient creates a disconnected client.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		connectTimeout: DefaultConnectTimeout,
		writeTimeout:   DefaultWriteTimeout,
		logger:         logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Connect dials address ("host:port") and starts the reader.
func (c *Client) Connect(ctx context.Context, address string) error {
	if c.IsOpen() {
		return ErrAlreadyConnected
	}

	dialer := &net.Dialer{KeepAlive: keepAlive}
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return fmt.Errorf("tcp: failed to connect %s: %w", address, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.closing = false
	c.wg.Add(1)
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Info("connected to server",
		"local_addr", conn.LocalAddr().String(),
		"remote_addr", conn.RemoteAddr().String(),
	)

	return nil
}

// IsOpen reports whether the client holds a live connection.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil
}

// Write sends data within the write timeout.
func (c *Client) Write(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("tcp: failed to set write deadline: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("tcp: failed to write: %w", err)
	}

	return nil
}

// Close closes the connection and waits for the reader. Closing a
// disconnected client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	err := conn.Close()
	c.wg.Wait()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("tcp: failed to close: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		c.handleLine(scanner.Text())
	}

	c.mu.Lock()
	local := c.closing
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	if local {
		return
	}

	_ = conn.Close()
	if err := scanner.Err(); err != nil {
		c.logger.Warn("server connection lost", "error", err)
	} else {
		c.logger.Warn("server closed connection")
	}
	if c.onClose != nil {
		c.onClose()
	}
}

func (c *Client) handleLine(line string) {
	if line == "" {
		return
	}

	rec, err := asciiproto.Resolve(line)
	if err != nil {
		c.logger.Debug("ignore server line", "line", line, "error", err)
		return
	}

	c.logger.Debug("server record", "type", rec.ProtoType(), "cam_id", rec.Header().CamID)
	if c.onRecord != nil {
		c.onRecord(rec)
	}
}

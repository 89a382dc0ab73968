// Package serial is the serial port transport of the device engines.
//
// A Port reads continuously on its own goroutine into a bounded receive
// buffer and raises a read event after every chunk. Engines then locate
// frames in the buffer with Lookup and consume them with Read.
package serial

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/gwac/camannex/logger"
)

const (
	DefaultBufferSize  = 4096
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultDataBits    = 8

	readChunkSize = 256
)

var (
	// ErrPortClosed is returned by Write on a closed port.
	ErrPortClosed = errors.New("serial: port closed")
	// ErrAlreadyOpen is returned by Open on an open port.
	ErrAlreadyOpen = errors.New("serial: port already open")
)

// OpenFunc opens a named port; serial.Open by default.
type OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)

// Port implements controller.Transport on go.bug.st/serial.
type Port struct {
	opener      OpenFunc
	bufSize     int
	readTimeout time.Duration
	dataBits    int
	parity      serial.Parity
	stopBits    serial.StopBits
	logger      logger.Logger

	portMu sync.RWMutex // protects port, name and open
	port   serial.Port
	name   string
	open   bool
	wg     sync.WaitGroup

	mu     sync.Mutex // protects buf and onRead
	buf    []byte
	onRead func(error)
}

// Option configures a Port.
type Option func(*Port) error

// WithOpener replaces the function used to open the device.
func WithOpener(fn OpenFunc) Option {
	return func(p *Port) error {
		if fn == nil {
			return errors.New("serial: nil opener")
		}
		p.opener = fn
		return nil
	}
}

// WithBufferSize bounds the receive buffer; the oldest bytes are dropped first.
func WithBufferSize(n int) Option {
	return func(p *Port) error {
		if n < readChunkSize {
			return fmt.Errorf("serial: buffer size %d below %d", n, readChunkSize)
		}
		p.bufSize = n
		return nil
	}
}

// WithReadTimeout sets how long one read blocks; it bounds how fast Close returns.
func WithReadTimeout(d time.Duration) Option {
	return func(p *Port) error {
		if d <= 0 {
			return fmt.Errorf("serial: invalid read timeout %v", d)
		}
		p.readTimeout = d
		return nil
	}
}

// WithFraming sets data bits, parity ("none", "odd", "even", "mark", "space") and stop bits (1 or 2).
func WithFraming(dataBits int, parity string, stopBits int) Option {
	return func(p *Port) error {
		if dataBits < 5 || dataBits > 8 {
			return fmt.Errorf("serial: invalid data bits %d", dataBits)
		}
		switch strings.ToLower(parity) {
		case "", "none":
			p.parity = serial.NoParity
		case "odd":
			p.parity = serial.OddParity
		case "even":
			p.parity = serial.EvenParity
		case "mark":
			p.parity = serial.MarkParity
		case "space":
			p.parity = serial.SpaceParity
		default:
			return fmt.Errorf("serial: invalid parity %q", parity)
		}
		switch stopBits {
		case 0, 1:
			p.stopBits = serial.OneStopBit
		case 2:
			p.stopBits = serial.TwoStopBits
		default:
			return fmt.Errorf("serial: invalid stop bits %d", stopBits)
		}
		p.dataBits = dataBits
		return nil
	}
}

// WithLogger sets the logger of the port.
func WithLogger(l logger.Logger) Option {
	return func(p *Port) error {
		if l == nil {
			return errors.New("serial: nil logger")
		}
		p.logger = l
		return nil
	}
}

// NewPort creates a closed 8N1 port.
func NewPort(opts ...Option) (*Port, error) {
	p := &Port{
		opener:      serial.Open,
		bufSize:     DefaultBufferSize,
		readTimeout: DefaultReadTimeout,
		dataBits:    DefaultDataBits,
		parity:      serial.NoParity,
		stopBits:    serial.OneStopBit,
		logger:      logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Open opens name at baud and starts the read loop.
func (p *Port) Open(name string, baud int) error {
	p.portMu.Lock()
	defer p.portMu.Unlock()

	if p.open {
		return ErrAlreadyOpen
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: p.dataBits,
		Parity:   p.parity,
		StopBits: p.stopBits,
	}
	port, err := p.opener(name, mode)
	if err != nil {
		return fmt.Errorf("serial: failed to open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(p.readTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("serial: failed to set read timeout: %w", err)
	}

	p.mu.Lock()
	p.buf = p.buf[:0]
	p.mu.Unlock()

	p.port, p.name, p.open = port, name, true
	p.wg.Add(1)
	go p.readLoop(port)

	p.logger.Info("serial port opened", "port", name, "baud", baud)

	return nil
}

// Close stops the read loop and closes the device. Closing a closed port is a no-op.
func (p *Port) Close() error {
	p.portMu.Lock()
	if !p.open {
		p.portMu.Unlock()
		return nil
	}
	port, name := p.port, p.name
	p.open = false
	p.port = nil
	p.portMu.Unlock()

	err := port.Close()
	p.wg.Wait()
	p.logger.Info("serial port closed", "port", name)

	if err != nil {
		return fmt.Errorf("serial: failed to close %s: %w", name, err)
	}
	return nil
}

// IsOpen reports whether the port is open.
func (p *Port) IsOpen() bool {
	p.portMu.RLock()
	defer p.portMu.RUnlock()

	return p.open
}

// Write sends all of data.
func (p *Port) Write(data []byte) error {
	p.portMu.RLock()
	defer p.portMu.RUnlock()

	if !p.open {
		return ErrPortClosed
	}

	for len(data) > 0 {
		n, err := p.port.Write(data)
		if err != nil {
			return fmt.Errorf("serial: failed to write %s: %w", p.name, err)
		}
		if n == 0 {
			return fmt.Errorf("serial: short write on %s", p.name)
		}
		data = data[n:]
	}

	return nil
}

// SetReadHandler installs fn. It is called with nil after each chunk is buffered
// and with the error that ends the read loop.
func (p *Port) SetReadHandler(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onRead = fn
}

// Lookup returns the offset of pattern in the receive buffer at or after from, or -1.
func (p *Port) Lookup(pattern []byte, from int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if from < 0 || from > len(p.buf) {
		return -1
	}
	i := bytes.Index(p.buf[from:], pattern)
	if i < 0 {
		return -1
	}

	return from + i
}

// Read returns n bytes at offset and discards the buffer up to offset+n.
// It returns nil when the range is not buffered.
func (p *Port) Read(n, offset int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < 0 || offset < 0 || offset+n > len(p.buf) {
		return nil
	}
	out := make([]byte, n)
	copy(out, p.buf[offset:offset+n])
	p.buf = append(p.buf[:0], p.buf[offset+n:]...)

	return out
}

// Buffered returns the number of bytes waiting in the receive buffer.
func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.buf)
}

func (p *Port) readLoop(port serial.Port) {
	defer p.wg.Done()

	chunk := make([]byte, readChunkSize)
	for {
		n, err := port.Read(chunk)
		if !p.IsOpen() {
			return
		}
		if err != nil {
			p.logger.Error("serial read failed", "error", err)
			p.emit(err)
			return
		}
		if n == 0 {
			continue // read timeout
		}

		p.mu.Lock()
		p.buf = append(p.buf, chunk[:n]...)
		if over := len(p.buf) - p.bufSize; over > 0 {
			p.buf = append(p.buf[:0], p.buf[over:]...)
		}
		p.mu.Unlock()

		p.emit(nil)
	}
}

func (p *Port) emit(err error) {
	p.mu.Lock()
	fn := p.onRead
	p.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

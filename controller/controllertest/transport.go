// Package controllertest provides an in-memory transport for engine tests.
package controllertest

import (
	"bytes"
	"slices"
	"sync"
)

// Transport is an in-memory serial port. Bytes given to Feed land in the
// receive buffer and raise a read event, as a real port would.
type Transport struct {
	mu       sync.Mutex
	buf      []byte
	open     bool
	openErr  error
	writeErr error
	written  [][]byte
	onRead   func(error)
	closes   int
	onWrite  func(data []byte)
}

// New returns a closed Transport.
func New() *Transport {
	return &Transport{}
}

func (t *Transport) Open(string, int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.openErr != nil {
		return t.openErr
	}
	t.open = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.open = false
	t.closes++
	return nil
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.open
}

func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	t.written = append(t.written, slices.Clone(data))
	err, hook := t.writeErr, t.onWrite
	t.mu.Unlock()

	if err == nil && hook != nil {
		hook(slices.Clone(data))
	}
	return err
}

func (t *Transport) Lookup(pattern []byte, from int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if from > len(t.buf) {
		return -1
	}
	i := bytes.Index(t.buf[from:], pattern)
	if i < 0 {
		return -1
	}
	return i + from
}

func (t *Transport) Read(n, offset int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if offset < 0 || n < 0 || offset+n > len(t.buf) {
		return nil
	}
	out := slices.Clone(t.buf[offset : offset+n])
	t.buf = t.buf[offset+n:]
	return out
}

func (t *Transport) SetReadHandler(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onRead = fn
}

// Feed appends received bytes and raises a read event.
func (t *Transport) Feed(data []byte) {
	t.mu.Lock()
	t.buf = append(t.buf, data...)
	fn := t.onRead
	t.mu.Unlock()

	if fn != nil {
		fn(nil)
	}
}

// Fail raises a read error event.
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	fn := t.onRead
	t.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// Writes returns every frame written so far.
func (t *Transport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.written))
	for i, w := range t.written {
		out[i] = string(w)
	}
	return out
}

// SetOpenErr makes the next Open calls fail with err.
func (t *Transport) SetOpenErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.openErr = err
}

// SetWriteErr makes Write calls fail with err.
func (t *Transport) SetWriteErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writeErr = err
}

// OnWrite registers a device simulator called after every successful write.
// It runs on the writer's goroutine; answer asynchronously with Feed.
func (t *Transport) OnWrite(fn func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onWrite = fn
}

// Closes returns how many times Close was called.
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closes
}

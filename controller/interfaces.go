package controller

import (
	"context"

	"github.com/gwac/camannex/asciiproto"
	"github.com/gwac/camannex/logger"
)

// Markers delimit a frame in the receive stream. An empty Head means the
// frame starts at the beginning of the buffered data.
type Markers struct {
	Head []byte
	Tail []byte
}

// Family is the device specific part of an engine.
//
// Implementations must be safe for concurrent use: Decode runs on the
// transport's reader goroutine while flushes run on the respond goroutine.
type Family interface {
	// Name is a short lowercase family name used in logs.
	Name() string
	// Markers returns the frame delimiters.
	Markers() Markers
	// Register creates the telemetry record of a device if it does not exist.
	Register(deviceID byte)
	// PollFunctions lists the function ids queried for every device on each poll cycle.
	PollFunctions() []byte
	// Encode builds the frame for a function call with an optional ASCII payload.
	Encode(deviceID, funcID byte, payload []byte) []byte
	// Decode parses one complete frame into the telemetry table.
	// inflight is the directive at the queue head, nil when nothing is in flight.
	Decode(frame []byte, inflight *Directive) error
	// FlushLog logs the records changed since the last flush and clears their dirty state.
	FlushLog(l logger.Logger)
	// Records returns a fresh snapshot record for every device, in registration order.
	Records(groupID string) []asciiproto.Record
}

// Transport is the byte stream under an engine, normally a serial port.
//
// The transport buffers received bytes; Lookup and Read operate on that buffer.
type Transport interface {
	Open(port string, baud int) error
	Close() error
	IsOpen() bool
	// Write sends data, returning once it is handed to the device.
	Write(data []byte) error
	// Lookup returns the offset of pattern in the receive buffer, searching from from.
	// It returns -1 when pattern is absent.
	Lookup(pattern []byte, from int) int
	// Read returns n buffered bytes starting at offset and discards everything up to offset+n.
	Read(n, offset int) []byte
	// SetReadHandler registers the callback run after new bytes arrive (err nil)
	// or when reading fails. It runs on the transport's goroutine.
	SetReadHandler(fn func(err error))
}

// NetworkSession is the shared outbound connection to the central server.
type NetworkSession interface {
	Write(data []byte) error
	IsOpen() bool
}

// Database uploads telemetry records. The status string describes the outcome.
type Database interface {
	UploadCooler(ctx context.Context, rec *asciiproto.Cooler) (status string, err error)
	UploadVacuum(ctx context.Context, rec *asciiproto.Vacuum) (status string, err error)
}

package controller

import "errors"

var (
	// ErrEmptyPortName is returned by Start when no port name is given.
	ErrEmptyPortName = errors.New("controller: empty port name")
	// ErrPortOpenFailed is returned by Start when the transport cannot be opened.
	ErrPortOpenFailed = errors.New("controller: failed to open port")
	// ErrAlreadyStarted is returned by Start on a running engine.
	ErrAlreadyStarted = errors.New("controller: engine already started")

	// ErrMalformedFrame is wrapped by families for frames of the wrong shape.
	ErrMalformedFrame = errors.New("controller: malformed frame")
	// ErrChecksumMismatch is wrapped by families when checksum verification is on.
	ErrChecksumMismatch = errors.New("controller: checksum mismatch")
	// ErrUnsolicitedFrame is wrapped by families that need the in-flight directive to decode.
	ErrUnsolicitedFrame = errors.New("controller: frame without directive in flight")
)

// ResultCode is the asynchronous failure reported to the ResultHandler.
type ResultCode int

const (
	// ResultReadError reports a failed serial read.
	ResultReadError ResultCode = 1
	// ResultWriteError reports a failed serial write.
	ResultWriteError ResultCode = 2
	// ResultHeartbeatTimeout reports a port that stopped answering.
	ResultHeartbeatTimeout ResultCode = 3
)

func (c ResultCode) String() string {
	switch c {
	case ResultReadError:
		return "read error"
	case ResultWriteError:
		return "write error"
	case ResultHeartbeatTimeout:
		return "heartbeat timeout"
	default:
		return "unknown"
	}
}

// ResultHandler receives asynchronous failures of an engine.
//
// It is called from the engine's own goroutines and must not call Stop
// directly; hand the engine off to another goroutine instead.
type ResultHandler func(e *Engine, code ResultCode)

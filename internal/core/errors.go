package core

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/cockroachdb/errors"
)

var (
	ErrPrinterNotFound    = errors.New("printer not found")
	ErrPrinterDisabled    = errors.New("printer is disabled")
	ErrUnknownPrinterType = errors.New("unknown printer type")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobNotFailed       = errors.New("only failed jobs can be retried")
	ErrAgentUnavailable   = errors.New("agent not connected")

	// ErrPersistence marks store failures. The processor aborts a cycle on them.
	ErrPersistence = errors.New("persistence failure")
)

type ErrorKind string

const (
	KindConnectionRefused ErrorKind = "connection_refused"
	KindTimeout           ErrorKind = "timeout"
	KindAgentNotConnected ErrorKind = "agent_not_connected"
	KindWriteError        ErrorKind = "write_error"
	KindUnknown           ErrorKind = "unknown"
)

// TransportError is returned by senders. Kind is what operators see on the job.
type TransportError struct {
	Kind    ErrorKind
	Printer string
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("printer %s (%s): %v", e.Printer, e.Address, e.Err)
	}
	return fmt.Sprintf("printer %s: %v", e.Printer, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KindOf maps any send error onto the transport taxonomy.
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, ErrAgentUnavailable) {
		return KindAgentNotConnected
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// JobErrorMessage is the string stored on a failed job.
func JobErrorMessage(err error) string {
	return fmt.Sprintf("%s: %v", KindOf(err), err)
}

// MarkPersistence tags err so the processor treats it as a store failure.
func MarkPersistence(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrPersistence)
}

func classifyNetError(err error, fallback ErrorKind) ErrorKind {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	return fallback
}

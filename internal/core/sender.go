package core

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/orrn/kitchenprint/internal/config"
)

const (
	defaultRawPort          = "9100"
	defaultDialTimeout      = 5 * time.Second
	defaultReadWriteTimeout = 10 * time.Second
)

// Sender delivers a rendered payload to one printer.
type Sender interface {
	Send(ctx context.Context, printer *Printer, payload []byte) error
}

// Dispatcher picks the transport for a printer purely from its type.
type Dispatcher struct {
	network Sender
	agent   Sender
}

func NewDispatcher(network, agent Sender) *Dispatcher {
	return &Dispatcher{network: network, agent: agent}
}

func (d *Dispatcher) senderFor(t PrinterType) (Sender, error) {
	switch t {
	case PrinterTypeNetwork:
		return d.network, nil
	case PrinterTypeAgent:
		return d.agent, nil
	default:
		return nil, errors.Wrapf(ErrUnknownPrinterType, "%q", t)
	}
}

func (d *Dispatcher) Send(ctx context.Context, printer *Printer, payload []byte) error {
	s, err := d.senderFor(printer.Type)
	if err != nil {
		return err
	}
	if s == nil {
		return errors.Newf("no sender configured for %s printers", printer.Type)
	}
	return s.Send(ctx, printer, payload)
}

// NetworkSender writes raw bytes to a printer's TCP port, one connection per attempt.
type NetworkSender struct {
	dialer       *net.Dialer
	writeTimeout time.Duration
}

func NewNetworkSender(cfg *config.PrintersConfig) *NetworkSender {
	dialTimeout := defaultDialTimeout
	writeTimeout := defaultReadWriteTimeout
	if cfg != nil {
		if cfg.ConnectionTimeout > 0 {
			dialTimeout = cfg.ConnectionTimeout
		}
		if cfg.WriteTimeout > 0 {
			writeTimeout = cfg.WriteTimeout
		}
	}
	return &NetworkSender{
		dialer:       &net.Dialer{Timeout: dialTimeout},
		writeTimeout: writeTimeout,
	}
}

func (s *NetworkSender) Send(ctx context.Context, printer *Printer, payload []byte) error {
	address := printerAddress(printer.Address)

	conn, err := s.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return &TransportError{
			Kind:    classifyNetError(err, KindUnknown),
			Printer: printer.ID,
			Address: address,
			Err:     err,
		}
	}
	defer conn.Close()

	// Unblock the write if the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	if _, err := conn.Write(payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.WithSecondaryError(ctxErr, err)
		}
		return &TransportError{
			Kind:    classifyNetError(err, KindWriteError),
			Printer: printer.ID,
			Address: address,
			Err:     err,
		}
	}

	return nil
}

func printerAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defaultRawPort)
}

package agent

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/orrn/kitchenprint/internal/core"
)

// Sender delivers jobs for agent printers. It never queues: a missing session fails at once
// and the job's own retry takes over.
type Sender struct {
	registry   *Registry
	ackTimeout time.Duration
}

func NewSender(registry *Registry, ackTimeout time.Duration) *Sender {
	if ackTimeout <= 0 {
		ackTimeout = 15 * time.Second
	}
	return &Sender{registry: registry, ackTimeout: ackTimeout}
}

func (s *Sender) Send(ctx context.Context, printer *core.Printer, payload []byte) error {
	agentID := printer.Address

	conn, ok := s.registry.Lookup(agentID)
	if !ok {
		return &core.TransportError{
			Kind:    core.KindAgentNotConnected,
			Printer: printer.ID,
			Address: agentID,
			Err:     core.ErrAgentUnavailable,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()

	err := conn.Print(ctx, payload)
	if err == nil {
		return nil
	}

	kind := core.KindWriteError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = core.KindTimeout
	case errors.Is(err, ErrSessionClosed):
		kind = core.KindAgentNotConnected
	case errors.Is(err, context.Canceled):
		kind = core.KindUnknown
	}
	return &core.TransportError{Kind: kind, Printer: printer.ID, Address: agentID, Err: err}
}

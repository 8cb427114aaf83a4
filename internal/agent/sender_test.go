package agent

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/kitchenprint/internal/core"
)

func agentPrinter(agentID string) *core.Printer {
	return &core.Printer{ID: "bar", Name: "Bar", Type: core.PrinterTypeAgent, Address: agentID, Enabled: true}
}

func TestSender_NotConnectedFailsImmediately(t *testing.T) {
	s := NewSender(NewRegistry(nil, nil), 10*time.Second)

	start := time.Now()
	err := s.Send(context.Background(), agentPrinter("ghost"), []byte("x"))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 100*time.Millisecond)
	assert.True(t, errors.Is(err, core.ErrAgentUnavailable))
	assert.Equal(t, core.KindAgentNotConnected, core.KindOf(err))
}

func TestSender_AckTimeout(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register("agent-a", &fakeConn{id: "s1", print: func(ctx context.Context, payload []byte) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	s := NewSender(r, 50*time.Millisecond)

	err := s.Send(context.Background(), agentPrinter("agent-a"), []byte("x"))
	require.Error(t, err)
	assert.Equal(t, core.KindTimeout, core.KindOf(err))
}

func TestSender_ResultMapping(t *testing.T) {
	tests := []struct {
		name     string
		printErr error
		want     core.ErrorKind
	}{
		{"rejected", errors.Wrap(ErrPrintRejected, "paper out"), core.KindWriteError},
		{"session closed", ErrSessionClosed, core.KindAgentNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil, nil)
			r.Register("agent-a", &fakeConn{id: "s1", print: func(context.Context, []byte) error { return tt.printErr }})

			err := NewSender(r, time.Second).Send(context.Background(), agentPrinter("agent-a"), []byte("x"))
			require.Error(t, err)
			assert.Equal(t, tt.want, core.KindOf(err))
		})
	}

	r := NewRegistry(nil, nil)
	var got []byte
	r.Register("agent-a", &fakeConn{id: "s1", print: func(_ context.Context, payload []byte) error {
		got = payload
		return nil
	}})
	require.NoError(t, NewSender(r, time.Second).Send(context.Background(), agentPrinter("agent-a"), []byte("ticket")))
	assert.Equal(t, []byte("ticket"), got)
}

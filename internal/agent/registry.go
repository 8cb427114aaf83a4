package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conn is one live agent session. A new Conn is created on every reconnect.
type Conn interface {
	ID() string
	Print(ctx context.Context, payload []byte) error
	Close() error
}

type ConnectedGauge interface {
	SetConnectedAgents(n int)
}

type Registration struct {
	AgentID     string    `json:"agent_id"`
	SessionID   string    `json:"session_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

type entry struct {
	conn  Conn
	since time.Time
}

// Registry maps durable agent IDs to their current session. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]entry
	gauge    ConnectedGauge
	logger   *zap.SugaredLogger
}

func NewRegistry(logger *zap.SugaredLogger, gauge ConnectedGauge) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		sessions: make(map[string]entry),
		gauge:    gauge,
		logger:   logger.Named("registry"),
	}
}

// Register points agentID at conn, replacing any earlier session. The replaced session is
// left alone; its own close event will find it no longer on record.
func (r *Registry) Register(agentID string, conn Conn) {
	r.mu.Lock()
	prev, replaced := r.sessions[agentID]
	r.sessions[agentID] = entry{conn: conn, since: time.Now()}
	n := len(r.sessions)
	r.mu.Unlock()

	if replaced {
		r.logger.Infow("Agent session superseded",
			"agent_id", agentID,
			"old_session", prev.conn.ID(),
			"new_session", conn.ID(),
		)
	} else {
		r.logger.Infow("Agent registered", "agent_id", agentID, "session_id", conn.ID())
	}
	r.report(n)
}

func (r *Registry) Lookup(agentID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[agentID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// OnSessionClosed removes every agent still mapped to conn. A close for a session that has
// already been superseded removes nothing.
func (r *Registry) OnSessionClosed(conn Conn) {
	r.mu.Lock()
	var removed []string
	for agentID, e := range r.sessions {
		if e.conn == conn {
			delete(r.sessions, agentID)
			removed = append(removed, agentID)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if len(removed) == 0 {
		r.logger.Debugw("Ignoring close of superseded session", "session_id", conn.ID())
		return
	}
	for _, agentID := range removed {
		r.logger.Infow("Agent disconnected", "agent_id", agentID, "session_id", conn.ID())
	}
	r.report(n)
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Snapshot() []Registration {
	r.mu.Lock()
	out := make([]Registration, 0, len(r.sessions))
	for agentID, e := range r.sessions {
		out = append(out, Registration{AgentID: agentID, SessionID: e.conn.ID(), ConnectedAt: e.since})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// CloseAll closes every registered session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.sessions))
	for _, e := range r.sessions {
		conns = append(conns, e.conn)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (r *Registry) report(n int) {
	if r.gauge != nil {
		r.gauge.SetConnectedAgents(n)
	}
}

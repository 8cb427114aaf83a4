package agent

import (
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/orrn/kitchenprint/internal/config"
)

var ErrBadRegistration = errors.New("invalid agent registration")

// TokenValidator checks an agent token and returns the agent ID it was issued to.
type TokenValidator interface {
	ValidateAgentToken(token string) (string, error)
}

// Server accepts agent WebSocket connections, performs the register handshake, and keeps
// the session in the registry for as long as the socket lives.
type Server struct {
	registry *Registry
	tokens   TokenValidator
	config   config.AgentsConfig
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func NewServer(registry *Registry, tokens TokenValidator, cfg config.AgentsConfig, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = 10 * time.Second
	}
	return &Server{
		registry: registry,
		tokens:   tokens,
		config:   cfg,
		logger:   logger.Named("agent"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents are not browsers; origin is meaningless here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("Agent upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	agentID, err := s.handshake(conn)
	if err != nil {
		s.logger.Warnw("Agent registration rejected", "remote", r.RemoteAddr, "error", err)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(&Message{Type: MsgError, Error: err.Error()})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "registration rejected"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	session := newSession(agentID, conn, s.logger)

	// Registered before the ack goes out, so an agent that has seen "registered" is always
	// reachable through Lookup.
	s.registry.Register(agentID, session)
	defer s.registry.OnSessionClosed(session)

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(&Message{Type: MsgRegistered, AgentID: agentID, SessionID: session.ID()}); err != nil {
		s.logger.Warnw("Failed to acknowledge agent", "agent_id", agentID, "error", err)
		_ = session.Close()
		return
	}

	go session.writePump()
	session.readPump()
}

func (s *Server) handshake(conn *websocket.Conn) (string, error) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.config.RegisterTimeout))

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return "", errors.Wrap(err, "read register message")
	}
	if msg.Type != MsgRegister {
		return "", errors.Wrapf(ErrBadRegistration, "expected %s, got %q", MsgRegister, msg.Type)
	}

	agentID := strings.TrimSpace(msg.AgentID)
	if agentID == "" {
		return "", errors.Wrap(ErrBadRegistration, "agent_id is required")
	}

	if s.config.RequireToken {
		if s.tokens == nil {
			return "", errors.Wrap(ErrBadRegistration, "token validation is not configured")
		}
		subject, err := s.tokens.ValidateAgentToken(msg.Token)
		if err != nil {
			return "", errors.Wrap(ErrBadRegistration, "invalid token")
		}
		if subject != agentID {
			return "", errors.Wrap(ErrBadRegistration, "token was issued to a different agent")
		}
	}

	_ = conn.SetReadDeadline(time.Time{})
	return agentID, nil
}

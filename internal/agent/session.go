package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrSessionClosed = errors.New("agent session closed")
	ErrPrintRejected = errors.New("agent reported print failure")
)

// Session is the server side of one registered agent connection. Exactly one goroutine writes
// to the socket (writePump); print results are matched to callers by request ID.
type Session struct {
	id      string
	agentID string
	conn    *websocket.Conn
	logger  *zap.SugaredLogger

	send chan *Message
	done chan struct{}

	mu      sync.Mutex
	pending map[string]chan *Message

	closeOnce sync.Once
}

func newSession(agentID string, conn *websocket.Conn, logger *zap.SugaredLogger) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		agentID: agentID,
		conn:    conn,
		logger:  logger.With("agent_id", agentID, "session_id", id),
		send:    make(chan *Message, 16),
		done:    make(chan struct{}),
		pending: make(map[string]chan *Message),
	}
}

func (s *Session) ID() string      { return s.id }
func (s *Session) AgentID() string { return s.agentID }

// Print pushes payload to the agent and waits for its print_result.
func (s *Session) Print(ctx context.Context, payload []byte) error {
	reqID := uuid.NewString()
	result := make(chan *Message, 1)

	s.mu.Lock()
	s.pending[reqID] = result
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}()

	msg := &Message{Type: MsgPrint, RequestID: reqID, Payload: payload}
	select {
	case s.send <- msg:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case res := <-result:
		if !res.Success {
			return errors.Wrapf(ErrPrintRejected, "%s", res.Error)
		}
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
	return nil
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warnw("Agent read error", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warnw("Malformed agent message", "error", err)
			continue
		}

		switch msg.Type {
		case MsgPrintResult:
			s.deliver(&msg)
		default:
			s.logger.Debugw("Ignoring agent message", "type", msg.Type)
		}
	}
}

func (s *Session) deliver(msg *Message) {
	s.mu.Lock()
	ch, ok := s.pending[msg.RequestID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debugw("Late print result", "request_id", msg.RequestID)
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Warnw("Agent write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

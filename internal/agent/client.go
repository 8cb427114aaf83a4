package agent

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ClientConfig struct {
	ServerURL  string
	AgentID    string
	Token      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client is the agent side of the channel. It stays registered until its context ends,
// reconnecting with capped exponential backoff.
type Client struct {
	config ClientConfig
	device Device
	dialer *websocket.Dialer
	logger *zap.SugaredLogger
}

func NewClient(cfg ClientConfig, device Device, logger *zap.SugaredLogger) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		config: cfg,
		device: device,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger.Named("client").With("agent_id", cfg.AgentID),
	}
}

// Run returns nil once ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.config.MinBackoff
	for {
		registered, err := c.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if registered {
			backoff = c.config.MinBackoff
		}
		c.logger.Warnw("Disconnected from server", "error", err, "retry_in", backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		backoff *= 2
		if backoff > c.config.MaxBackoff {
			backoff = c.config.MaxBackoff
		}
	}
}

// runSession reports whether registration succeeded, so the caller can reset its backoff.
func (c *Client) runSession(ctx context.Context) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.config.ServerURL, nil)
	if err != nil {
		return false, errors.Wrapf(err, "dial %s", c.config.ServerURL)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sessionID, err := c.register(conn)
	if err != nil {
		return false, err
	}
	c.logger.Infow("Registered with server", "session_id", sessionID)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return true, errors.Wrap(err, "read")
		}
		if msg.Type != MsgPrint {
			c.logger.Debugw("Ignoring server message", "type", msg.Type)
			continue
		}

		reply := c.handlePrint(ctx, &msg)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reply); err != nil {
			return true, errors.Wrap(err, "write print result")
		}
	}
}

func (c *Client) register(conn *websocket.Conn) (string, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(&Message{Type: MsgRegister, AgentID: c.config.AgentID, Token: c.config.Token}); err != nil {
		return "", errors.Wrap(err, "send register")
	}

	_ = conn.SetReadDeadline(time.Now().Add(writeWait))
	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		return "", errors.Wrap(err, "read register reply")
	}
	switch reply.Type {
	case MsgRegistered:
		return reply.SessionID, nil
	case MsgError:
		return "", errors.Newf("registration rejected: %s", reply.Error)
	default:
		return "", errors.Newf("unexpected register reply %q", reply.Type)
	}
}

func (c *Client) handlePrint(ctx context.Context, msg *Message) *Message {
	reply := &Message{Type: MsgPrintResult, RequestID: msg.RequestID, Success: true}
	if err := c.device.Write(ctx, msg.Payload); err != nil {
		c.logger.Errorw("Print failed", "request_id", msg.RequestID, "error", err)
		reply.Success = false
		reply.Error = err.Error()
		return reply
	}
	c.logger.Infow("Printed", "request_id", msg.RequestID, "bytes", len(msg.Payload))
	return reply
}

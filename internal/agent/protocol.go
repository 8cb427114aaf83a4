// Package agent runs the channel between the server and remote print agents: the session
// registry, the WebSocket endpoint agents dial, the sender the processor uses, and the agent
// side client.
package agent

import (
	"time"
)

type MessageType string

const (
	MsgRegister    MessageType = "register"
	MsgRegistered  MessageType = "registered"
	MsgError       MessageType = "error"
	MsgPrint       MessageType = "print"
	MsgPrintResult MessageType = "print_result"
)

// Message is the single JSON envelope used in both directions. Payload is base64 on the wire.
type Message struct {
	Type      MessageType `json:"type"`
	AgentID   string      `json:"agent_id,omitempty"`
	Token     string      `json:"token,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Payload   []byte      `json:"payload,omitempty"`
	Success   bool        `json:"success,omitempty"`
	Error     string      `json:"error,omitempty"`
}

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	// must be less than pongWait
	pingPeriod = 54 * time.Second

	// print payloads are rendered receipts; 4MB leaves room for raster logos
	maxMessageSize = 4 << 20
)

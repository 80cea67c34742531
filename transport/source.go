// Package transport supplies the byte-stream source the session reads: one
// request per user turn, answered by a streaming response body carrying the
// orchestrator's event protocol.
package transport

import (
	"context"
	"io"
)

// TurnRequest describes one user turn submitted to the orchestrator.
type TurnRequest struct {
	// SessionID groups the turns of one conversation.
	SessionID string
	// AgentID names the agent participating in this turn.
	AgentID string
	// Message is the user's message text.
	Message string
}

// Source opens one response stream per user turn. The returned reader
// delivers raw protocol bytes in order until the stream ends; closing it is
// a valid, non-erroneous way to end a turn early. The core performs no
// retry or resumption; a half-received stream stays half-received.
type Source interface {
	Open(ctx context.Context, req TurnRequest) (io.ReadCloser, error)
}

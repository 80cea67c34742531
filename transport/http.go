package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// conversePath is the orchestrator endpoint that accepts a user turn and
// answers with the event stream.
const conversePath = "/converse"

// converseRequest is the JSON body posted for each turn.
type converseRequest struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	Message   string `json:"message"`
}

// HTTPSource opens response streams over HTTP. The configured client must
// not carry an overall request timeout: the response body stays open for
// the lifetime of the turn.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource returns a source posting to the orchestrator at baseURL.
// A nil client defaults to a plain http.Client.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Open implements Source. The returned body is the raw event stream; the
// caller owns it and must close it, including to cancel the turn early.
func (s *HTTPSource) Open(ctx context.Context, req TurnRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(converseRequest{
		SessionID: req.SessionID,
		AgentID:   req.AgentID,
		Message:   req.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal converse request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+conversePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build converse request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Detail:     strings.TrimSpace(string(detail)),
		}
	}
	return resp.Body, nil
}

// StatusError reports a non-200 answer to the converse request.
type StatusError struct {
	Detail     string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("orchestrator returned status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("orchestrator returned status %d", e.StatusCode)
}

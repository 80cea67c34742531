package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource_Open(t *testing.T) {
	var got converseRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/converse", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"end\"}\n\n")
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL+"/", nil)
	body, err := source.Open(context.Background(), TurnRequest{
		SessionID: "sess-1",
		AgentID:   "planner",
		Message:   "hello",
	})
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "planner", got.AgentID)
	assert.Equal(t, "hello", got.Message)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"end\"}\n\n", string(data))
}

func TestHTTPSource_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent not found", http.StatusNotFound)
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL, nil)
	_, err := source.Open(context.Background(), TurnRequest{Message: "hello"})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "agent not found", statusErr.Detail)
	assert.Contains(t, statusErr.Error(), "404")
}

func TestHTTPSource_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := NewHTTPSource(server.URL, nil)
	_, err := source.Open(ctx, TurnRequest{Message: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

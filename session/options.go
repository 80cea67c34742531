package session

import "tracechat/history"

// Config holds session configuration.
type Config struct {
	// AgentID names the agent addressed by this session's turns.
	AgentID string
	// EventBufferSize is the capacity of the session event channel. Events
	// are dropped, not blocked on, when the consumer falls behind.
	EventBufferSize int
	// History, when non-nil, receives every turn as it completes.
	History *history.Store
	// ReadBufferSize is the size of the stream read buffer.
	ReadBufferSize int
}

func defaultConfig() Config {
	return Config{
		AgentID:         "default",
		EventBufferSize: 256,
		ReadBufferSize:  4096,
	}
}

// Option configures a session.
type Option func(*Config)

// WithAgentID sets the agent addressed by the session's turns.
func WithAgentID(id string) Option {
	return func(c *Config) { c.AgentID = id }
}

// WithEventBufferSize sets the event channel capacity.
func WithEventBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.EventBufferSize = n
		}
	}
}

// WithHistory attaches a store that receives each turn as it completes.
// Store failures are surfaced as error events, never as turn failures.
func WithHistory(store *history.Store) Option {
	return func(c *Config) { c.History = store }
}

// WithReadBufferSize sets the stream read buffer size.
func WithReadBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ReadBufferSize = n
		}
	}
}

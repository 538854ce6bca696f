package session

import (
	"time"

	"github.com/danmuck/extbridge/internal/protocol/frame"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session defaults.
type Config struct {
	// Role labels logs and metrics, e.g. "host" or "runner".
	Role               string
	ConnectTimeout     time.Duration
	MaxConnectAttempts int
	// RequestTimeout bounds every Request; zero waits for the reply or ctx.
	RequestTimeout      time.Duration
	WriteTimeout        time.Duration
	ReadBufferSize      int
	// MaxInflightHandlers bounds concurrent handler calls. With the default
	// of 1 inbound frames are handled strictly in receive order; larger values
	// keep the start order but let completions overlap.
	MaxInflightHandlers int
	// HandlerQueue is how many unmatched frames may wait for a handler slot
	// before the read loop stops reading.
	HandlerQueue int
	// OrphanMemory is how many abandoned channels are remembered so late
	// replies are dropped instead of reaching the handler.
	OrphanMemory int
	// ReplyToDispatch also replies to channel-less frames. The default false
	// means only frames carrying a channel get a reply.
	ReplyToDispatch bool
	Limits          frame.Limits
	Backoff         BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Role:                "session",
		ConnectTimeout:      5 * time.Second,
		MaxConnectAttempts:  5,
		RequestTimeout:      30 * time.Second,
		WriteTimeout:        15 * time.Second,
		ReadBufferSize:      32 * 1024,
		MaxInflightHandlers: 1,
		HandlerQueue:        256,
		OrphanMemory:        1024,
		Limits:              frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig. RequestTimeout is
// left alone: zero means no transport-level deadline.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Role == "" {
		c.Role = d.Role
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxConnectAttempts < 0 {
		c.MaxConnectAttempts = 0
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxInflightHandlers <= 0 {
		c.MaxInflightHandlers = d.MaxInflightHandlers
	}
	if c.HandlerQueue <= 0 {
		c.HandlerQueue = d.HandlerQueue
	}
	if c.OrphanMemory <= 0 {
		c.OrphanMemory = d.OrphanMemory
	}
	if c.Limits.MaxFrameBytes <= 0 {
		c.Limits.MaxFrameBytes = d.Limits.MaxFrameBytes
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}

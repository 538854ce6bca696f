package config

import (
	"time"

	"github.com/danmuck/extbridge/internal/protocol/session"
)

// SessionConfig applies the file overrides onto session.DefaultConfig.
func (t TransportConfig) SessionConfig(role string) session.Config {
	cfg := session.DefaultConfig()
	if role != "" {
		cfg.Role = role
	}
	if t.ConnectTimeoutMS > 0 {
		cfg.ConnectTimeout = time.Duration(t.ConnectTimeoutMS) * time.Millisecond
	}
	if t.MaxConnectAttempts > 0 {
		cfg.MaxConnectAttempts = t.MaxConnectAttempts
	}
	if t.RequestTimeoutMS > 0 {
		cfg.RequestTimeout = time.Duration(t.RequestTimeoutMS) * time.Millisecond
	}
	if t.WriteTimeoutMS > 0 {
		cfg.WriteTimeout = time.Duration(t.WriteTimeoutMS) * time.Millisecond
	}
	if t.MaxInflightHandlers > 0 {
		cfg.MaxInflightHandlers = t.MaxInflightHandlers
	}
	if t.HandlerQueue > 0 {
		cfg.HandlerQueue = t.HandlerQueue
	}
	if t.OrphanMemory > 0 {
		cfg.OrphanMemory = t.OrphanMemory
	}
	if t.MaxFrameBytes > 0 {
		cfg.Limits.MaxFrameBytes = t.MaxFrameBytes
	}
	cfg.Limits.SkipSchema = t.SkipSchema
	cfg.ReplyToDispatch = t.ReplyToDispatch
	return cfg
}

// PingInterval is zero when periodic pings are disabled.
func (h HostConfig) PingInterval() time.Duration {
	return time.Duration(h.PingIntervalMS) * time.Millisecond
}

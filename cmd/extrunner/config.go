package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/extbridge/internal/protocol/session"
)

type runnerOptions struct {
	Name        string
	IPCPath     string
	AdminAddr   string
	AdminToken  string
	CorsOrigins []string
	Session     session.Config
}

type fileConfig struct {
	Name        string   `toml:"name"`
	IPCPath     string   `toml:"ipc_path"`
	AdminAddr   string   `toml:"admin_addr"`
	AdminToken  string   `toml:"admin_token"`
	CorsOrigins []string `toml:"cors_origins"`
	Transport   struct {
		ConnectTimeout      string `toml:"connect_timeout"`
		ConnectTimeoutMS    int64  `toml:"connect_timeout_ms"`
		MaxConnectAttempts  int    `toml:"max_connect_attempts"`
		RequestTimeout      string `toml:"request_timeout"`
		RequestTimeoutMS    int64  `toml:"request_timeout_ms"`
		WriteTimeoutMS      int64  `toml:"write_timeout_ms"`
		MaxInflightHandlers int    `toml:"max_inflight_handlers"`
		HandlerQueue        int    `toml:"handler_queue"`
		OrphanMemory        int    `toml:"orphan_memory"`
		MaxFrameBytes       int    `toml:"max_frame_bytes"`
		SkipSchema          bool   `toml:"skip_schema"`
		ReplyToDispatch     bool   `toml:"reply_to_dispatch"`
	} `toml:"transport"`
}

func defaultRunnerOptions() runnerOptions {
	cfg := session.DefaultConfig()
	cfg.Role = "runner"
	return runnerOptions{
		Name:    "extrunner",
		Session: cfg,
	}
}

// loadRunnerOptions applies only the keys present in path over the defaults.
func loadRunnerOptions(path string) (runnerOptions, error) {
	opts := defaultRunnerOptions()
	if strings.TrimSpace(path) == "" {
		return opts, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runnerOptions{}, fmt.Errorf("load runner config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			opts.Name = name
		}
	}
	if meta.IsDefined("ipc_path") {
		opts.IPCPath = strings.TrimSpace(raw.IPCPath)
	}
	if meta.IsDefined("admin_addr") {
		opts.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		opts.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		opts.CorsOrigins = raw.CorsOrigins
	}

	t := raw.Transport
	if meta.IsDefined("transport", "connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(t.ConnectTimeout))
		if err != nil {
			return runnerOptions{}, fmt.Errorf("parse transport.connect_timeout: %w", err)
		}
		opts.Session.ConnectTimeout = d
	}
	if meta.IsDefined("transport", "connect_timeout_ms") {
		opts.Session.ConnectTimeout = time.Duration(t.ConnectTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("transport", "max_connect_attempts") {
		opts.Session.MaxConnectAttempts = t.MaxConnectAttempts
	}
	if meta.IsDefined("transport", "request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(t.RequestTimeout))
		if err != nil {
			return runnerOptions{}, fmt.Errorf("parse transport.request_timeout: %w", err)
		}
		opts.Session.RequestTimeout = d
	}
	if meta.IsDefined("transport", "request_timeout_ms") {
		opts.Session.RequestTimeout = time.Duration(t.RequestTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("transport", "write_timeout_ms") {
		opts.Session.WriteTimeout = time.Duration(t.WriteTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("transport", "max_inflight_handlers") {
		opts.Session.MaxInflightHandlers = t.MaxInflightHandlers
	}
	if meta.IsDefined("transport", "handler_queue") {
		opts.Session.HandlerQueue = t.HandlerQueue
	}
	if meta.IsDefined("transport", "orphan_memory") {
		opts.Session.OrphanMemory = t.OrphanMemory
	}
	if meta.IsDefined("transport", "max_frame_bytes") {
		opts.Session.Limits.MaxFrameBytes = t.MaxFrameBytes
	}
	if meta.IsDefined("transport", "skip_schema") {
		opts.Session.Limits.SkipSchema = t.SkipSchema
	}
	if meta.IsDefined("transport", "reply_to_dispatch") {
		opts.Session.ReplyToDispatch = t.ReplyToDispatch
	}
	return opts, nil
}

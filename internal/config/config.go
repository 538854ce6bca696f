package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/extbridge/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

// RunnerConfig is the file schema for the sandbox-side binary.
type RunnerConfig struct {
	Name        string          `toml:"name"`
	IPCPath     string          `toml:"ipc_path"`
	AdminAddr   string          `toml:"admin_addr"`
	AdminToken  string          `toml:"admin_token"`
	CorsOrigins []string        `toml:"cors_origins"`
	Transport   TransportConfig `toml:"transport"`
}

// HostConfig is the file schema for the host-side binary.
type HostConfig struct {
	Name           string          `toml:"name"`
	Listen         string          `toml:"listen"`
	AdminAddr      string          `toml:"admin_addr"`
	AdminToken     string          `toml:"admin_token"`
	CorsOrigins    []string        `toml:"cors_origins"`
	PingIntervalMS int64           `toml:"ping_interval_ms"`
	Transport      TransportConfig `toml:"transport"`
}

// TransportConfig overrides session defaults. Zero values keep the default.
type TransportConfig struct {
	ConnectTimeoutMS    int64 `toml:"connect_timeout_ms"`
	MaxConnectAttempts  int   `toml:"max_connect_attempts"`
	RequestTimeoutMS    int64 `toml:"request_timeout_ms"`
	WriteTimeoutMS      int64 `toml:"write_timeout_ms"`
	MaxInflightHandlers int   `toml:"max_inflight_handlers"`
	HandlerQueue        int   `toml:"handler_queue"`
	OrphanMemory        int   `toml:"orphan_memory"`
	MaxFrameBytes       int   `toml:"max_frame_bytes"`
	SkipSchema          bool  `toml:"skip_schema"`
	ReplyToDispatch     bool  `toml:"reply_to_dispatch"`
}

func LoadRunnerConfig(path string) (RunnerConfig, error) {
	var cfg RunnerConfig
	if err := loadToml(path, &cfg); err != nil {
		return RunnerConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "extrunner"
	}
	if err := ValidateRunnerConfig(cfg); err != nil {
		return RunnerConfig{}, err
	}
	return cfg, nil
}

func LoadHostConfig(path string) (HostConfig, error) {
	var cfg HostConfig
	if err := loadToml(path, &cfg); err != nil {
		return HostConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "exthost"
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:7700"
	}
	if err := ValidateHostConfig(cfg); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRunnerConfig(cfg RunnerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("runner config missing name")
	}
	if strings.TrimSpace(cfg.IPCPath) != "" {
		if _, _, err := session.ParseAddress(cfg.IPCPath); err != nil {
			return fmt.Errorf("runner config ipc_path: %w", err)
		}
	}
	if err := ValidateTransport(cfg.Transport); err != nil {
		return fmt.Errorf("runner config transport: %w", err)
	}
	return nil
}

func ValidateHostConfig(cfg HostConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("host config missing name")
	}
	if _, _, err := session.ParseAddress(cfg.Listen); err != nil {
		return fmt.Errorf("host config listen: %w", err)
	}
	if cfg.PingIntervalMS < 0 {
		return fmt.Errorf("host config ping_interval_ms must not be negative")
	}
	if err := ValidateTransport(cfg.Transport); err != nil {
		return fmt.Errorf("host config transport: %w", err)
	}
	return nil
}

func ValidateTransport(cfg TransportConfig) error {
	checks := []struct {
		name  string
		value int64
	}{
		{"connect_timeout_ms", cfg.ConnectTimeoutMS},
		{"max_connect_attempts", int64(cfg.MaxConnectAttempts)},
		{"request_timeout_ms", cfg.RequestTimeoutMS},
		{"write_timeout_ms", cfg.WriteTimeoutMS},
		{"max_inflight_handlers", int64(cfg.MaxInflightHandlers)},
		{"handler_queue", int64(cfg.HandlerQueue)},
		{"orphan_memory", int64(cfg.OrphanMemory)},
		{"max_frame_bytes", int64(cfg.MaxFrameBytes)},
	}
	for _, c := range checks {
		if c.value < 0 {
			return fmt.Errorf("%s must not be negative", c.name)
		}
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "runner":
		return runnerTemplate, nil
	case "host":
		return hostTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind and reports the first problem found.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "runner":
		_, err := LoadRunnerConfig(path)
		return err
	case "host":
		_, err := LoadHostConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const runnerTemplate = `name = "extrunner"
ipc_path = "unix:///tmp/extbridge.sock"
admin_addr = "127.0.0.1:7711"
admin_token = ""
cors_origins = ["http://localhost:3000"]

[transport]
connect_timeout_ms = 5000
max_connect_attempts = 5
request_timeout_ms = 30000
write_timeout_ms = 15000
max_inflight_handlers = 1
handler_queue = 256
orphan_memory = 1024
max_frame_bytes = 8388608
skip_schema = false
reply_to_dispatch = false
`

const hostTemplate = `name = "exthost"
listen = "unix:///tmp/extbridge.sock"
admin_addr = "127.0.0.1:7710"
admin_token = ""
cors_origins = ["http://localhost:3000"]
ping_interval_ms = 10000

[transport]
request_timeout_ms = 30000
write_timeout_ms = 15000
max_inflight_handlers = 1
handler_queue = 256
orphan_memory = 1024
max_frame_bytes = 8388608
`

package session

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
)

// ParseAddress maps an IPC address to a dial network and address.
//
//	unix:///run/ext.sock  -> unix /run/ext.sock
//	tcp://127.0.0.1:7000  -> tcp 127.0.0.1:7000
//	127.0.0.1:7000        -> tcp 127.0.0.1:7000
//	/tmp/ext.sock         -> unix /tmp/ext.sock
func ParseAddress(address string) (string, string, error) {
	raw := strings.TrimSpace(address)
	if raw == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if scheme, rest, ok := strings.Cut(raw, "://"); ok {
		if rest == "" {
			return "", "", fmt.Errorf("%w: %q has no target", ErrInvalidAddress, raw)
		}
		switch strings.ToLower(scheme) {
		case "unix":
			return "unix", rest, nil
		case "tcp", "tcp4", "tcp6":
			if _, _, err := net.SplitHostPort(rest); err != nil {
				return "", "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
			}
			return strings.ToLower(scheme), rest, nil
		default:
			return "", "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, scheme)
		}
	}
	if strings.ContainsAny(raw, `/\`) {
		return "unix", raw, nil
	}
	if _, port, err := net.SplitHostPort(raw); err == nil && port != "" {
		return "tcp", raw, nil
	}
	return "unix", raw, nil
}

// Listen opens a listener for address. A stale unix socket file left by a
// previous host is removed first.
func Listen(address string) (net.Listener, error) {
	network, addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if network == "unix" {
		if err := removeStaleSocket(addr); err != nil {
			return nil, err
		}
	}
	return net.Listen(network, addr)
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%w: %s exists and is not a socket", ErrInvalidAddress, path)
	}
	return os.Remove(path)
}

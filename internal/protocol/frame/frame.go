package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Delimiter terminates every frame on the wire. encoding/json escapes control
// characters inside strings, so it never appears unescaped in a frame body.
const Delimiter byte = '\n'

var (
	ErrEncoding      = errors.New("frame: payload not encodable")
	ErrFrameParse    = errors.New("frame: malformed frame")
	ErrFrameTooLarge = errors.New("frame: frame too large")
)

// Frame is one complete wire message.
type Frame struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	Channel       string          `json:"channel,omitempty"`
	ExtensionName string          `json:"extensionName,omitempty"`
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes int
	SkipSchema    bool
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 8 * 1024 * 1024,
	}
}

// NewFrame marshals payload into a frame. A nil payload encodes as JSON null.
func NewFrame(messageType string, payload any, channel, origin string) (Frame, error) {
	data, err := MarshalPayload(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:          messageType,
		Data:          data,
		Channel:       channel,
		ExtensionName: origin,
	}, nil
}

// MarshalPayload converts an arbitrary value into frame data. Raw JSON is
// validated and compacted, so it survives an encode/decode cycle unchanged.
func MarshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("%w: invalid raw json: %v", ErrEncoding, err)
		}
		return json.RawMessage(buf.Bytes()), nil
	}
	data, err := marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

// marshal is json.Marshal without HTML escaping. The result carries no
// trailing newline.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// HasChannel reports whether the frame belongs to a correlated exchange.
func (f Frame) HasChannel() bool {
	return f.Channel != ""
}

// Origin returns the sub-extension the frame concerns, if any.
func (f Frame) Origin() string {
	return f.ExtensionName
}

// Reply builds the response frame for f, keeping its type, channel and origin.
func (f Frame) Reply(data json.RawMessage) Frame {
	return Frame{
		Type:          f.Type,
		Data:          append(json.RawMessage(nil), data...),
		Channel:       f.Channel,
		ExtensionName: f.ExtensionName,
	}
}

// Equal compares frames field by field. Data is compared in compact form, so
// insignificant whitespace does not matter.
func (f Frame) Equal(other Frame) bool {
	return f.Type == other.Type &&
		f.Channel == other.Channel &&
		f.ExtensionName == other.ExtensionName &&
		sameJSON(f.Data, other.Data)
}

func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// Encode serializes f as one delimiter-terminated frame.
func Encode(f Frame) ([]byte, error) {
	if len(f.Data) > 0 && !json.Valid(f.Data) {
		return nil, fmt.Errorf("%w: type=%q data is not valid json", ErrEncoding, f.Type)
	}
	body, err := marshal(f)
	if err != nil {
		return nil, fmt.Errorf("%w: type=%q: %v", ErrEncoding, f.Type, err)
	}
	return append(body, Delimiter), nil
}

// EncodeWithLimits is Encode plus an upper bound on the encoded size.
func EncodeWithLimits(f Frame, limits Limits) ([]byte, error) {
	out, err := Encode(f)
	if err != nil {
		return nil, err
	}
	if limits.MaxFrameBytes > 0 && len(out) > limits.MaxFrameBytes {
		return nil, fmt.Errorf("%w: encoded=%d max=%d", ErrFrameTooLarge, len(out), limits.MaxFrameBytes)
	}
	return out, nil
}

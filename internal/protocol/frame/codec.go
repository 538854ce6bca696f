package frame

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/danmuck/extbridge/internal/protocol/schema"
)

// ParseError describes one segment that could not be decoded. The stream
// continues past it.
type ParseError struct {
	Segment int
	Raw     []byte
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("frame: segment %d: %v", e.Segment, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrFrameParse, e.Err}
}

// DecodeAll splits prev+next on the delimiter. Every complete segment is
// parsed as one frame; the trailing segment, possibly empty, is returned as
// the fragment to pass back in on the next call. Blank segments are skipped.
// Neither input is modified.
func DecodeAll(prev, next []byte) ([]Frame, []byte, []error) {
	return decodeAll(prev, next, DefaultLimits())
}

func decodeAll(prev, next []byte, limits Limits) ([]Frame, []byte, []error) {
	buf := make([]byte, 0, len(prev)+len(next))
	buf = append(buf, prev...)
	buf = append(buf, next...)

	var (
		frames []Frame
		errs   []error
	)
	segment := 0
	for {
		idx := bytes.IndexByte(buf, Delimiter)
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		f, err := parseSegment(line, limits)
		if err != nil {
			errs = append(errs, &ParseError{Segment: segment, Raw: append([]byte(nil), line...), Err: err})
		} else {
			frames = append(frames, f)
		}
		segment++
	}
	return frames, buf, errs
}

// Parse decodes a single frame body without its delimiter.
func Parse(body []byte) (Frame, error) {
	f, err := parseSegment(body, DefaultLimits())
	if err != nil {
		return Frame{}, &ParseError{Raw: append([]byte(nil), body...), Err: err}
	}
	return f, nil
}

func parseSegment(line []byte, limits Limits) (Frame, error) {
	line = bytes.TrimSpace(line)
	if limits.MaxFrameBytes > 0 && len(line) > limits.MaxFrameBytes {
		return Frame{}, fmt.Errorf("%w: size=%d max=%d", ErrFrameTooLarge, len(line), limits.MaxFrameBytes)
	}
	if !limits.SkipSchema {
		if err := schema.ValidateEnvelope(line); err != nil {
			return Frame{}, err
		}
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, err
	}
	if f.Type == "" {
		return Frame{}, schema.ValidationError{Field: schema.FieldType, Reason: "missing message type"}
	}
	return f, nil
}

// Decoder holds the receive buffer for one connection.
type Decoder struct {
	limits   Limits
	fragment []byte
}

func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits}
}

// Feed consumes one receive event and returns the frames it completed.
// Per-segment failures are returned alongside the frames; they do not stop
// decoding. A fragment that outgrows MaxFrameBytes without a delimiter is
// dropped and reported as ErrFrameTooLarge.
func (d *Decoder) Feed(b []byte) ([]Frame, []error) {
	frames, rest, errs := decodeAll(d.fragment, b, d.limits)
	if d.limits.MaxFrameBytes > 0 && len(rest) > d.limits.MaxFrameBytes {
		errs = append(errs, fmt.Errorf("%w: unterminated fragment=%d max=%d", ErrFrameTooLarge, len(rest), d.limits.MaxFrameBytes))
		rest = nil
	}
	d.fragment = rest
	return frames, errs
}

// Buffered returns the size of the retained fragment.
func (d *Decoder) Buffered() int {
	return len(d.fragment)
}

func (d *Decoder) Reset() {
	d.fragment = nil
}

package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/danmuck/extbridge/internal/protocol/schema"
	"github.com/danmuck/extbridge/internal/testutil/testlog"
)

func mustEncode(t *testing.T, f Frame) []byte {
	t.Helper()
	out, err := Encode(f)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	in, err := NewFrame("getAccounts", map[string]any{"page": 2, "tags": []string{"a", "b"}}, "chan-1", "ext.spotify")
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	frames, rest, errs := DecodeAll(nil, mustEncode(t, in))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected fragment: %q", rest)
	}
	if len(frames) != 1 || !frames[0].Equal(in) {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", frames, in)
	}

	raw, err := NewFrame("render", json.RawMessage("{ \"a\": \"<b>\",\n  \"n\": [1, 2] }"), "chan-2", "")
	if err != nil {
		t.Fatalf("new raw frame: %v", err)
	}
	if string(raw.Data) != `{"a":"<b>","n":[1,2]}` {
		t.Fatalf("raw payload not compacted: %s", raw.Data)
	}
	encoded := mustEncode(t, raw)
	if bytes.Contains(encoded, []byte(`\u003c`)) {
		t.Fatalf("payload was html-escaped: %s", encoded)
	}
	frames, _, errs = DecodeAll(nil, encoded)
	if len(errs) != 0 || len(frames) != 1 || !frames[0].Equal(raw) {
		t.Fatalf("raw round trip mismatch: frames=%+v errs=%v", frames, errs)
	}
	if string(frames[0].Data) != string(raw.Data) {
		t.Fatalf("raw data got=%s want=%s", frames[0].Data, raw.Data)
	}

	// A frame built by hand with loose whitespace still compares equal.
	loose := Frame{Type: "render", Data: json.RawMessage("{ \"a\": 1 }")}
	frames, _, _ = DecodeAll(nil, mustEncode(t, loose))
	if len(frames) != 1 || !frames[0].Equal(loose) {
		t.Fatalf("loose round trip mismatch: %+v", frames)
	}
}

func TestRoundTripWithoutChannelOrOrigin(t *testing.T) {
	testlog.Start(t)
	in := Frame{Type: "songChanged", Data: json.RawMessage(`{"id":"s1"}`)}
	encoded := mustEncode(t, in)
	if bytes.Contains(encoded, []byte("channel")) || bytes.Contains(encoded, []byte("extensionName")) {
		t.Fatalf("optional fields should be omitted: %s", encoded)
	}
	frames, _, errs := DecodeAll(nil, encoded)
	if len(errs) != 0 || len(frames) != 1 || !frames[0].Equal(in) {
		t.Fatalf("round trip mismatch: frames=%+v errs=%v", frames, errs)
	}
}

func TestEncodedBodyHasSingleDelimiter(t *testing.T) {
	testlog.Start(t)
	in, err := NewFrame("lyrics", "line one\nline two\n", "", "")
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	encoded := mustEncode(t, in)
	if n := bytes.Count(encoded, []byte{Delimiter}); n != 1 {
		t.Fatalf("expected exactly one delimiter, got %d in %q", n, encoded)
	}
	if encoded[len(encoded)-1] != Delimiter {
		t.Fatalf("frame must end with delimiter")
	}
	frames, _, _ := DecodeAll(nil, encoded)
	var got string
	if err := json.Unmarshal(frames[0].Data, &got); err != nil || got != "line one\nline two\n" {
		t.Fatalf("payload mismatch: %q err=%v", got, err)
	}
}

func TestNewFrameRejectsUnencodablePayload(t *testing.T) {
	testlog.Start(t)
	if _, err := NewFrame("bad", make(chan int), "", ""); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding for chan, got %v", err)
	}
	if _, err := NewFrame("bad", math.NaN(), "", ""); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding for NaN, got %v", err)
	}
	if _, err := Encode(Frame{Type: "bad", Data: json.RawMessage(`{"open":`)}); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding for invalid raw data, got %v", err)
	}
}

func TestEncodeWithLimitsRejectsOversize(t *testing.T) {
	testlog.Start(t)
	in, _ := NewFrame("big", string(bytes.Repeat([]byte("x"), 128)), "", "")
	_, err := EncodeWithLimits(in, Limits{MaxFrameBytes: 64})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeSplitAcrossReceiveEvents(t *testing.T) {
	testlog.Start(t)
	first := []byte(`{"type":"r`)
	second := []byte(`eq","channel":"c1","data":1}` + "\n")

	frames, rest, errs := DecodeAll(nil, first)
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("first event must not produce frames: frames=%v errs=%v", frames, errs)
	}
	if !bytes.Equal(rest, first) {
		t.Fatalf("fragment mismatch: %q", rest)
	}

	frames, rest, errs = DecodeAll(rest, second)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(rest) != 0 {
		t.Fatalf("expected empty fragment, got %q", rest)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	if frames[0].Type != "req" || frames[0].Channel != "c1" || string(frames[0].Data) != "1" {
		t.Fatalf("unexpected frame: %+v", frames[0])
	}
}

func TestDecodeChunkedMatchesWhole(t *testing.T) {
	testlog.Start(t)
	var stream []byte
	for i, typ := range []string{"a", "bb", "ccc", "dddd"} {
		f, err := NewFrame(typ, map[string]int{"i": i}, "", "ext")
		if err != nil {
			t.Fatalf("new frame: %v", err)
		}
		stream = append(stream, mustEncode(t, f)...)
	}
	stream = append(stream, []byte(`{"type":"partial"`)...)

	wantFrames, wantRest, wantErrs := DecodeAll(nil, stream)
	if len(wantErrs) != 0 || len(wantFrames) != 4 {
		t.Fatalf("whole decode: frames=%d errs=%v", len(wantFrames), wantErrs)
	}

	for chunk := 1; chunk <= len(stream); chunk++ {
		var (
			got  []Frame
			frag []byte
		)
		for off := 0; off < len(stream); off += chunk {
			end := min(off+chunk, len(stream))
			frames, rest, errs := DecodeAll(frag, stream[off:end])
			if len(errs) != 0 {
				t.Fatalf("chunk=%d unexpected errors: %v", chunk, errs)
			}
			got = append(got, frames...)
			frag = rest
		}
		if len(got) != len(wantFrames) {
			t.Fatalf("chunk=%d frame count got=%d want=%d", chunk, len(got), len(wantFrames))
		}
		for i := range got {
			if !got[i].Equal(wantFrames[i]) {
				t.Fatalf("chunk=%d frame %d mismatch: got=%+v want=%+v", chunk, i, got[i], wantFrames[i])
			}
		}
		if !bytes.Equal(frag, wantRest) {
			t.Fatalf("chunk=%d fragment mismatch: got=%q want=%q", chunk, frag, wantRest)
		}
	}
}

func TestDecodeDelimiterEdgeCases(t *testing.T) {
	testlog.Start(t)
	input := []byte("\n\n{\"type\":\"x\"}\n\n\n{\"type\":\"y\"}\n")
	frames, rest, errs := DecodeAll(nil, input)
	if len(errs) != 0 {
		t.Fatalf("blank segments must be skipped silently: %v", errs)
	}
	if len(frames) != 2 || frames[0].Type != "x" || frames[1].Type != "y" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected fragment: %q", rest)
	}
}

func TestDecodeWithoutDelimiterKeepsEverything(t *testing.T) {
	testlog.Start(t)
	prev := []byte(`{"type":`)
	next := []byte(`"half"`)
	frames, rest, errs := DecodeAll(prev, next)
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("expected nothing decoded: frames=%v errs=%v", frames, errs)
	}
	if string(rest) != `{"type":"half"` {
		t.Fatalf("unexpected fragment: %q", rest)
	}
	if string(prev) != `{"type":` || string(next) != `"half"` {
		t.Fatalf("inputs were mutated")
	}
}

func TestDecodeSkipsMalformedSegment(t *testing.T) {
	testlog.Start(t)
	input := []byte("{\"type\":\"ok1\"}\nnot json at all\n{\"type\":\"ok2\"}\n")
	frames, _, errs := DecodeAll(nil, input)
	if len(frames) != 2 || frames[0].Type != "ok1" || frames[1].Type != "ok2" {
		t.Fatalf("malformed segment should not hide neighbours: %+v", frames)
	}
	if len(errs) != 1 {
		t.Fatalf("expected one parse error, got %v", errs)
	}
	if !errors.Is(errs[0], ErrFrameParse) {
		t.Fatalf("expected ErrFrameParse, got %v", errs[0])
	}
	var pe *ParseError
	if !errors.As(errs[0], &pe) || pe.Segment != 1 || string(pe.Raw) != "not json at all" {
		t.Fatalf("unexpected parse error: %+v", pe)
	}
}

func TestDecodeRejectsEnvelopeViolations(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name  string
		line  string
		field string
	}{
		{name: "missing type", line: `{"data":1}`, field: schema.FieldType},
		{name: "numeric channel", line: `{"type":"x","channel":7}`, field: schema.FieldChannel},
		{name: "array body", line: `[1,2,3]`},
	}
	for _, tc := range cases {
		_, _, errs := DecodeAll(nil, []byte(tc.line+"\n"))
		if len(errs) != 1 || !errors.Is(errs[0], ErrFrameParse) {
			t.Fatalf("%s: expected parse error, got %v", tc.name, errs)
		}
		if tc.field == "" {
			continue
		}
		var ve schema.ValidationError
		if !errors.As(errs[0], &ve) || ve.Field != tc.field {
			t.Fatalf("%s: expected validation error on %q, got %v", tc.name, tc.field, errs[0])
		}
	}
}

func TestDecoderDropsOversizeFragment(t *testing.T) {
	testlog.Start(t)
	d := NewDecoder(Limits{MaxFrameBytes: 32})
	frames, errs := d.Feed(bytes.Repeat([]byte("z"), 40))
	if len(frames) != 0 {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", errs)
	}
	if d.Buffered() != 0 {
		t.Fatalf("oversize fragment should be dropped, buffered=%d", d.Buffered())
	}
	frames, errs = d.Feed([]byte("{\"type\":\"after\"}\n"))
	if len(errs) != 0 || len(frames) != 1 || frames[0].Type != "after" {
		t.Fatalf("decoder should recover: frames=%+v errs=%v", frames, errs)
	}
}

func TestDecoderFeedRetainsFragment(t *testing.T) {
	testlog.Start(t)
	d := NewDecoder(DefaultLimits())
	frames, errs := d.Feed([]byte("{\"type\":\"one\"}\n{\"type\":"))
	if len(errs) != 0 || len(frames) != 1 {
		t.Fatalf("unexpected decode: frames=%+v errs=%v", frames, errs)
	}
	if d.Buffered() != len(`{"type":`) {
		t.Fatalf("unexpected buffered size %d", d.Buffered())
	}
	frames, _ = d.Feed([]byte("\"two\"}\n"))
	if len(frames) != 1 || frames[0].Type != "two" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	d.Reset()
	if d.Buffered() != 0 {
		t.Fatalf("reset should clear fragment")
	}
}

func TestReplyKeepsCorrelationMetadata(t *testing.T) {
	testlog.Start(t)
	req := Frame{Type: "getAccounts", Channel: "c9", ExtensionName: "ext.a", Data: json.RawMessage(`{}`)}
	reply := req.Reply(json.RawMessage(`"done"`))
	if reply.Type != req.Type || reply.Channel != req.Channel || reply.Origin() != "ext.a" {
		t.Fatalf("reply lost metadata: %+v", reply)
	}
	if string(reply.Data) != `"done"` {
		t.Fatalf("unexpected reply data: %s", reply.Data)
	}
}

func TestParseSingleBody(t *testing.T) {
	testlog.Start(t)
	f, err := Parse([]byte(`{"type":"ping","channel":"c"}`))
	if err != nil || f.Type != "ping" || !f.HasChannel() {
		t.Fatalf("unexpected parse: %+v err=%v", f, err)
	}
	if _, err := Parse([]byte(`{`)); !errors.Is(err, ErrFrameParse) {
		t.Fatalf("expected ErrFrameParse, got %v", err)
	}
}

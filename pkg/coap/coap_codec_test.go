package coap

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderBitPacking(t *testing.T) {
	h := Header{Version: 1, Type: Confirmable, TokenLength: 2, Code: GET, MessageID: 0x0102}
	got := h.Append(nil)
	want := []byte{0x12, 0x01, 0x01, 0x02}
	if !bytes.Equal(got, want) {
		t.Fatalf("header = % x, want % x", got, want)
	}

	parsed, err := ParseHeader(got)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if parsed != h {
		t.Errorf("ParseHeader = %+v, want %+v", parsed, h)
	}
}

func TestEncodeLengthWithoutOptions(t *testing.T) {
	for n := 0; n <= MaxTokenLen; n++ {
		m := NewRequest(NonConfirmable, POST, 7, bytes.Repeat([]byte{0xAB}, n))
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("token len %d: Encode failed: %v", n, err)
		}
		if len(data) != 4+n {
			t.Errorf("token len %d: wire length = %d, want %d", n, len(data), 4+n)
		}
		if data[0]&0x0F != byte(n) {
			t.Errorf("token len %d: tkl nibble = %d", n, data[0]&0x0F)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"empty ack", Message{Version: 1, Type: Acknowledgement, Code: Empty, MessageID: 0}},
		{"get with token", Message{Version: 1, Type: Confirmable, Code: GET, MessageID: 0xFFFF, Token: []byte{0x00, 0x01}}},
		{"content with payload", Message{Version: 1, Type: NonConfirmable, Code: Content, MessageID: 42,
			Token: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Payload: []byte("12.5")}},
		{"binary payload starting with marker", Message{Version: 1, Type: Confirmable, Code: Changed, MessageID: 9,
			Payload: []byte{0xFF, 0x00, 0xFF}}},
		{"large payload", Message{Version: 1, Type: Reset, Code: Empty, MessageID: 3, Payload: bytes.Repeat([]byte{'x'}, 1000)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(&tt.msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got.Version != tt.msg.Version || got.Type != tt.msg.Type || got.Code != tt.msg.Code ||
				got.MessageID != tt.msg.MessageID {
				t.Errorf("header mismatch: got %+v, want %+v", got, tt.msg)
			}
			if !bytes.Equal(got.Token, tt.msg.Token) {
				t.Errorf("token = %x, want %x", got.Token, tt.msg.Token)
			}
			if !bytes.Equal(got.Payload, tt.msg.Payload) {
				t.Errorf("payload length = %d, want %d", len(got.Payload), len(tt.msg.Payload))
			}
		})
	}
}

func TestEncodeObserveRequest(t *testing.T) {
	m := NewRequest(Confirmable, GET, 1, []byte{0x00, 0x01})
	m.AddOption(UintOption(Observe, ObserveRegister))
	m.AddPath("/3/0/9")

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{
		0x42, 0x01, 0x00, 0x01, // CON GET mid=1 tkl=2
		0x00, 0x01, // token
		0x60,      // Observe, empty value
		0x51, '3', // Uri-Path delta 5
		0x01, '0',
		0x01, '9',
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("encoded = % x\nwant      % x", data, want)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Path() != "3/0/9" {
		t.Errorf("Path() = %q, want 3/0/9", decoded.Path())
	}
	if obs, ok := decoded.Observe(); !ok || obs != 0 {
		t.Errorf("Observe() = %d, %v", obs, ok)
	}
}

func TestExtendedOptionEncoding(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		prefix []byte // 选项区开头的期望字节
	}{
		{
			name:   "one byte delta and length",
			opts:   []Option{BytesOption(60, bytes.Repeat([]byte{1}, 20))},
			prefix: []byte{0xDD, 60 - 13, 20 - 13},
		},
		{
			name:   "two byte length",
			opts:   []Option{StringOption(URIQuery, string(bytes.Repeat([]byte{'q'}, 300)))},
			prefix: []byte{0xDE, 15 - 13, 0x00, 300 - 269},
		},
		{
			name:   "two byte delta",
			opts:   []Option{BytesOption(2000, []byte{7})},
			prefix: []byte{0xE1, 0x06, 0xC3}, // 2000-269 = 0x06C3
		},
		{
			name:   "repeated options use zero delta",
			opts:   []Option{StringOption(URIPath, "a"), StringOption(URIPath, "b")},
			prefix: []byte{0xB1, 'a', 0x01, 'b'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Version: 1, Type: Confirmable, Code: GET, MessageID: 1, Options: tt.opts}
			data, err := Encode(m)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !bytes.HasPrefix(data[4:], tt.prefix) {
				t.Errorf("options = % x, want prefix % x", data[4:], tt.prefix)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(got.Options) != len(tt.opts) {
				t.Fatalf("decoded %d options, want %d", len(got.Options), len(tt.opts))
			}
			for i := range tt.opts {
				if got.Options[i].Number != tt.opts[i].Number || !bytes.Equal(got.Options[i].Value, tt.opts[i].Value) {
					t.Errorf("option %d = %v, want %v", i, got.Options[i], tt.opts[i])
				}
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want error
	}{
		{"nil", nil, ErrNilMessage},
		{"token too long", &Message{Version: 1, Token: make([]byte, 9)}, ErrTokenTooLong},
		{"bad version", &Message{Version: 4}, ErrInvalidHeader},
		{"descending options", &Message{Version: 1, Options: []Option{
			StringOption(URIPath, "a"), UintOption(Observe, 0),
		}}, ErrOptionOrder},
		{"value too long", &Message{Version: 1, Options: []Option{
			BytesOption(ETag, make([]byte, MaxOptionValueLen+1)),
		}}, ErrOptionTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			if data != nil {
				t.Errorf("expected no output, got % x", data)
			}
			var encErr *EncodingError
			if !errors.As(err, &encErr) {
				t.Fatalf("expected *EncodingError, got %v", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"two bytes", []byte{0x40, 0x01}},
		{"token longer than data", []byte{0x44, 0x01, 0x00, 0x01, 0xAA, 0xBB}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(tt.data)
			if m != nil {
				t.Errorf("expected nil message, got %v", m)
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if decErr.Kind != Truncated {
				t.Errorf("kind = %s, want %s", decErr.Kind, Truncated)
			}
		})
	}

	if _, err := Decode([]byte{0x40, 0x01}); !errors.Is(err, ErrTruncated) {
		t.Errorf("errors.Is(err, ErrTruncated) = false for %v", err)
	}
}

func TestDecodeMalformedOptions(t *testing.T) {
	// 头部和Token完整时，选项区不合法也要返回消息
	tests := []struct {
		name    string
		data    []byte
		options int
	}{
		{"reserved delta nibble", []byte{0x42, 0x45, 0x00, 0x01, 0xAA, 0xBB, 0xF1, 0x00}, 0},
		{"reserved length nibble", []byte{0x40, 0x45, 0x00, 0x01, 0x1F}, 0},
		{"missing byte extension", []byte{0x40, 0x45, 0x00, 0x01, 0xD0}, 0},
		{"missing word extension", []byte{0x40, 0x45, 0x00, 0x01, 0x0E, 0x01}, 0},
		{"value past end", []byte{0x42, 0x45, 0x00, 0x01, 0xAA, 0xBB, 0x65, 0x01}, 0},
		{"after a good option", []byte{0x40, 0x45, 0x00, 0x01, 0x60, 0xB5, 'a'}, 1},
		{"option number overflow", []byte{0x40, 0x45, 0x00, 0x01, 0xE0, 0xFF, 0xFF, 0xE0, 0xFF, 0xFF}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(tt.data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if m.Code != Content || m.MessageID != 1 {
				t.Errorf("unexpected header: %v", m)
			}
			if !m.OptionsMalformed() {
				t.Fatal("OptionsMalformed() = false")
			}
			if !errors.Is(m.OptionErr, ErrBadOption) {
				t.Errorf("OptionErr = %v, want ErrBadOption", m.OptionErr)
			}
			if len(m.Options) != tt.options {
				t.Errorf("options = %v, want %d", m.Options, tt.options)
			}
			if len(m.Payload) != 0 {
				t.Errorf("payload = %q, want empty", m.Payload)
			}
		})
	}
}

func TestDecodeMarkerWithoutPayload(t *testing.T) {
	m, err := Decode([]byte{0x42, 0x45, 0x00, 0x01, 0xAA, 0xBB, 0xFF})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.OptionsMalformed() {
		t.Errorf("unexpected option error: %v", m.OptionErr)
	}
	if len(m.Payload) != 0 || len(m.Options) != 0 {
		t.Errorf("options = %v payload = %q", m.Options, m.Payload)
	}
	if string(m.Token) != "\xaa\xbb" {
		t.Errorf("token = %x", m.Token)
	}
}

func TestDecodeUnexpectedContent(t *testing.T) {
	// 未知响应码、版本0、未知选项都不是错误
	data := []byte{0x00, 0xE7, 0x12, 0x34, 0x91, 0x01, 0xFF, 'o', 'k'}
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if m.Version != 0 || m.Code != Code(0xE7) || m.MessageID != 0x1234 {
		t.Errorf("unexpected header: %+v", m)
	}
	if len(m.Options) != 1 || m.Options[0].Number != 9 {
		t.Errorf("options = %v", m.Options)
	}
	if string(m.Payload) != "ok" {
		t.Errorf("payload = %q", m.Payload)
	}
	if m.Code.String() != "7.07" {
		t.Errorf("code string = %s", m.Code)
	}
}

func TestDecodeDoesNotAliasInput(t *testing.T) {
	data := []byte{0x41, 0x45, 0x00, 0x02, 0x77, 0xFF, 'v', '1'}
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for i := range data {
		data[i] = 0
	}
	if m.Token[0] != 0x77 || string(m.Payload) != "v1" {
		t.Errorf("decoded message changed with input: token=%x payload=%q", m.Token, m.Payload)
	}
}

func TestUintOption(t *testing.T) {
	tests := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{}},
		{1, []byte{0x01}},
		{256, []byte{0x01, 0x00}},
		{0x00ABCDEF, []byte{0xAB, 0xCD, 0xEF}},
		{0x01000000, []byte{0x01, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		opt := UintOption(Observe, tt.v)
		if !bytes.Equal(opt.Value, tt.want) {
			t.Errorf("UintOption(%d) = % x, want % x", tt.v, opt.Value, tt.want)
		}
		if opt.Uint() != tt.v {
			t.Errorf("Uint() = %d, want %d", opt.Uint(), tt.v)
		}
	}
}

func TestNewEmptyAck(t *testing.T) {
	req := NewRequest(Confirmable, Content, 0x1234, []byte{0xCA, 0xFE})
	req.Payload = []byte("22.1")
	ack := NewEmptyAck(req)

	data, err := Encode(ack)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{0x62, 0x00, 0x12, 0x34, 0xCA, 0xFE}
	if !bytes.Equal(data, want) {
		t.Errorf("ack = % x, want % x", data, want)
	}
}

func TestPathHelpers(t *testing.T) {
	if got := NormalizePath("//3300/0//5700/"); got != "3300/0/5700" {
		t.Errorf("NormalizePath = %q", got)
	}
	if segs := PathSegments("/"); len(segs) != 0 {
		t.Errorf("PathSegments(/) = %v", segs)
	}
}

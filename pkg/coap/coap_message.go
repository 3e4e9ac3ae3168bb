package coap

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Message CoAP消息
type Message struct {
	Version   uint8
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	Options   []Option
	Payload   []byte

	// OptionErr 解码时选项区不合法，非nil时Options只包含出错前的选项，Payload为空
	OptionErr error
}

// OptionsMalformed 解码时是否遇到不合法的选项字节
func (m *Message) OptionsMalformed() bool { return m.OptionErr != nil }

// NewRequest 构造版本为1的请求消息
func NewRequest(t Type, code Code, mid uint16, token []byte) *Message {
	return &Message{
		Version:   Version,
		Type:      t,
		Code:      code,
		MessageID: mid,
		Token:     append([]byte(nil), token...),
	}
}

// NewEmptyAck 构造空确认，回显请求的消息ID和Token
func NewEmptyAck(req *Message) *Message {
	return &Message{
		Version:   Version,
		Type:      Acknowledgement,
		Code:      Empty,
		MessageID: req.MessageID,
		Token:     append([]byte(nil), req.Token...),
	}
}

// AddOption 追加选项，调用方需保证编号升序
func (m *Message) AddOption(opt Option) {
	m.Options = append(m.Options, opt)
}

// AddPath 为路径的每个非空段追加一个Uri-Path选项
func (m *Message) AddPath(path string) {
	for _, seg := range PathSegments(path) {
		m.AddOption(StringOption(URIPath, seg))
	}
}

// Option 返回第一个编号为n的选项
func (m *Message) Option(n OptionNumber) (Option, bool) {
	for _, o := range m.Options {
		if o.Number == n {
			return o, true
		}
	}
	return Option{}, false
}

// Path 拼接所有Uri-Path选项
func (m *Message) Path() string {
	var segs []string
	for _, o := range m.Options {
		if o.Number == URIPath {
			segs = append(segs, string(o.Value))
		}
	}
	return strings.Join(segs, "/")
}

// Observe 返回Observe选项的值
func (m *Message) Observe() (uint32, bool) {
	o, ok := m.Option(Observe)
	if !ok {
		return 0, false
	}
	return o.Uint(), true
}

func (m *Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s mid=%d token=%s", m.Type, m.Code, m.MessageID, hex.EncodeToString(m.Token))
	if p := m.Path(); p != "" {
		fmt.Fprintf(&sb, " path=/%s", p)
	}
	if obs, ok := m.Observe(); ok {
		fmt.Fprintf(&sb, " observe=%d", obs)
	}
	if len(m.Payload) > 0 {
		fmt.Fprintf(&sb, " payload=%dB", len(m.Payload))
	}
	if m.OptionErr != nil {
		sb.WriteString(" options=malformed")
	}
	return sb.String()
}

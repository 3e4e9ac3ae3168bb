package coap

import (
	"encoding/binary"
	"fmt"
)

// 选项delta/length扩展边界
const (
	extByteBase  = 13
	extWordBase  = 269
	nibbleByte   = 13
	nibbleWord   = 14
	nibbleMarker = 15

	// MaxOptionValueLen 两字节扩展能表示的最大长度
	MaxOptionValueLen = 0xFFFF + extWordBase
)

// Header 固定4字节头部
type Header struct {
	Version     uint8 // 2位
	Type        Type  // 2位
	TokenLength uint8 // 4位
	Code        Code
	MessageID   uint16
}

// Append 将头部追加到b，超出位宽的字段被截断
func (h Header) Append(b []byte) []byte {
	first := (h.Version&0x03)<<6 | (uint8(h.Type)&0x03)<<4 | h.TokenLength&0x0F
	b = append(b, first, byte(h.Code))
	return binary.BigEndian.AppendUint16(b, h.MessageID)
}

// ParseHeader 解析前4字节
func ParseHeader(data []byte) (Header, error) {
	if len(data) < headerLen {
		return Header{}, truncated(0, "need %d header bytes, have %d", headerLen, len(data))
	}
	first := data[0]
	return Header{
		Version:     (first >> 6) & 0x03,
		Type:        Type((first >> 4) & 0x03),
		TokenLength: first & 0x0F,
		Code:        Code(data[1]),
		MessageID:   binary.BigEndian.Uint16(data[2:4]),
	}, nil
}

// Encode 将消息编码为字节流
// 选项必须按编号升序给出，编码器不排序
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, &EncodingError{Err: ErrNilMessage}
	}
	if len(m.Token) > MaxTokenLen {
		return nil, &EncodingError{Err: ErrTokenTooLong, Detail: fmt.Sprintf("%d bytes", len(m.Token))}
	}
	if m.Version > 3 || m.Type > Reset {
		return nil, &EncodingError{Err: ErrInvalidHeader, Detail: fmt.Sprintf("version=%d type=%d", m.Version, m.Type)}
	}

	// 先校验选项并计算长度，失败时不产生任何输出
	size := headerLen + len(m.Token)
	var prev OptionNumber
	for i, opt := range m.Options {
		if opt.Number < prev {
			return nil, &EncodingError{Err: ErrOptionOrder, Detail: fmt.Sprintf("option %d (%s) after %s", i, opt.Number, prev)}
		}
		if len(opt.Value) > MaxOptionValueLen {
			return nil, &EncodingError{Err: ErrOptionTooLong, Detail: fmt.Sprintf("%s: %d bytes", opt.Number, len(opt.Value))}
		}
		size += 1 + extLen(uint32(opt.Number-prev)) + extLen(uint32(len(opt.Value))) + len(opt.Value)
		prev = opt.Number
	}
	if len(m.Payload) > 0 {
		size += 1 + len(m.Payload)
	}

	buf := make([]byte, 0, size)
	buf = Header{
		Version:     m.Version,
		Type:        m.Type,
		TokenLength: uint8(len(m.Token)),
		Code:        m.Code,
		MessageID:   m.MessageID,
	}.Append(buf)
	buf = append(buf, m.Token...)

	prev = 0
	for _, opt := range m.Options {
		deltaNib, deltaExt := nibble(uint32(opt.Number - prev))
		lenNib, lenExt := nibble(uint32(len(opt.Value)))
		buf = append(buf, deltaNib<<4|lenNib)
		buf = appendExt(buf, deltaNib, deltaExt)
		buf = appendExt(buf, lenNib, lenExt)
		buf = append(buf, opt.Value...)
		prev = opt.Number
	}

	if len(m.Payload) > 0 {
		buf = append(buf, payloadMarker)
		buf = append(buf, m.Payload...)
	}
	return buf, nil
}

// nibble 返回4位字段值和需要写入的扩展值
func nibble(v uint32) (uint8, uint32) {
	switch {
	case v < extByteBase:
		return uint8(v), 0
	case v < extWordBase:
		return nibbleByte, v - extByteBase
	default:
		return nibbleWord, v - extWordBase
	}
}

func extLen(v uint32) int {
	switch {
	case v < extByteBase:
		return 0
	case v < extWordBase:
		return 1
	default:
		return 2
	}
}

func appendExt(b []byte, nib uint8, ext uint32) []byte {
	switch nib {
	case nibbleByte:
		return append(b, byte(ext))
	case nibbleWord:
		return binary.BigEndian.AppendUint16(b, uint16(ext))
	}
	return b
}

// Decode 从字节流解析消息，只有头部或Token不完整时返回错误（Truncated）
// 选项区不合法时不报错，见Message.OptionErr
// 返回的消息不引用data的底层数组
func Decode(data []byte) (*Message, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	off := headerLen
	tokenEnd := off + int(h.TokenLength)
	if tokenEnd > len(data) {
		return nil, truncated(off, "token length %d exceeds remaining %d bytes", h.TokenLength, len(data)-off)
	}

	m := &Message{
		Version:   h.Version,
		Type:      h.Type,
		Code:      h.Code,
		MessageID: h.MessageID,
	}
	if h.TokenLength > 0 {
		m.Token = append([]byte(nil), data[off:tokenEnd]...)
	}
	off = tokenEnd

	m.Options, m.Payload, m.OptionErr = decodeOptions(data, off)
	return m, nil
}

// decodeOptions 解析选项和负载
// 遇到不合法的选项字节时停止解析，返回已解析的选项和BadOption错误
// 只有0xFF标记而没有负载时按空负载处理
func decodeOptions(data []byte, off int) ([]Option, []byte, error) {
	var (
		opts []Option
		prev uint32
		err  error
	)
	for off < len(data) {
		if data[off] == payloadMarker {
			off++
			if off == len(data) {
				return opts, nil, nil
			}
			return opts, append([]byte(nil), data[off:]...), nil
		}

		start := off
		b := data[off]
		off++

		var delta, length uint32
		delta, off, err = readExt(data, off, b>>4)
		if err != nil {
			return opts, nil, err
		}
		length, off, err = readExt(data, off, b&0x0F)
		if err != nil {
			return opts, nil, err
		}

		num := prev + delta
		if num > 0xFFFF {
			return opts, nil, badOption(start, "option number %d out of range", num)
		}
		if uint32(len(data)-off) < length {
			return opts, nil, badOption(start, "option %d value length %d exceeds remaining %d bytes", num, length, len(data)-off)
		}
		opts = append(opts, Option{
			Number: OptionNumber(num),
			Value:  append([]byte(nil), data[off:off+int(length)]...),
		})
		off += int(length)
		prev = num
	}
	return opts, nil, nil
}

// readExt 读取delta或length的扩展字节
func readExt(data []byte, off int, nib uint8) (uint32, int, error) {
	switch nib {
	case nibbleByte:
		if off >= len(data) {
			return 0, off, badOption(off, "missing 1-byte extension")
		}
		return uint32(data[off]) + extByteBase, off + 1, nil
	case nibbleWord:
		if off+2 > len(data) {
			return 0, off, badOption(off, "missing 2-byte extension")
		}
		return uint32(binary.BigEndian.Uint16(data[off:off+2])) + extWordBase, off + 2, nil
	case nibbleMarker:
		return 0, off, badOption(off, "reserved nibble 15")
	}
	return uint32(nib), off, nil
}

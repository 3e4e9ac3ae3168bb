package coap

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Option 单个选项，Value为原始字节
type Option struct {
	Number OptionNumber
	Value  []byte
}

// StringOption 文本选项，按UTF-8编码
func StringOption(n OptionNumber, s string) Option {
	return Option{Number: n, Value: []byte(s)}
}

// UintOption 整数选项，使用去掉前导零的大端表示，0编码为空
func UintOption(n OptionNumber, v uint32) Option {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return Option{Number: n, Value: append([]byte(nil), b[i:]...)}
}

// BytesOption 不透明字节选项
func BytesOption(n OptionNumber, b []byte) Option {
	return Option{Number: n, Value: append([]byte(nil), b...)}
}

// Uint 将选项值按大端无符号整数解析，超过4字节时只取低4字节
func (o Option) Uint() uint32 {
	v := o.Value
	if len(v) > 4 {
		v = v[len(v)-4:]
	}
	var n uint32
	for _, b := range v {
		n = n<<8 | uint32(b)
	}
	return n
}

func (o Option) String() string {
	switch o.Number {
	case Observe, URIPort, ContentFormat, MaxAge, Accept:
		return fmt.Sprintf("%s: %d", o.Number, o.Uint())
	case URIHost, URIPath, URIQuery, LocationPath:
		return fmt.Sprintf("%s: %q", o.Number, string(o.Value))
	}
	return fmt.Sprintf("%s: %x", o.Number, o.Value)
}

// PathSegments 按'/'拆分资源路径，忽略空段
func PathSegments(path string) []string {
	parts := strings.Split(path, "/")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// NormalizePath 去掉首尾和重复的'/'
func NormalizePath(path string) string {
	return strings.Join(PathSegments(path), "/")
}

package coap

import (
	"errors"
	"fmt"
)

var (
	// 编码错误（调用方违反约定）
	ErrTokenTooLong  = errors.New("token longer than 8 bytes")
	ErrOptionOrder   = errors.New("options not in ascending order")
	ErrOptionTooLong = errors.New("option value too long")
	ErrInvalidHeader = errors.New("invalid header field")
	ErrNilMessage    = errors.New("nil message")

	// 解码错误
	ErrTruncated = errors.New("truncated message")
	ErrBadOption = errors.New("malformed option")
)

// EncodingError 编码失败，不会输出任何字节
type EncodingError struct {
	Err    error
	Detail string
}

func (e *EncodingError) Error() string {
	if e.Detail == "" {
		return "coap encode: " + e.Err.Error()
	}
	return fmt.Sprintf("coap encode: %v: %s", e.Err, e.Detail)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DecodeErrorKind 解码错误分类
type DecodeErrorKind int

const (
	Truncated DecodeErrorKind = iota + 1
	BadOption
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case BadOption:
		return "bad_option"
	default:
		return "unknown"
	}
}

// DecodeError 解码失败，Offset为出错位置
type DecodeError struct {
	Kind   DecodeErrorKind
	Offset int
	Detail string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("coap decode: %s at offset %d: %s", e.Kind, e.Offset, e.Detail)
}

func (e *DecodeError) Unwrap() error {
	switch e.Kind {
	case Truncated:
		return ErrTruncated
	case BadOption:
		return ErrBadOption
	}
	return nil
}

func truncated(off int, format string, args ...any) error {
	return &DecodeError{Kind: Truncated, Offset: off, Detail: fmt.Sprintf(format, args...)}
}

func badOption(off int, format string, args ...any) error {
	return &DecodeError{Kind: BadOption, Offset: off, Detail: fmt.Sprintf(format, args...)}
}

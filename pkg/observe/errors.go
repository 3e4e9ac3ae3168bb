package observe

import (
	"errors"
	"fmt"
)

var (
	ErrNilPeer       = errors.New("peer address is nil")
	ErrNilObserver   = errors.New("observer is nil")
	ErrTokenLength   = errors.New("token length must be 1-8 bytes")
	ErrUnknownTokens = errors.New("unknown token mode")
)

// TransportError 传输层返回的发送失败，不会自动重试
type TransportError struct {
	Op   string
	Peer string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s to %s: %v", e.Op, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

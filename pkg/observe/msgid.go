package observe

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/junbin-yang/coap-observe-go/pkg/coap"
)

// MessageIDAllocator 16位消息ID生成器，从1开始，溢出后回到1，跳过0
type MessageIDAllocator struct {
	mu   sync.Mutex
	next uint16
}

func NewMessageIDAllocator(start uint16) *MessageIDAllocator {
	if start == 0 {
		start = 1
	}
	return &MessageIDAllocator{next: start}
}

func (a *MessageIDAllocator) Next() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.next
	a.next++
	if a.next == 0 {
		a.next = 1
	}
	return id
}

// TokenSource 为请求生成Token
type TokenSource interface {
	Token(mid uint16) ([]byte, error)
}

// MessageIDTokens 以消息ID的2字节大端形式作为Token
// Token与消息ID一一对应，可被预测
type MessageIDTokens struct{}

func (MessageIDTokens) Token(mid uint16) ([]byte, error) {
	return binary.BigEndian.AppendUint16(nil, mid), nil
}

// RandomTokens 从crypto/rand生成与消息ID无关的Token
type RandomTokens struct {
	Len int
}

func (r RandomTokens) Token(uint16) ([]byte, error) {
	n := r.Len
	if n == 0 {
		n = coap.MaxTokenLen
	}
	if n < 1 || n > coap.MaxTokenLen {
		return nil, ErrTokenLength
	}
	tok := make([]byte, n)
	if _, err := rand.Read(tok); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return tok, nil
}

// Token模式
const (
	TokenModeMessageID = "message_id"
	TokenModeRandom    = "random"
)

// NewTokenSource 根据配置的模式创建TokenSource
func NewTokenSource(mode string, length int) (TokenSource, error) {
	switch mode {
	case "", TokenModeMessageID:
		return MessageIDTokens{}, nil
	case TokenModeRandom:
		if length < 0 || length > coap.MaxTokenLen {
			return nil, ErrTokenLength
		}
		return RandomTokens{Len: length}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTokens, mode)
}

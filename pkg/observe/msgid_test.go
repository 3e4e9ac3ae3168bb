package observe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIDAllocatorSequence(t *testing.T) {
	a := NewMessageIDAllocator(0)
	assert.Equal(t, uint16(1), a.Next())
	assert.Equal(t, uint16(2), a.Next())

	a = NewMessageIDAllocator(65534)
	assert.Equal(t, uint16(65534), a.Next())
	assert.Equal(t, uint16(65535), a.Next())
	assert.Equal(t, uint16(1), a.Next())
}

func TestMessageIDAllocatorConcurrent(t *testing.T) {
	a := NewMessageIDAllocator(1)
	var (
		mu   sync.Mutex
		seen = make(map[uint16]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				id := a.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)
	assert.False(t, seen[0])
}

func TestTokenSources(t *testing.T) {
	tok, err := MessageIDTokens{}.Token(0x1234)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34}, tok)

	tok, err = RandomTokens{}.Token(1)
	require.NoError(t, err)
	assert.Len(t, tok, 8)

	other, err := RandomTokens{}.Token(1)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)

	_, err = RandomTokens{Len: 9}.Token(1)
	assert.ErrorIs(t, err, ErrTokenLength)
}

func TestNewTokenSource(t *testing.T) {
	ts, err := NewTokenSource("", 0)
	require.NoError(t, err)
	assert.IsType(t, MessageIDTokens{}, ts)

	ts, err = NewTokenSource(TokenModeRandom, 4)
	require.NoError(t, err)
	assert.Equal(t, RandomTokens{Len: 4}, ts)

	_, err = NewTokenSource("sequential", 0)
	assert.Error(t, err)
}

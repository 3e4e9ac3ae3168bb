package observe

import (
	"bytes"
	"sort"
	"sync"
	"time"
)

// State 观察条目状态
type State uint8

const (
	StateNone State = iota
	StateRegistered
)

func (s State) String() string {
	if s == StateRegistered {
		return "registered"
	}
	return "none"
}

// Key 观察条目的键：对端地址+资源路径
type Key struct {
	Peer string
	Path string
}

// Entry 一个观察关系
type Entry struct {
	Key
	Token         []byte
	LastMessageID uint16
	State         State
	Confirmed     bool // 对端已确认最近一次请求

	Registered time.Time
	Refreshed  time.Time

	Notifications    uint64
	LastNotification time.Time
	LastPayload      []byte
	LastSequence     uint32
	HasSequence      bool
}

func (e Entry) clone() Entry {
	e.Token = append([]byte(nil), e.Token...)
	e.LastPayload = append([]byte(nil), e.LastPayload...)
	return e
}

// Registry 观察表，所有读写都在同一把锁下完成
type Registry struct {
	mu       sync.RWMutex
	entries  map[Key]*Entry
	onChange func(n int)
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]*Entry)}
}

// OnChange 条目数量变化时回调（在锁内调用，回调不能访问Registry）
func (r *Registry) OnChange(fn func(n int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Upsert 插入或覆盖条目，覆盖时保留首次注册时间和通知统计
func (r *Registry) Upsert(key Key, token []byte, mid uint16, at time.Time) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &Entry{Key: key, Registered: at}
		r.entries[key] = e
	}
	e.Token = append([]byte(nil), token...)
	e.LastMessageID = mid
	e.State = StateRegistered
	e.Confirmed = false
	e.Refreshed = at

	if !ok && r.onChange != nil {
		r.onChange(len(r.entries))
	}
	return e.clone()
}

func (r *Registry) Get(key Key) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// MatchToken 查找对端下Token相同的条目
func (r *Registry) MatchToken(peer string, token []byte) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, e := range r.entries {
		if k.Peer == peer && bytes.Equal(e.Token, token) {
			return e.clone(), true
		}
	}
	return Entry{}, false
}

// MatchMessageID 查找最近一次请求消息ID相同的条目，用于配对ACK
func (r *Registry) MatchMessageID(peer string, mid uint16) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, e := range r.entries {
		if k.Peer == peer && e.LastMessageID == mid {
			return e.clone(), true
		}
	}
	return Entry{}, false
}

// RecordNotification 记录一次通知
func (r *Registry) RecordNotification(key Key, payload []byte, seq uint32, hasSeq bool, at time.Time) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return Entry{}, false
	}
	e.Notifications++
	e.LastNotification = at
	e.LastPayload = append([]byte(nil), payload...)
	if hasSeq {
		e.LastSequence = seq
		e.HasSequence = true
	}
	return e.clone(), true
}

// MarkConfirmed 标记最近一次请求已被对端确认
func (r *Registry) MarkConfirmed(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if ok {
		e.Confirmed = true
	}
	return ok
}

// Remove 删除条目，仅供外部协作者使用
func (r *Registry) Remove(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	if r.onChange != nil {
		r.onChange(len(r.entries))
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot 返回所有条目的副本，按对端和路径排序
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].Path < out[j].Path
	})
	return out
}

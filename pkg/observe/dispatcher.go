package observe

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/junbin-yang/coap-observe-go/pkg/coap"
	"github.com/junbin-yang/coap-observe-go/pkg/metrics"
	log "github.com/junbin-yang/coap-observe-go/pkg/utils/logger"
)

// Transport 数据报发送方，由UDP服务器实现
type Transport interface {
	SendTo(ctx context.Context, data []byte, addr net.Addr) error
}

// Recorder 收发数据报的旁路记录（抓包）
type Recorder interface {
	Inbound(peer string, data []byte)
	Outbound(peer string, data []byte)
}

// Notification 收到的2.05通知
type Notification struct {
	Peer    string
	Message *coap.Message
	Entry   Entry // 未匹配时为零值
	Matched bool
}

// Result SendObserve的结果
type Result struct {
	MessageID uint16
	Token     []byte
	Bytes     int
}

// Dispatcher 构造观察请求并处理入站消息
// 可被多个goroutine并发调用
type Dispatcher struct {
	reg      *Registry
	tr       Transport
	ids      *MessageIDAllocator
	tokens   TokenSource
	log      *log.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	onNotify func(Notification)
	now      func() time.Time
}

type Option func(*Dispatcher)

func WithTokenSource(ts TokenSource) Option {
	return func(d *Dispatcher) { d.tokens = ts }
}

func WithMessageIDs(ids *MessageIDAllocator) Option {
	return func(d *Dispatcher) { d.ids = ids }
}

func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithNotificationHandler 每收到一条通知调用一次，在处理goroutine中同步执行
func WithNotificationHandler(fn func(Notification)) Option {
	return func(d *Dispatcher) { d.onNotify = fn }
}

func NewDispatcher(reg *Registry, tr Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:    reg,
		tr:     tr,
		ids:    NewMessageIDAllocator(1),
		tokens: MessageIDTokens{},
		log:    log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics != nil {
		reg.OnChange(d.metrics.SetObservations)
	}
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.reg }

// SendObserve 向peer发送CON GET，observe为true时携带Observe=0并记录观察条目
// 发送失败返回*TransportError，不重试
func (d *Dispatcher) SendObserve(ctx context.Context, peer net.Addr, resourcePath string, observe bool) (Result, error) {
	if peer == nil {
		return Result{}, ErrNilPeer
	}
	path := coap.NormalizePath(resourcePath)
	mid := d.ids.Next()

	token, err := d.tokens.Token(mid)
	if err != nil {
		d.log.Error("[OBSERVE] token generation failed",
			log.String("peer", peer.String()), log.String("path", path), log.GetError(err))
		return Result{}, err
	}

	msg := coap.NewRequest(coap.Confirmable, coap.GET, mid, token)
	if observe {
		msg.AddOption(coap.UintOption(coap.Observe, coap.ObserveRegister))
	}
	msg.AddPath(path)

	data, err := coap.Encode(msg)
	if err != nil {
		d.log.Error("[OBSERVE] encode request failed",
			log.String("peer", peer.String()), log.String("path", path), log.GetError(err))
		return Result{}, err
	}

	kind := "get"
	if observe {
		kind = "observe"
	}
	if err := d.send(ctx, peer, data, kind); err != nil {
		d.log.Error("[OBSERVE] send request failed",
			log.String("peer", peer.String()), log.String("path", path),
			log.Uint16("mid", mid), log.GetError(err))
		return Result{}, err
	}

	if observe {
		d.reg.Upsert(Key{Peer: peer.String(), Path: path}, token, mid, d.now())
		d.log.Info("[OBSERVE] observe request sent",
			log.String("peer", peer.String()), log.String("path", "/"+path),
			log.String("token", hex.EncodeToString(token)), log.Uint16("mid", mid))
	} else {
		d.log.Info("[OBSERVE] get request sent",
			log.String("peer", peer.String()), log.String("path", "/"+path), log.Uint16("mid", mid))
	}

	return Result{MessageID: mid, Token: token, Bytes: len(data)}, nil
}

// HandleInbound 处理一个入站数据报，最多发送一条响应
// 任何失败（包括panic）只记录日志，不向上传播
func (d *Dispatcher) HandleInbound(ctx context.Context, data []byte, sender net.Addr) {
	peer := "<nil>"
	if sender != nil {
		peer = sender.String()
	}
	defer func() {
		if r := recover(); r != nil {
			d.metrics.Panic()
			d.log.Error("[OBSERVE] panic while handling datagram",
				log.String("peer", peer), log.Any("panic", r), log.String("stack", string(debug.Stack())))
		}
	}()

	if d.recorder != nil {
		d.recorder.Inbound(peer, data)
	}

	msg, err := coap.Decode(data)
	if err != nil {
		kind := "unknown"
		var decErr *coap.DecodeError
		if errors.As(err, &decErr) {
			kind = decErr.Kind.String()
		}
		d.metrics.DecodeError(kind)
		d.log.Warn("[OBSERVE] drop undecodable datagram",
			log.String("peer", peer), log.Int("len", len(data)), log.GetError(err))
		return
	}
	if sender == nil {
		d.metrics.Dropped("no_sender")
		d.log.Warn("[OBSERVE] drop datagram without sender address", log.Stringer("msg", msg))
		return
	}
	if msg.OptionsMalformed() {
		// 头部和Token可用，消息照常处理
		d.metrics.DecodeError(coap.BadOption.String())
		d.log.Warn("[OBSERVE] malformed options ignored",
			log.String("peer", peer), log.Stringer("msg", msg), log.GetError(msg.OptionErr))
	}

	d.log.Debug("[OBSERVE] received", log.String("peer", peer), log.Stringer("msg", msg))

	switch {
	case msg.Code == coap.Content:
		d.handleContent(ctx, msg, sender)
	case msg.Code == coap.Empty && msg.Type == coap.Acknowledgement:
		d.handleEmptyAck(msg, peer)
	case msg.Type == coap.Reset:
		fields := []log.Field{log.String("peer", peer), log.Uint16("mid", msg.MessageID)}
		if e, ok := d.reg.MatchMessageID(peer, msg.MessageID); ok {
			fields = append(fields, log.String("path", "/"+e.Path))
		}
		d.log.Warn("[OBSERVE] reset received", fields...)
	default:
		d.log.Debug("[OBSERVE] ignore message", log.String("peer", peer), log.Stringer("code", msg.Code))
	}
}

func (d *Dispatcher) handleContent(ctx context.Context, msg *coap.Message, sender net.Addr) {
	peer := sender.String()

	entry, matched := d.reg.MatchToken(peer, msg.Token)
	if msg.Type == coap.Acknowledgement {
		// 对GET请求的捎带响应
		if !matched {
			entry, matched = d.reg.MatchMessageID(peer, msg.MessageID)
		}
		if matched {
			d.reg.MarkConfirmed(entry.Key)
		}
	}

	if matched {
		seq, hasSeq := msg.Observe()
		if e, ok := d.reg.RecordNotification(entry.Key, msg.Payload, seq, hasSeq, d.now()); ok {
			entry = e
		}
		d.log.Info("[OBSERVE] notification received",
			log.String("peer", peer), log.String("path", "/"+entry.Path),
			log.Uint16("mid", msg.MessageID), log.String("payload", string(msg.Payload)))
	} else {
		d.log.Info("[OBSERVE] unmatched notification",
			log.String("peer", peer), log.String("token", hex.EncodeToString(msg.Token)),
			log.Uint16("mid", msg.MessageID), log.String("payload", string(msg.Payload)))
	}
	d.metrics.Notification(matched)

	if d.onNotify != nil {
		n := Notification{Peer: peer, Message: msg, Matched: matched}
		if matched {
			n.Entry = entry
		}
		d.onNotify(n)
	}

	// ACK和RST不能再被确认
	if msg.Type != coap.Confirmable && msg.Type != coap.NonConfirmable {
		return
	}
	ack, err := coap.Encode(coap.NewEmptyAck(msg))
	if err != nil {
		d.log.Error("[OBSERVE] encode ack failed", log.String("peer", peer), log.GetError(err))
		return
	}
	if err := d.send(ctx, sender, ack, "ack"); err != nil {
		d.log.Error("[OBSERVE] send ack failed",
			log.String("peer", peer), log.Uint16("mid", msg.MessageID), log.GetError(err))
		return
	}
	d.log.Debug("[OBSERVE] ack sent", log.String("peer", peer), log.Uint16("mid", msg.MessageID))
}

func (d *Dispatcher) handleEmptyAck(msg *coap.Message, peer string) {
	e, ok := d.reg.MatchMessageID(peer, msg.MessageID)
	if !ok {
		d.log.Debug("[OBSERVE] ack without pending request", log.String("peer", peer), log.Uint16("mid", msg.MessageID))
		return
	}
	d.reg.MarkConfirmed(e.Key)
	d.log.Debug("[OBSERVE] request acknowledged",
		log.String("peer", peer), log.String("path", "/"+e.Path), log.Uint16("mid", msg.MessageID))
}

func (d *Dispatcher) send(ctx context.Context, addr net.Addr, data []byte, kind string) error {
	if d.recorder != nil {
		d.recorder.Outbound(addr.String(), data)
	}
	if err := d.tr.SendTo(ctx, data, addr); err != nil {
		d.metrics.TransportError("send")
		return &TransportError{Op: fmt.Sprintf("send %s", kind), Peer: addr.String(), Err: err}
	}
	d.metrics.Sent(kind)
	return nil
}

package observe

import (
	"context"
	"math/rand"
	"net"
	"time"

	log "github.com/junbin-yang/coap-observe-go/pkg/utils/logger"
)

// Observer 发送观察请求的一方，*Dispatcher实现了该接口
type Observer interface {
	SendObserve(ctx context.Context, peer net.Addr, resourcePath string, observe bool) (Result, error)
}

// Reobserver 按固定节奏向单个客户端发送观察请求
// 先按StepDelay逐个发送Initial，之后每隔Interval重新观察Refresh
type Reobserver struct {
	Observer  Observer
	Peer      net.Addr
	Initial   []string
	StepDelay time.Duration
	Interval  time.Duration
	Refresh   []string
	Jitter    float64 // 0~1，Interval的随机抖动比例
	Logger    *log.Logger
}

// Run 阻塞直到ctx结束，单次发送失败只记录日志
// Peer或Observer为空时立即返回错误
func (r *Reobserver) Run(ctx context.Context) error {
	if r.Peer == nil {
		return ErrNilPeer
	}
	if r.Observer == nil {
		return ErrNilObserver
	}
	l := r.Logger
	if l == nil {
		l = log.Default()
	}

	for i, path := range r.Initial {
		if i > 0 && r.StepDelay > 0 {
			if !sleep(ctx, r.StepDelay) {
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.observe(ctx, l, path)
	}

	if r.Interval <= 0 || len(r.Refresh) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		if !sleep(ctx, r.nextInterval()) {
			return ctx.Err()
		}
		l.Info("[OBSERVE] re-observe", log.String("peer", r.Peer.String()), log.Int("resources", len(r.Refresh)))
		for _, path := range r.Refresh {
			r.observe(ctx, l, path)
		}
	}
}

func (r *Reobserver) observe(ctx context.Context, l *log.Logger, path string) {
	if _, err := r.Observer.SendObserve(ctx, r.Peer, path, true); err != nil {
		l.Warn("[OBSERVE] observe failed, continue", log.String("path", path), log.GetError(err))
	}
}

func (r *Reobserver) nextInterval() time.Duration {
	if r.Jitter <= 0 {
		return r.Interval
	}
	j := r.Jitter
	if j > 1 {
		j = 1
	}
	delta := (rand.Float64()*2 - 1) * j * float64(r.Interval)
	d := r.Interval + time.Duration(delta)
	if d <= 0 {
		d = r.Interval
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

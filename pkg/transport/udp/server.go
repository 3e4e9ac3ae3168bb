package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"github.com/junbin-yang/coap-observe-go/pkg/coap"
	"github.com/junbin-yang/coap-observe-go/pkg/metrics"
	log "github.com/junbin-yang/coap-observe-go/pkg/utils/logger"
)

const (
	DefaultListen     = "0.0.0.0:5683" // CoAP默认端口
	DefaultWorkers    = 8
	DefaultQueueSize  = 256
	DefaultBufferSize = coap.MaxPDUSize
	MaxDatagramSize   = 65535
	DefaultTTL        = 64
)

// 错误定义
var (
	ErrInvalidParam = errors.New("invalid parameter")
	ErrClosed       = errors.New("udp server closed")
	ErrServing      = errors.New("udp server already serving")
)

// Handler 处理一个入站数据报，data归Handler所有
type Handler interface {
	HandleInbound(ctx context.Context, data []byte, sender net.Addr)
}

// HandlerFunc 函数形式的Handler
type HandlerFunc func(ctx context.Context, data []byte, sender net.Addr)

func (f HandlerFunc) HandleInbound(ctx context.Context, data []byte, sender net.Addr) {
	f(ctx, data, sender)
}

type Config struct {
	Listen     string
	Workers    int
	QueueSize  int
	BufferSize int
	TTL        int
	Logger     *log.Logger
	Metrics    *metrics.Metrics
}

type packet struct {
	addr *net.UDPAddr
	data []byte
}

// Server 单socket的UDP服务器：一个读循环，固定数量的worker
type Server struct {
	cfg     Config
	conn    *net.UDPConn
	log     *log.Logger
	metrics *metrics.Metrics

	bufPool *sync.Pool
	serving atomic.Bool
	closed  atomic.Bool
	once    sync.Once
}

// Listen 绑定UDP地址并设置TTL
func Listen(cfg Config) (*Server, error) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize > MaxDatagramSize {
		cfg.BufferSize = MaxDatagramSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}

	// IPv6 socket上设置失败只告警
	if err := ipv4.NewConn(conn).SetTTL(cfg.TTL); err != nil {
		cfg.Logger.Warn("[UDP] set ttl failed", log.Int("ttl", cfg.TTL), log.GetError(err))
	}

	size := cfg.BufferSize
	return &Server{
		cfg:     cfg,
		conn:    conn,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		bufPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}, nil
}

func (s *Server) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Serve 读取数据报并交给h处理，阻塞直到ctx结束或Close被调用
// 队列满时丢弃数据报。返回前等待所有worker退出
func (s *Server) Serve(ctx context.Context, h Handler) error {
	if h == nil {
		return ErrInvalidParam
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.serving.CompareAndSwap(false, true) {
		return ErrServing
	}
	defer s.serving.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan packet, s.cfg.QueueSize)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range queue {
				h.HandleInbound(ctx, p.data, p.addr)
			}
		}()
	}

	// ctx结束时关闭socket以打断阻塞的读
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	s.log.Info("[UDP] server started",
		log.String("addr", s.conn.LocalAddr().String()),
		log.Int("workers", s.cfg.Workers), log.Int("queue", s.cfg.QueueSize))

	err := s.readLoop(queue)

	close(stop)
	close(queue)
	wg.Wait()
	s.log.Info("[UDP] server stopped")
	return err
}

func (s *Server) readLoop(queue chan<- packet) error {
	for {
		bufPtr := s.bufPool.Get().(*[]byte)
		buf := *bufPtr

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			s.bufPool.Put(bufPtr)
			if s.closed.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.metrics.TransportError("read")
			s.log.Error("[UDP] read failed", log.GetError(err))
			return err
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.bufPool.Put(bufPtr)
		s.metrics.Received()

		select {
		case queue <- packet{addr: addr, data: data}:
		default:
			s.metrics.Dropped("queue_full")
			s.log.Warn("[UDP] queue full, dropping datagram", log.String("peer", addr.String()), log.Int("len", n))
		}
	}
}

// SendTo 发送一个数据报，可被多个goroutine并发调用
func (s *Server) SendTo(ctx context.Context, data []byte, addr net.Addr) error {
	if addr == nil || data == nil {
		return ErrInvalidParam
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.conn.WriteTo(data, addr)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

// Close 关闭socket，可重复调用
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

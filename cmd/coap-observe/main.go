package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/junbin-yang/coap-observe-go/pkg/capture"
	"github.com/junbin-yang/coap-observe-go/pkg/metrics"
	"github.com/junbin-yang/coap-observe-go/pkg/observe"
	"github.com/junbin-yang/coap-observe-go/pkg/transport/udp"
	"github.com/junbin-yang/coap-observe-go/pkg/utils/config"
	log "github.com/junbin-yang/coap-observe-go/pkg/utils/logger"
)

func main() {
	cfile := flag.String("c", "", "配置文件路径，默认查找<程序目录>/coap-observe.yml和/etc/coap-observe.yml")
	flag.Usage = config.Usage
	flag.Parse()

	conf, err := config.Load(*cfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "加载配置失败:", err)
		os.Exit(1)
	}
	conf.SetupLogger()
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf); err != nil {
		log.Errorf("[MAIN] exit with error: %v", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("[MAIN] bye")
}

func run(ctx context.Context, conf *config.Config) error {
	m := metrics.New("")

	tokens, err := observe.NewTokenSource(conf.Observe.TokenMode, conf.Observe.TokenLength)
	if err != nil {
		return err
	}

	srv, err := udp.Listen(udp.Config{
		Listen:     conf.Server.Listen,
		Workers:    conf.Server.Workers,
		QueueSize:  conf.Server.Queue,
		BufferSize: conf.Server.BufferSize,
		TTL:        conf.Server.TTL,
		Metrics:    m,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	opts := []observe.Option{
		observe.WithTokenSource(tokens),
		observe.WithMetrics(m),
	}
	if conf.Capture.Path != "" {
		w, err := capture.NewFileWriter(conf.Capture.Path)
		if err != nil {
			return err
		}
		defer w.Close()
		log.Info("[MAIN] capture enabled", log.String("path", conf.Capture.Path), log.String("session", w.Session()))
		opts = append(opts, observe.WithRecorder(w))
	}
	d := observe.NewDispatcher(observe.NewRegistry(), srv, opts...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx, d)
	})

	if conf.Metrics.Listen != "" {
		hs := &http.Server{
			Addr:              conf.Metrics.Listen,
			Handler:           metricsMux(m),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("[MAIN] metrics endpoint started", log.String("addr", conf.Metrics.Listen))
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	if conf.Observe.Peer != "" {
		peer, err := net.ResolveUDPAddr("udp", conf.Observe.Peer)
		if err != nil {
			return err
		}
		r := &observe.Reobserver{
			Observer:  d,
			Peer:      peer,
			Initial:   conf.Observe.Resources,
			StepDelay: conf.Observe.StepDelay,
			Interval:  conf.Observe.RefreshInterval,
			Refresh:   conf.Observe.Refresh,
			Jitter:    conf.Observe.Jitter,
		}
		g.Go(func() error {
			if err := r.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		log.Info("[MAIN] observing client", log.String("peer", peer.String()), log.Int("resources", len(r.Initial)))
	}

	err = g.Wait()
	for _, e := range d.Registry().Snapshot() {
		log.Info("[MAIN] observation",
			log.String("peer", e.Peer), log.String("path", "/"+e.Path),
			log.Uint64("notifications", e.Notifications), log.String("last", string(e.LastPayload)))
	}
	return err
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/junbin-yang/coap-observe-go/pkg/capture"
	"github.com/junbin-yang/coap-observe-go/pkg/observe"
	"github.com/junbin-yang/coap-observe-go/pkg/transport/udp"
	"github.com/junbin-yang/coap-observe-go/pkg/utils/config"
	log "github.com/junbin-yang/coap-observe-go/pkg/utils/logger"
)

// Shell 交互式观察工具
type Shell struct {
	rl   *readline.Instance
	out  io.Writer
	d    *observe.Dispatcher
	peer string // 默认客户端地址
}

func NewShell(rl *readline.Instance, out io.Writer, peer string) *Shell {
	return &Shell{rl: rl, out: out, peer: peer}
}

func main() {
	cfile := flag.String("c", "", "配置文件路径")
	listen := flag.String("l", "", "本地监听地址，覆盖配置文件中的server.listen")
	dump := flag.String("dump", "", "打印抓包文件后退出")
	flag.Usage = config.Usage
	flag.Parse()

	if *dump != "" {
		if err := dumpCapture(os.Stdout, *dump); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	conf, err := config.Load(*cfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "加载配置失败:", err)
		os.Exit(1)
	}
	if *listen != "" {
		conf.Server.Listen = *listen
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "coap> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "初始化命令行失败:", err)
		os.Exit(1)
	}
	defer rl.Close()

	// 日志写到readline的输出，避免打乱提示符
	log.ReplaceDefault(log.New(rl.Stderr(), log.ParseLevel(conf.Logger.Level)))
	defer log.Sync()

	tokens, err := observe.NewTokenSource(conf.Observe.TokenMode, conf.Observe.TokenLength)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	srv, err := udp.Listen(udp.Config{
		Listen:     conf.Server.Listen,
		Workers:    conf.Server.Workers,
		QueueSize:  conf.Server.Queue,
		BufferSize: conf.Server.BufferSize,
		TTL:        conf.Server.TTL,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "监听失败:", err)
		os.Exit(1)
	}
	defer srv.Close()

	sh := NewShell(rl, rl.Stdout(), conf.Observe.Peer)
	sh.d = observe.NewDispatcher(observe.NewRegistry(), srv,
		observe.WithTokenSource(tokens),
		observe.WithNotificationHandler(sh.onNotification),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, sh.d) }()

	fmt.Fprintf(sh.out, "listening on %s, default peer %s\n", srv.LocalAddr(), sh.peer)
	sh.Run(ctx, cancel)

	cancel()
	if err := <-done; err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// Run 命令循环，exit或EOF时调用cancel
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			cancel()
			return
		}
		if !s.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec 执行一行命令，返回false表示退出
func (s *Shell) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "observe", "o":
		s.cmdSend(ctx, args, true)
	case "get", "g":
		s.cmdSend(ctx, args, false)
	case "list", "ls":
		s.cmdList()
	case "exit", "quit", "q":
		return false
	default:
		fmt.Fprintf(s.out, "unknown command: %s (type 'help')\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `commands:
  observe [peer] <path>   register observation (GET with Observe=0)
  get [peer] <path>       plain GET
  list                    show observations
  help                    show this help
  exit                    quit`)
}

func (s *Shell) cmdSend(ctx context.Context, args []string, obs bool) {
	peer, path := s.peer, ""
	switch len(args) {
	case 1:
		path = args[0]
	case 2:
		peer, path = args[0], args[1]
	default:
		fmt.Fprintln(s.out, "usage: observe|get [peer] <path>")
		return
	}
	if peer == "" {
		fmt.Fprintln(s.out, "no peer given and no default peer configured")
		return
	}
	addr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		fmt.Fprintf(s.out, "bad peer %q: %v\n", peer, err)
		return
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := s.d.SendObserve(sctx, addr, path, obs)
	if err != nil {
		fmt.Fprintf(s.out, "send failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "sent mid=%d token=%x (%d bytes)\n", res.MessageID, res.Token, res.Bytes)
}

func (s *Shell) cmdList() {
	entries := s.d.Registry().Snapshot()
	if len(entries) == 0 {
		fmt.Fprintln(s.out, "no observations")
		return
	}
	for _, e := range entries {
		confirmed := ""
		if e.Confirmed {
			confirmed = " confirmed"
		}
		fmt.Fprintf(s.out, "%-22s /%-16s token=%x mid=%-5d notifications=%d%s last=%q\n",
			e.Peer, e.Path, e.Token, e.LastMessageID, e.Notifications, confirmed, e.LastPayload)
	}
}

func (s *Shell) onNotification(n observe.Notification) {
	path := n.Message.Path()
	if n.Matched {
		path = n.Entry.Path
	}
	seq := "-"
	if v, ok := n.Message.Observe(); ok {
		seq = fmt.Sprint(v)
	}
	tag := ""
	if !n.Matched {
		tag = " (unmatched)"
	}
	fmt.Fprintf(s.out, ">>> %s /%s %s seq=%s payload=%q%s\n",
		n.Peer, path, n.Message.Type, seq, n.Message.Payload, tag)
}

// dumpCapture 逐条打印抓包记录
func dumpCapture(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := capture.NewReader(f)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		sum := rec.Summary
		if sum.Error != "" {
			fmt.Fprintf(out, "%s %-3s %-22s undecodable (%s) % x\n",
				rec.Time.Format("15:04:05.000"), rec.Direction, rec.Peer, sum.Error, rec.Data)
			continue
		}
		seq := ""
		if sum.Observe != nil {
			seq = fmt.Sprintf(" obs=%d", *sum.Observe)
		}
		fmt.Fprintf(out, "%s %-3s %-22s %s %s mid=%d token=%s path=/%s%s\n",
			rec.Time.Format("15:04:05.000"), rec.Direction, rec.Peer,
			sum.Type, sum.Code, sum.MessageID, sum.Token, sum.Path, seq)
	}
}

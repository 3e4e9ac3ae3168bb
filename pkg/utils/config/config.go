package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v7"
	"gopkg.in/yaml.v2"

	"github.com/junbin-yang/coap-observe-go/pkg/observe"
	log "github.com/junbin-yang/coap-observe-go/pkg/utils/logger"
)

var (
	APPNAME    string = "coap-observe"
	VERSION    string = "undefined"
	BUILD_TIME string = "undefined"
	GO_VERSION string = "undefined"
)

// EnvPrefix 环境变量前缀，环境变量优先于配置文件
const EnvPrefix = "COAP_OBSERVE_"

// 日志切割方式
const (
	RotateNone = "none"
	RotateTime = "time"
	RotateSize = "size"
)

type Server struct {
	Listen     string `yaml:"listen" env:"LISTEN"`
	Workers    int    `yaml:"workers" env:"WORKERS"`
	Queue      int    `yaml:"queue" env:"QUEUE"`
	BufferSize int    `yaml:"buffer_size" env:"BUFFER_SIZE"`
	TTL        int    `yaml:"ttl" env:"TTL"`
}

type Observe struct {
	Peer            string        `yaml:"peer" env:"PEER"`
	TokenMode       string        `yaml:"token_mode" env:"TOKEN_MODE"`
	TokenLength     int           `yaml:"token_length" env:"TOKEN_LENGTH"`
	Resources       []string      `yaml:"resources" env:"RESOURCES" envSeparator:","`
	StepDelay       time.Duration `yaml:"step_delay" env:"STEP_DELAY"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL"`
	Refresh         []string      `yaml:"refresh" env:"REFRESH" envSeparator:","`
	Jitter          float64       `yaml:"jitter" env:"JITTER"`
}

type Logger struct {
	Dir        string `yaml:"dir" env:"DIR"`
	Level      string `yaml:"level" env:"LEVEL"`
	Rotate     string `yaml:"rotate" env:"ROTATE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
}

type Metrics struct {
	Listen string `yaml:"listen" env:"LISTEN"` // 为空时不启动
}

type Capture struct {
	Path string `yaml:"path" env:"PATH"` // 为空时不抓包
}

type Config struct {
	Server  Server  `yaml:"server" envPrefix:"SERVER_"`
	Observe Observe `yaml:"observe" envPrefix:"OBSERVE_"`
	Logger  Logger  `yaml:"logger" envPrefix:"LOGGER_"`
	Metrics Metrics `yaml:"metrics" envPrefix:"METRICS_"`
	Capture Capture `yaml:"capture" envPrefix:"CAPTURE_"`
}

// DefaultResources 观察测试用的LwM2M资源
var DefaultResources = []string{
	"3300/0/5700",
	"3/0/9",
	"6/0/0",
	"6/0/1",
	"3300/1/5700",
}

// Default 返回默认配置：监听5683，观察127.0.0.1:56830，每30秒重新观察一次
func Default() *Config {
	return &Config{
		Server: Server{
			Listen:     "0.0.0.0:5683",
			Workers:    8,
			Queue:      256,
			BufferSize: 1152,
			TTL:        64,
		},
		Observe: Observe{
			Peer:            "127.0.0.1:56830",
			TokenMode:       observe.TokenModeRandom,
			Resources:       append([]string(nil), DefaultResources...),
			StepDelay:       3 * time.Second,
			RefreshInterval: 30 * time.Second,
			Refresh:         []string{DefaultResources[0]},
		},
		Logger: Logger{
			Level:      "info",
			Rotate:     RotateNone,
			MaxSizeMB:  100,
			MaxBackups: 7,
		},
	}
}

// Usage 打印版本信息和命令行参数
func Usage() {
	fmt.Fprintln(os.Stdout, APPNAME+", version: "+VERSION+" (built at "+BUILD_TIME+") "+GO_VERSION)
	flag.PrintDefaults()
}

// Lookup 查找配置文件：可执行文件同目录下的<APPNAME>.yml，其次/etc/<APPNAME>.yml
// 都不存在时返回空字符串
func Lookup() string {
	if ex, err := os.Executable(); err == nil {
		cfile := filepath.Join(filepath.Dir(ex), APPNAME+".yml")
		if _, err := os.Stat(cfile); err == nil {
			return cfile
		}
	}
	cfile := "/etc/" + APPNAME + ".yml"
	if _, err := os.Stat(cfile); err == nil {
		return cfile
	}
	return ""
}

// Load 在默认配置上依次叠加配置文件和环境变量
// path为空时按Lookup查找，找不到配置文件不算错误
func Load(path string) (*Config, error) {
	conf := Default()

	if path == "" {
		path = Lookup()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, conf); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(conf, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate 检查配置是否可用，返回所有问题
func (c *Config) Validate() error {
	var errs []error
	if _, err := net.ResolveUDPAddr("udp", c.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}
	if c.Server.Workers <= 0 {
		errs = append(errs, errors.New("server.workers must be positive"))
	}
	if c.Server.Queue <= 0 {
		errs = append(errs, errors.New("server.queue must be positive"))
	}
	if c.Server.BufferSize <= 0 || c.Server.BufferSize > 65535 {
		errs = append(errs, errors.New("server.buffer_size must be in 1..65535"))
	}
	if c.Server.TTL < 0 || c.Server.TTL > 255 {
		errs = append(errs, errors.New("server.ttl must be in 0..255"))
	}
	if c.Observe.Peer != "" {
		if _, err := net.ResolveUDPAddr("udp", c.Observe.Peer); err != nil {
			errs = append(errs, fmt.Errorf("observe.peer: %w", err))
		}
	}
	if _, err := observe.NewTokenSource(c.Observe.TokenMode, c.Observe.TokenLength); err != nil {
		errs = append(errs, fmt.Errorf("observe.token_mode: %w", err))
	}
	if c.Observe.StepDelay < 0 || c.Observe.RefreshInterval < 0 {
		errs = append(errs, errors.New("observe delays must not be negative"))
	}
	if c.Observe.Jitter < 0 || c.Observe.Jitter > 1 {
		errs = append(errs, errors.New("observe.jitter must be in 0..1"))
	}
	switch c.Logger.Rotate {
	case "", RotateNone, RotateTime, RotateSize:
	default:
		errs = append(errs, fmt.Errorf("logger.rotate: unknown mode %q", c.Logger.Rotate))
	}
	switch c.Logger.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logger.level: unknown level %q", c.Logger.Level))
	}
	return errors.Join(errs...)
}

// SetupLogger 按配置替换默认日志器
func (c *Config) SetupLogger() {
	defer log.Sync()

	level := log.ParseLevel(c.Logger.Level)
	dir := c.Logger.Dir
	if dir == "" {
		if ex, err := os.Executable(); err == nil {
			dir = filepath.Dir(ex)
		}
	}
	filename := filepath.Join(dir, APPNAME+".log")

	switch c.Logger.Rotate {
	case RotateTime:
		log.ReplaceDefault(log.New(log.NewProductionRotateByTime(filename), level))
	case RotateSize:
		log.ReplaceDefault(log.New(log.NewProductionRotateBySize(filename, c.Logger.MaxSizeMB, c.Logger.MaxBackups), level))
	default:
		log.SetLevel(level)
	}
}

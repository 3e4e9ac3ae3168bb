package logger

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

// Field 结构化日志字段
type Field = zap.Field

// 常用字段构造函数
var (
	String   = zap.String
	Int      = zap.Int
	Uint16   = zap.Uint16
	Uint32   = zap.Uint32
	Uint64   = zap.Uint64
	Duration = zap.Duration
	Stringer = zap.Stringer
	Any      = zap.Any
)

// Logger 对zap的简单封装，支持运行时调整日志级别
type Logger struct {
	l     *zap.Logger
	s     *zap.SugaredLogger
	level zap.AtomicLevel
}

var std atomic.Pointer[Logger]

func init() {
	std.Store(New(os.Stdout, InfoLevel))
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// New 创建写入out的日志器
func New(out io.Writer, level Level, opts ...zap.Option) *Logger {
	atom := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(out),
		atom,
	)
	opts = append([]zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}, opts...)
	l := zap.New(core, opts...)
	return &Logger{l: l, s: l.Sugar(), level: atom}
}

// NewProductionRotateByTime 按天切割的日志文件，保留7天
func NewProductionRotateByTime(filename string) io.Writer {
	w, err := rotatelogs.New(
		filename+".%Y%m%d",
		rotatelogs.WithLinkName(filename),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		// 无法创建切割文件时退回到标准输出
		Default().Error("create rotate log failed", GetError(err))
		return os.Stdout
	}
	return w
}

// NewProductionRotateBySize 按大小切割的日志文件
func NewProductionRotateBySize(filename string, maxSizeMB, maxBackups int) io.Writer {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
}

// Default 返回当前默认日志器
func Default() *Logger {
	return std.Load()
}

// ReplaceDefault 替换默认日志器
func ReplaceDefault(l *Logger) {
	if l != nil {
		std.Store(l)
	}
}

// SetLevel 调整默认日志器级别
func SetLevel(level Level) {
	Default().SetLevel(level)
}

// ParseLevel 解析配置中的级别字符串，未知值按info处理
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// GetError 生成错误字段
func GetError(err error) Field {
	return zap.Error(err)
}

func Sync() error {
	return Default().Sync()
}

func (l *Logger) SetLevel(level Level) { l.level.SetLevel(level) }
func (l *Logger) Level() Level         { return l.level.Level() }
func (l *Logger) Zap() *zap.Logger     { return l.l }
func (l *Logger) Sync() error          { return l.l.Sync() }

// With 返回附加了固定字段的子日志器
func (l *Logger) With(fields ...Field) *Logger {
	child := l.l.With(fields...)
	return &Logger{l: child, s: child.Sugar(), level: l.level}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.l.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.l.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.l.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.l.Error(msg, fields...) }

func (l *Logger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.s.Fatalf(format, args...) }

// 包级函数，使用默认日志器

func Debug(msg string, fields ...Field) { Default().l.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { Default().l.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { Default().l.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { Default().l.Error(msg, fields...) }

func Debugf(format string, args ...any) { Default().s.Debugf(format, args...) }
func Infof(format string, args ...any)  { Default().s.Infof(format, args...) }
func Warnf(format string, args ...any)  { Default().s.Warnf(format, args...) }
func Errorf(format string, args ...any) { Default().s.Errorf(format, args...) }
func Fatalf(format string, args ...any) { Default().s.Fatalf(format, args...) }

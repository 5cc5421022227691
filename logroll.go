package logroll

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Muskchen/logroll/rollingwriter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 日志配置
type Config struct {
	// 时间格式，为空时使用 2006-01-02 15:04:05.000
	Format string `json:"format" yaml:"format"`
	// 日志格式，json和console
	Type string `json:"type" yaml:"type"`
	// 是否开通栈追踪，开启后error及以上级别打印栈信息
	Stacktrace  bool `json:"stacktrace" yaml:"stacktrace"`
	Development bool `json:"development" yaml:"development"`
	// 日志文件及级别配置
	Appenders []Appender `json:"appenders" yaml:"appenders"`
}

type Appender struct {
	// 日志级别
	Level string `json:"level" yaml:"level"`
	// writer信息，为空时输出到stdout
	Rolling *rollingwriter.Config `json:"rolling" yaml:"rolling"`
}

var (
	mu      sync.Mutex
	logger  = zap.NewNop()
	writers []rollingwriter.RollingWriter
)

// 按配置创建所有appender，任意一个失败时关闭已创建的并返回错误
func Init(cfg *Config) error {
	if cfg == nil {
		return rollingwriter.ErrInvalidArgument
	}
	encoderConfig := newEncoderConfig(cfg.Format)
	var (
		cores []zapcore.Core
		ws    []rollingwriter.RollingWriter
	)
	for i, app := range cfg.Appenders {
		level := logLevel(app.Level)
		if app.Rolling == nil {
			cores = append(cores, zapcore.NewCore(encoder(cfg.Type, encoderConfig), zapcore.Lock(os.Stdout), level))
			continue
		}
		writer, err := rollingwriter.NewWriterFromConfig(app.Rolling)
		if err != nil {
			closeAll(ws)
			return fmt.Errorf("appender %d: %w", i, err)
		}
		ws = append(ws, writer)
		cores = append(cores, zapcore.NewCore(encoder(cfg.Type, encoderConfig), writer, level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if cfg.Stacktrace {
		l = l.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if cfg.Development {
		l = l.WithOptions(zap.Development())
	}
	hostname, pwd := runner()
	l.Debug("logger initialized", zap.String("hostname", hostname), zap.String("workspace", pwd))

	mu.Lock()
	old := writers
	logger, writers = l, ws
	mu.Unlock()
	closeAll(old)
	return nil
}

// 从配置文件初始化，typ 为 json 或 yaml
func InitFromFile(path, typ string) error {
	cfg, err := LoadConfig(path, typ)
	if err != nil {
		return err
	}
	return Init(cfg)
}

func GetLogger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func GetSLogger() *zap.SugaredLogger {
	return GetLogger().Sugar()
}

// Writers 返回当前的滚动writer，用于注册监听器等
func Writers() []rollingwriter.RollingWriter {
	mu.Lock()
	defer mu.Unlock()
	return append([]rollingwriter.RollingWriter(nil), writers...)
}

// 刷新并关闭所有writer，之后的日志被丢弃
func Close() error {
	mu.Lock()
	l, ws := logger, writers
	logger, writers = zap.NewNop(), nil
	mu.Unlock()
	err := l.Sync()
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		// stdout 不支持 sync
		err = nil
	}
	return errors.Join(err, closeAll(ws))
}

func closeAll(ws []rollingwriter.RollingWriter) error {
	var errs []error
	for _, w := range ws {
		if err := w.Close(); err != nil && !errors.Is(err, rollingwriter.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// 初始化配置
func newEncoderConfig(format string) zapcore.EncoderConfig {
	if format == "" {
		format = "2006-01-02 15:04:05.000"
	}
	return zapcore.EncoderConfig{
		MessageKey:    "msg",                       // 日志消息对应的key
		LevelKey:      "level",                     // 日志级别对应的key
		TimeKey:       "ts",                        // 时间对应的key
		NameKey:       "logger",                    // logger名称对应的key
		CallerKey:     "file",                      // 调用信息对应的key
		StacktraceKey: "stacktrace",                // 栈追踪对应的key
		EncodeLevel:   zapcore.CapitalLevelEncoder, // 大写的日志级别显示
		LineEnding:    zapcore.DefaultLineEnding,   // 日志的换行符，默认为"\n"
		EncodeTime: func(t time.Time, en zapcore.PrimitiveArrayEncoder) {
			en.AppendString(t.Format(format))
		},
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// 日志输出格式
func encoder(typ string, config zapcore.EncoderConfig) zapcore.Encoder {
	switch strings.TrimSpace(strings.ToLower(typ)) {
	case "console":
		return zapcore.NewConsoleEncoder(config)
	default:
		return zapcore.NewJSONEncoder(config)
	}
}

// 日志级别
func logLevel(level string) zapcore.Level {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "dpanic":
		return zap.DPanicLevel
	case "panic":
		return zap.PanicLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

func runner() (hostname, pwd string) {
	hostname, _ = os.Hostname()
	path, _ := filepath.Abs(os.Args[0])
	return hostname, filepath.Dir(path)
}

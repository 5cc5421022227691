package rollingwriter

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	statusOnce   sync.Once
	statusLogger *zap.Logger
	warned       sync.Map
)

type warnKey struct {
	log *zap.Logger
	key string
}

// 内部状态日志，输出到stderr，只记录WARN及以上
func defaultStatusLogger() *zap.Logger {
	statusOnce.Do(func() {
		enc := zap.NewDevelopmentEncoderConfig()
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), zap.WarnLevel)
		statusLogger = zap.New(core).Named("rollingwriter")
	})
	return statusLogger
}

func orStatus(log *zap.Logger) *zap.Logger {
	if log == nil {
		return defaultStatusLogger()
	}
	return log
}

// 相同的key只告警一次
func warnOnce(log *zap.Logger, key, msg string, fields ...zap.Field) {
	if _, loaded := warned.LoadOrStore(warnKey{log, key}, struct{}{}); loaded {
		return
	}
	log.Warn(msg, fields...)
}

package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	instance *zap.SugaredLogger
	once     sync.Once
)

// Config 控制日志编码与级别。
type Config struct {
	Development bool
	Level       string
}

// New builds the process-wide logger once and installs it as zap's global,
// so packages can log through zap.S(). Later calls return the same instance.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var err error
	once.Do(func() {
		var zcfg zap.Config
		if cfg.Development {
			zcfg = zap.NewDevelopmentConfig()
		} else {
			zcfg = zap.NewProductionConfig()
		}
		if cfg.Level != "" {
			var lvl zapcore.Level
			if err = lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
				err = fmt.Errorf("无效的日志级别 %q: %w", cfg.Level, err)
				return
			}
			zcfg.Level = zap.NewAtomicLevelAt(lvl)
		}

		var l *zap.Logger
		l, err = zcfg.Build()
		if err != nil {
			return
		}
		zap.ReplaceGlobals(l)
		instance = l.Sugar()
	})
	if err == nil && instance == nil {
		err = fmt.Errorf("logger 初始化失败")
	}
	return instance, err
}

// Sync flushes buffered entries; errors from syncing stdout/stderr are ignored.
func Sync() {
	if instance != nil {
		_ = instance.Sync()
	}
}

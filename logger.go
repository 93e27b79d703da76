package asyncsql

import (
	"github.com/golang/glog"
)

// Logger 日志接口，由调用方注入到网关
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// GlogLogger 基于 glog 的日志实现，Debugf 受 -v 级别控制
type GlogLogger struct {
	DebugLevel glog.Level
}

// NewGlogLogger 创建 glog 日志，调试日志在 -v=2 及以上输出
func NewGlogLogger() *GlogLogger {
	return &GlogLogger{DebugLevel: 2}
}

func (l *GlogLogger) Debugf(format string, args ...any) {
	glog.V(l.DebugLevel).Infof(format, args...)
}

func (l *GlogLogger) Infof(format string, args ...any) {
	glog.Infof(format, args...)
}

func (l *GlogLogger) Errorf(format string, args ...any) {
	glog.Errorf(format, args...)
}

// NopLogger 丢弃所有日志
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any) {}
func (NopLogger) Errorf(string, ...any) {}

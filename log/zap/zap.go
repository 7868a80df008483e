// Package zap adapts a *zap.Logger to rtcache.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/rtcache"
)

var _ rtcache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New names the logger "rtcache" so cache events are easy to filter.
func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Named("rtcache")} }

func (z ZapLogger) Debug(msg string, f rtcache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f rtcache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f rtcache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f rtcache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f rtcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

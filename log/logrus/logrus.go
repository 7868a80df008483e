// Package logrus adapts a *logrus.Entry to rtcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/rtcache"
)

var _ rtcache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps l with a component=rtcache field.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", "rtcache")}
}

func (l LogrusLogger) Debug(msg string, f rtcache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f rtcache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f rtcache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f rtcache.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f rtcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	return l.E.WithFields(logrus.Fields(f))
}

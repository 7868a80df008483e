package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/rtcache"
	logrusadapter "github.com/unkn0wn-root/rtcache/log/logrus"
	slogadapter "github.com/unkn0wn-root/rtcache/log/slog"
	zapadapter "github.com/unkn0wn-root/rtcache/log/zap"
	zerologadapter "github.com/unkn0wn-root/rtcache/log/zerolog"
)

// newLogger builds the rtcache.Logger for format at level, writing to w.
// The returned func flushes buffered output.
func newLogger(format, level string, w io.Writer) (rtcache.Logger, func(), error) {
	switch format {
	case "zap":
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		l := zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl))
		return zapadapter.New(l), func() { _ = l.Sync() }, nil
	case "logrus":
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return logrusadapter.New(l), func() {}, nil
	case "zerolog":
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
		l := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
		return zerologadapter.New(l), func() {}, nil
	case "slog":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, err
		}
		l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
		return slogadapter.Logger{L: l.With("component", "rtcache")}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}
}

package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/rtcache"
)

func TestLogrusLoggerFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Warn("essential refresh incomplete", rtcache.Fields{"trigger": "signed_in"})

	e := hook.LastEntry()
	if e == nil {
		t.Fatal("no entry logged")
	}
	if e.Level != logrus.WarnLevel || e.Message != "essential refresh incomplete" {
		t.Fatalf("unexpected entry: %v %q", e.Level, e.Message)
	}
	if e.Data["component"] != "rtcache" || e.Data["trigger"] != "signed_in" {
		t.Fatalf("fields: %#v", e.Data)
	}
}

package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/livecache"
)

func TestLoggerForwardsLevelAndFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base, "livecache")

	l.Info("mutation reverted", livecache.Fields{"key": "bag:u1", "err": errors.New("offline")})

	e := hook.LastEntry()
	if e == nil || e.Level != logrus.InfoLevel || e.Message != "mutation reverted" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Data["component"] != "livecache" || e.Data["key"] != "bag:u1" {
		t.Fatalf("data = %v", e.Data)
	}
	if err, _ := e.Data[logrus.ErrorKey].(error); err == nil || err.Error() != "offline" {
		t.Fatalf("error field = %v", e.Data[logrus.ErrorKey])
	}
}

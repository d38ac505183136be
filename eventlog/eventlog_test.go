package eventlog

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestEmitsOneEntryPerEvent(t *testing.T) {
	hook := test.NewGlobal()
	l := New("wwan0")

	l.ConnectBegin()
	l.ConnectSuccess("10.0.0.1", "255.255.255.0", "10.0.0.254", []string{"8.8.8.8"})

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2", len(entries))
	}
	if entries[0].Data["event"] != string(ConnectBegin) {
		t.Errorf("entries[0] event = %v, want %v", entries[0].Data["event"], ConnectBegin)
	}
	if entries[1].Data["ip"] != "10.0.0.1" {
		t.Errorf("entries[1] ip = %v, want 10.0.0.1", entries[1].Data["ip"])
	}
	if entries[0].Data["modem"] != "wwan0" {
		t.Errorf("entries[0] modem = %v, want wwan0", entries[0].Data["modem"])
	}
}

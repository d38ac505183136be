package facade

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sanji-io/cellulard/cellular"
)

func TestListEmptyBeforeDetection(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "config.json"), "modem_ctl", nil)

	if got := f.List(); len(got) != 0 {
		t.Errorf("List() before Init = %v, want empty", got)
	}
}

func TestGetUnknownIDReturnsError(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "config.json"), "modem_ctl", nil)

	if _, err := f.Get(2); err == nil {
		t.Error("Get(2) = nil error, want \"no such resource\"")
	}
}

func TestPutRejectsInvalidConfiguration(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "config.json"), "modem_ctl", nil)

	bad := defaultConfiguration()
	bad.Pin = "12" // must be empty or exactly 4 digits

	if _, err := f.Put(context.Background(), modemID, bad); err == nil {
		t.Error("Put with invalid pin = nil error, want validation failure")
	}
}

func TestPutWithoutDetectedModemPersistsConfigOnly(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	f := New(cfgPath, "modem_ctl", nil)

	cfg := defaultConfiguration()
	cfg.Keepalive.Host = "8.8.8.8"

	rec, err := f.Put(context.Background(), modemID, cfg)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if rec.Status != "" {
		t.Errorf("Put record Status = %q, want empty (no modem detected)", rec.Status)
	}

	f2 := New(cfgPath, "modem_ctl", nil)
	if err := f2.loadConfig(); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if f2.cfg.Keepalive.Host != "8.8.8.8" {
		t.Errorf("reloaded config Keepalive.Host = %q, want 8.8.8.8", f2.cfg.Keepalive.Host)
	}
}

func TestPutUnknownIDReturnsError(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "config.json"), "modem_ctl", nil)

	if _, err := f.Put(context.Background(), 2, defaultConfiguration()); err == nil {
		t.Error("Put(2, ...) = nil error, want \"no such resource\"")
	}
}

var _ = cellular.Record{}

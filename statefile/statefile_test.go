package statefile

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sanji-io/cellulard/cellular"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	want := Session{
		PDH: "pdh-1",
		CID: "3",
		Network: cellular.NetworkInfo{
			Status: cellular.StatusUp, IP: "10.0.0.2", Netmask: "255.255.255.0",
			Gateway: "10.0.0.1", DNS: []string{"8.8.8.8"},
		},
	}
	store.Save(want)

	got := store.Load()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	store := New(t.TempDir())
	got := store.Load()
	if !reflect.DeepEqual(got, Session{}) {
		t.Errorf("Load() on missing file = %+v, want zero value", got)
	}
}

func TestClearRemovesFile(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	store.Save(Session{PDH: "x"})
	store.Clear()

	if got := store.Load(); !reflect.DeepEqual(got, Session{}) {
		t.Errorf("Load() after Clear() = %+v, want zero value", got)
	}

	if _, err := filepath.Abs(dir); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

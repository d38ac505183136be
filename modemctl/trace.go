package modemctl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// traceEntry is one line of the trace file: a single modem_ctl invocation.
type traceEntry struct {
	Time     time.Time `json:"time"`
	Op       string    `json:"op"`
	Args     []string  `json:"args,omitempty"`
	ExitCode int       `json:"exitCode"`
	TimedOut bool      `json:"timedOut"`
	Output   string    `json:"output,omitempty"`
}

// Trace is a rotating, append-only record of every modem_ctl invocation, kept
// for forensic debugging of modem behavior across restarts. Adapted from the
// teacher's logs.Writer: file-per-rotation plus a current-file symlink and
// age-based retention, trimmed since a trace line needs no ANSI cleaning or
// screen-redraw dedup.
type Trace struct {
	mu            sync.Mutex
	dir           string
	retentionDays int
	file          *os.File
}

// NewTrace opens (or continues) the trace file under dir. A nil *Trace is
// valid and silently discards every Record call.
func NewTrace(dir string, retentionDays int) (*Trace, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("modemctl: create trace dir: %w", err)
	}
	t := &Trace{dir: dir, retentionDays: retentionDays}
	if err := t.rotate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Record appends one invocation outcome to the current trace file. Output is
// truncated to keep the file from growing unbounded on chatty AT sessions.
func (t *Trace) Record(op string, args []string, output string, exitCode int, timedOut bool) {
	if t == nil {
		return
	}
	const maxOutput = 2048
	if len(output) > maxOutput {
		output = output[:maxOutput] + "...(truncated)"
	}

	entry := traceEntry{
		Time:     time.Now(),
		Op:       op,
		Args:     args,
		ExitCode: exitCode,
		TimedOut: timedOut,
		Output:   output,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		log.Warnf("modemctl: trace: marshal entry: %v", err)
		return
	}
	line = append(line, '\n')
	if t.file == nil {
		return
	}
	if _, err := t.file.Write(line); err != nil {
		log.Warnf("modemctl: trace: write: %v", err)
	}
}

// rotate closes any open trace file and opens a fresh one, timestamped, with
// a current.log symlink pointed at it.
func (t *Trace) rotate() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		t.file.Close()
		t.file = nil
	}

	symlinkPath := filepath.Join(t.dir, "current.log")
	os.Remove(symlinkPath)

	filename := time.Now().Format("2006-01-02_15-04-05") + ".log"
	path := filepath.Join(t.dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("modemctl: open trace file: %w", err)
	}

	t.file = f
	os.Symlink(filename, symlinkPath)
	return nil
}

// Cleanup removes trace files older than the configured retention, matching
// the rotation/retention shape of the teacher's log writer.
func (t *Trace) Cleanup() {
	if t == nil || t.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -t.retentionDays)

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" || e.Name() == "current.log" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(t.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(path)
			log.Infof("modemctl: trace: removed old file %s", path)
		}
	}
}

// Close releases the underlying file handle.
func (t *Trace) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

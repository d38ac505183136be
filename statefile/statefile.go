// Package statefile persists the PDP session cookie across daemon restarts
// (§5, §9: "last PDP session's (pdh, cid) may be kept in a small tmpfs file
// for cross-restart recovery"). Adapted from the teacher's discovery.Cache:
// same atomic tmp-file-plus-rename save, trimmed to a single record instead
// of a server map.
package statefile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sanji-io/cellulard/cellular"
)

// Session is the small cookie Manager keeps across restarts: the APN the
// last PDP session was started on (stored in PDH), the configured PDP
// profile id (stored in CID), and the NetworkInfo it produced.
type Session struct {
	PDH     string                  `json:"pdh"`
	CID     string                  `json:"cid"`
	Network cellular.NetworkInfo `json:"network"`
}

// Store persists one Session to a single file, written atomically.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store backed by "<dir>/session.json".
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, "session.json")}
}

// Load reads the last-persisted session. A missing or corrupt file is not an
// error: it just means there is nothing to recover, matching the teacher's
// cache.Load behavior of returning a zero value rather than failing boot.
func (s *Store) Load() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("statefile: read %s: %v", s.path, err)
		}
		return Session{}
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		log.Warnf("statefile: parse %s: %v", s.path, err)
		return Session{}
	}
	return sess
}

// Save writes sess atomically (tmp file + rename), creating the directory if
// needed.
func (s *Store) Save(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(sess)
	if err != nil {
		log.Warnf("statefile: marshal session: %v", err)
		return
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Warnf("statefile: create dir %s: %v", dir, err)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Warnf("statefile: write tmp: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Warnf("statefile: rename: %v", err)
		os.Remove(tmp)
	}
}

// Clear removes any persisted session, used once the Manager tears a PDP
// context down cleanly rather than leaving a stale cookie for the next boot.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		log.Warnf("statefile: clear: %v", err)
	}
}

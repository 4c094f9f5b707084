package replication

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// SpoolFile is the name of the delayed-work spool inside the data directory.
const SpoolFile = "delayed_work.jsonl"

// Entry is one queued command in captured form.
type Entry struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	State  []byte    `json:"state"`
	Queued time.Time `json:"queued"`
}

// Spool mirrors the delayed-work queue to a JSONL file so that commands
// deferred by a process that dies before replaying them survive a restart.
type Spool struct {
	path string
}

// NewSpool returns a spool stored in dataDir.
func NewSpool(dataDir string) *Spool {
	return &Spool{path: filepath.Join(dataDir, SpoolFile)}
}

func (s *Spool) Path() string {
	return s.path
}

// Load returns the spooled entries in queue order. A missing file is an
// empty spool. Malformed lines are skipped.
func (s *Spool) Load() ([]Entry, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", s.path)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.Kind == "" {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "scanning %s", s.path)
	}
	return entries, nil
}

// Save atomically replaces the spool with entries using the temp-file,
// fsync, rename pattern. An empty queue removes the file.
func (s *Spool) Save(entries []Entry) error {
	if len(entries) == 0 {
		return s.Clear()
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".spool-*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	fail := func(what string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, what)
	}

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fail("writing entry", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "renaming temp file")
	}
	return nil
}

// Clear removes the spool file.
func (s *Spool) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", s.path)
	}
	return nil
}

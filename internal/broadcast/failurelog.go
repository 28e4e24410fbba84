package broadcast

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const failureLogHeader = "Broadcast Failure Details:\n\n"

// FailureLog is the per-run artifact: one "<recipientId> | <reason>" line per
// failed recipient. Appends are safe for concurrent use.
type FailureLog struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	w       *bufio.Writer
	entries int
}

// CreateFailureLog creates an empty log under dir, named after the run.
func CreateFailureLog(dir, runID string) (*FailureLog, error) {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "broadcast_failures_"+runID+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l := &FailureLog{path: path, f: f, w: bufio.NewWriter(f)}
	if _, err := l.w.WriteString(failureLogHeader); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return l, nil
}

func (l *FailureLog) Path() string { return l.path }

// Len is the number of failure lines written.
func (l *FailureLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries
}

func (l *FailureLog) Append(recipient, reason string) error {
	line := oneLine(recipient) + " | " + oneLine(reason) + "\n"
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return fs.ErrClosed
	}
	if _, err := l.w.WriteString(line); err != nil {
		return err
	}
	l.entries++
	return nil
}

// Open flushes pending lines and opens the file for reading.
func (l *FailureLog) Open() (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			return nil, err
		}
	}
	return os.Open(l.path)
}

// Remove closes and deletes the artifact. It tolerates repeated calls and a
// file that is already gone.
func (l *FailureLog) Remove() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
		l.w = nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

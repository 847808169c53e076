package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tbkit-project/tbkit/pkg/util"
)

// DefaultFile is the journal name under the state directory.
const DefaultFile = "audit.jsonl"

// Logger stores and queries events.
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// FileLogger appends events to a JSON-lines file.
type FileLogger struct {
	path     string
	file     *os.File
	encoder  *json.Encoder
	mu       sync.RWMutex
	rotation RotationConfig
}

// RotationConfig bounds the journal size.
type RotationConfig struct {
	MaxSize    int64 // bytes before the file is rotated, 0 for never
	MaxBackups int   // rotated files kept, 0 for all
}

// NewFileLogger opens (or creates) the journal at path.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("audit: open journal: %w", err)
	}
	return &FileLogger{
		path:     path,
		file:     file,
		encoder:  json.NewEncoder(file),
		rotation: rotation,
	}, nil
}

// Log appends event, rotating the file first when it is too large.
func (l *FileLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotation.MaxSize > 0 {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.rotation.MaxSize {
			if err := l.rotate(); err != nil {
				return fmt.Errorf("audit: rotate: %w", err)
			}
		}
	}
	return l.encoder.Encode(event)
}

// Query returns the events of the current file matching filter, oldest
// first. Malformed lines are skipped with a warning.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []*Event
	sc := bufio.NewScanner(file)
	line := 0
	for sc.Scan() {
		line++
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			util.Warnf("audit: skipping malformed entry at line %d: %v", line, err)
			continue
		}
		if matches(&ev, filter) {
			events = append(events, &ev)
		}
	}
	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[len(events)-filter.Limit:]
	}
	return events, sc.Err()
}

// Close closes the journal.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func matches(ev *Event, f Filter) bool {
	switch {
	case f.Emulation != "" && ev.Emulation != f.Emulation:
		return false
	case f.Operation != "" && ev.Operation != f.Operation:
		return false
	case f.Host != "" && !ev.involves(f.Host):
		return false
	case !f.StartTime.IsZero() && ev.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && ev.Timestamp.After(f.EndTime):
		return false
	case f.SuccessOnly && !ev.Success:
		return false
	case f.FailureOnly && ev.Success:
		return false
	}
	return true
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	rotated := l.path + "." + time.Now().Format("20060102-150405.000000000")
	if err := os.Rename(l.path, rotated); err != nil {
		return err
	}
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.encoder = json.NewEncoder(file)

	if l.rotation.MaxBackups > 0 {
		l.pruneBackups()
	}
	return nil
}

// pruneBackups removes the oldest rotated files beyond MaxBackups. The
// timestamp suffix sorts chronologically.
func (l *FileLogger) pruneBackups() {
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil || len(matches) <= l.rotation.MaxBackups {
		return
	}
	sort.Strings(matches)
	for _, p := range matches[:len(matches)-l.rotation.MaxBackups] {
		if err := os.Remove(p); err != nil {
			util.Warnf("audit: remove %s: %v", p, err)
		}
	}
}

package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	eventFilePrefix = "events-"
	eventFileSuffix = ".jsonl.zst"
	eventHourLayout = "2006-01-02-15"
)

// EventLog appends events as JSON lines to zstd files, one file per UTC hour:
// <dir>/events-YYYY-MM-DD-HH.jsonl.zst. A file is only a complete zstd stream
// once the log has rotated past it or been closed.
type EventLog struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	hour    string
	f       *os.File
	zw      *zstd.Encoder
	bw      *bufio.Writer
	enc     *json.Encoder
	written uint64
}

// NewEventLog writes under <dataDir>/events.
func NewEventLog(dataDir string) *EventLog {
	return &EventLog{dir: filepath.Join(dataDir, "events"), now: time.Now}
}

func (l *EventLog) Dir() string { return l.dir }

func (l *EventLog) WriteEvent(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hour := l.now().UTC().Format(eventHourLayout)
	if l.enc == nil || hour != l.hour {
		if err := l.openLocked(hour); err != nil {
			return err
		}
	}
	// Encode appends the newline.
	if err := l.enc.Encode(e); err != nil {
		return err
	}
	l.written++
	return l.bw.Flush()
}

// Written counts events accepted since the log was created.
func (l *EventLog) Written() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *EventLog) openLocked(hour string) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(l.dir, eventFilePrefix+hour+eventFileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f, l.zw, l.hour = f, zw, hour
	l.bw = bufio.NewWriterSize(zw, 64*1024)
	l.enc = json.NewEncoder(l.bw)
	return nil
}

func (l *EventLog) closeLocked() error {
	if l.f == nil {
		return nil
	}
	err := l.bw.Flush()
	if cerr := l.zw.Close(); err == nil {
		err = cerr
	}
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f, l.zw, l.bw, l.enc = nil, nil, nil, nil
	return err
}

// ListEventFiles returns the hourly files in dir, oldest first.
func ListEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, eventFilePrefix) || !strings.HasSuffix(name, eventFileSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	// The hour layout sorts lexically.
	sort.Strings(out)
	return out, nil
}

// ReadEvents decodes every event in one hourly file. On a decode error the
// events read so far are returned with it.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out []Event
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return out, fmt.Errorf("%s: line %d: %w", filepath.Base(path), len(out)+1, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

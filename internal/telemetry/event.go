package telemetry

import (
	"time"

	"terrastream.ai/internal/stream"
)

const (
	KindLoadStart = "load_start"
	KindLoadOK    = "load_ok"
	KindLoadError = "load_error"
	KindRelease   = "release"
)

// Event is one chunk lifecycle record as written to the event log and index.
type Event struct {
	Time       string  `json:"ts"`
	Kind       string  `json:"kind"`
	Chunk      string  `json:"chunk"`
	CX         int     `json:"cx"`
	CY         int     `json:"cy"`
	DurationMs float64 `json:"duration_ms,omitempty"`
	TileCount  int     `json:"tile_count,omitempty"`
	CacheSize  int     `json:"cache_size,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func newEvent(now time.Time, kind string, key stream.ChunkKey) Event {
	return Event{
		Time:  now.UTC().Format(time.RFC3339Nano),
		Kind:  kind,
		Chunk: key.String(),
		CX:    key.CX,
		CY:    key.CY,
	}
}

// EventWriter persists events. WriteEvent must not block for long; it runs
// on the goroutine that loaded or released the chunk.
type EventWriter interface {
	WriteEvent(e Event) error
	Close() error
}

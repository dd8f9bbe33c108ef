package stream

import "time"

type ReleaseReason string

const (
	ReasonManual  ReleaseReason = "manual"
	ReasonEvicted ReleaseReason = "evicted"
	ReasonStale   ReleaseReason = "stale"
)

type LoadMetrics struct {
	Duration  time.Duration
	TileCount int
	CacheSize int
}

func (m LoadMetrics) DurationMs() float64 { return float64(m.Duration) / float64(time.Millisecond) }

type ReleaseMetrics struct {
	Duration  time.Duration
	TileCount int
	CacheSize int
	Reason    ReleaseReason
}

func (m ReleaseMetrics) DurationMs() float64 { return float64(m.Duration) / float64(time.Millisecond) }

// EntryInfo is a read-only view of a cached chunk handed to cleanup policies.
type EntryInfo struct {
	Key          ChunkKey
	LastAccessed time.Time
	TileCount    int
}

type SnapshotFunc func() []EntryInfo

// EvictFunc releases key with the given reason and returns the removed entry,
// or nil when the key was not cached.
type EvictFunc func(key ChunkKey, reason ReleaseReason) *CacheEntry

// Telemetry observes the chunk lifecycle. Implementations must not block:
// the manager calls them on the requesting goroutine. Panics are recovered
// and dropped.
type Telemetry interface {
	LogLoadStart(key ChunkKey)
	LogLoadSuccess(key ChunkKey, m LoadMetrics)
	LogLoadError(key ChunkKey, err error)
	LogRelease(key ChunkKey, m ReleaseMetrics)

	// ScheduleCleanup hands the sink a way to inspect and evict cached
	// chunks. The returned func, if any, detaches the hook.
	ScheduleCleanup(snapshot SnapshotFunc, evict EvictFunc) (cancel func())

	Close() error
}

// NopTelemetry discards everything.
type NopTelemetry struct{}

func (NopTelemetry) LogLoadStart(ChunkKey)                          {}
func (NopTelemetry) LogLoadSuccess(ChunkKey, LoadMetrics)           {}
func (NopTelemetry) LogLoadError(ChunkKey, error)                   {}
func (NopTelemetry) LogRelease(ChunkKey, ReleaseMetrics)            {}
func (NopTelemetry) ScheduleCleanup(SnapshotFunc, EvictFunc) func() { return nil }
func (NopTelemetry) Close() error                                   { return nil }

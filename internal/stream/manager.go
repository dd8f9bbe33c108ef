package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"terrastream.ai/internal/terrain/gen"
)

var ErrInvalidConfig = errors.New("invalid stream config")

type ChunkKey struct {
	CX int
	CY int
}

func (k ChunkKey) String() string { return strconv.Itoa(k.CX) + ":" + strconv.Itoa(k.CY) }

func ParseChunkKey(s string) (ChunkKey, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return ChunkKey{}, fmt.Errorf("bad chunk key %q", s)
	}
	cx, err := strconv.Atoi(a)
	if err != nil {
		return ChunkKey{}, fmt.Errorf("bad chunk key %q: %w", s, err)
	}
	cy, err := strconv.Atoi(b)
	if err != nil {
		return ChunkKey{}, fmt.Errorf("bad chunk key %q: %w", s, err)
	}
	return ChunkKey{CX: cx, CY: cy}, nil
}

type LoaderFunc func(ctx context.Context, cx, cy int) (*gen.ChunkPayload, error)

// EvictedFunc is called synchronously for every chunk removed by capacity
// enforcement or by a cleanup-triggered release.
type EvictedFunc func(key ChunkKey, entry CacheEntry)

type CacheEntry struct {
	Key          ChunkKey
	Data         gen.ChunkData
	TileCount    int
	LastAccessed time.Time

	seq uint64
}

type Config struct {
	ChunkSize       int
	MaxLoadedChunks int
	Load            LoaderFunc

	// Telemetry is optional. When nil the manager owns a NopTelemetry.
	Telemetry      Telemetry
	OnChunkEvicted EvictedFunc
	WorldSeed      int64

	// Now defaults to time.Now.
	Now func() time.Time
}

type Result struct {
	Key   ChunkKey
	Entry CacheEntry
	IsNew bool
	// Payload is the full generation output, field maps included. Only set
	// when IsNew is true.
	Payload *gen.ChunkPayload
}

type Stats struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Coalesced  uint64 `json:"coalesced"`
	Loads      uint64 `json:"loads"`
	LoadErrors uint64 `json:"load_errors"`
	Evictions  uint64 `json:"evictions"`
	Releases   uint64 `json:"releases"`
	Resident   int    `json:"resident"`
	InFlight   int    `json:"in_flight"`
}

type pendingLoad struct {
	done chan struct{}
	res  Result
	err  error
}

func (p *pendingLoad) wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Manager caches generated chunks, coalesces concurrent loads of the same
// chunk and keeps at most MaxLoadedChunks resident. It starts no goroutines
// of its own.
type Manager struct {
	chunkSize int
	maxLoaded int
	seed      int64
	load      LoaderFunc
	onEvicted EvictedFunc
	now       func() time.Time

	telemetry     Telemetry
	ownsTelemetry bool
	cancelCleanup func()
	closeOnce     sync.Once

	mu       sync.Mutex
	cache    map[ChunkKey]*CacheEntry
	inflight map[ChunkKey]*pendingLoad
	seq      uint64
	stats    Stats
}

func New(cfg Config) (*Manager, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be > 0, got %d", ErrInvalidConfig, cfg.ChunkSize)
	}
	if cfg.MaxLoadedChunks <= 0 {
		return nil, fmt.Errorf("%w: max loaded chunks must be > 0, got %d", ErrInvalidConfig, cfg.MaxLoadedChunks)
	}
	if cfg.Load == nil {
		return nil, fmt.Errorf("%w: loader is required", ErrInvalidConfig)
	}

	m := &Manager{
		chunkSize: cfg.ChunkSize,
		maxLoaded: cfg.MaxLoadedChunks,
		seed:      cfg.WorldSeed,
		load:      cfg.Load,
		onEvicted: cfg.OnChunkEvicted,
		now:       cfg.Now,
		telemetry: cfg.Telemetry,
		cache:     map[ChunkKey]*CacheEntry{},
		inflight:  map[ChunkKey]*pendingLoad{},
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.telemetry == nil {
		m.telemetry = NopTelemetry{}
		m.ownsTelemetry = true
	}

	m.emit(func(t Telemetry) {
		m.cancelCleanup = t.ScheduleCleanup(m.Snapshot, m.ReleaseChunk)
	})
	return m, nil
}

func (m *Manager) ChunkSize() int   { return m.chunkSize }
func (m *Manager) MaxLoaded() int   { return m.maxLoaded }
func (m *Manager) WorldSeed() int64 { return m.seed }

// EnsureChunkLoaded returns the cached chunk, joins a load already in flight
// for the same key, or starts a new load. The load itself is never cancelled
// and still populates the cache.
//
// The caller that starts a load runs the loader on its own goroutine and
// returns only when the loader does, whatever happens to ctx. Callers that
// join an in-flight load return ctx.Err() as soon as their ctx ends.
func (m *Manager) EnsureChunkLoaded(ctx context.Context, cx, cy int) (Result, error) {
	key := ChunkKey{CX: cx, CY: cy}

	m.mu.Lock()
	if e, ok := m.cache[key]; ok {
		m.touchLocked(e)
		m.stats.Hits++
		res := Result{Key: key, Entry: *e}
		m.mu.Unlock()
		return res, nil
	}
	if p, ok := m.inflight[key]; ok {
		m.stats.Coalesced++
		m.mu.Unlock()
		return p.wait(ctx)
	}
	p := &pendingLoad{done: make(chan struct{})}
	m.inflight[key] = p
	m.stats.Misses++
	m.mu.Unlock()

	m.runLoad(ctx, key, p)
	return p.res, p.err
}

func (m *Manager) runLoad(ctx context.Context, key ChunkKey, p *pendingLoad) {
	m.emit(func(t Telemetry) { t.LogLoadStart(key) })

	start := m.now()
	payload, err := m.callLoader(context.WithoutCancel(ctx), key)
	dur := m.now().Sub(start)
	if err == nil && payload == nil {
		err = fmt.Errorf("loader returned no payload for chunk %s", key)
	}

	m.mu.Lock()
	delete(m.inflight, key)
	if err != nil {
		m.stats.LoadErrors++
		m.mu.Unlock()
		p.err = err
		close(p.done)
		m.emit(func(t Telemetry) { t.LogLoadError(key, err) })
		return
	}

	data := payload.Trim()
	entry := &CacheEntry{Key: key, Data: data, TileCount: data.TileCount()}
	m.touchLocked(entry)
	m.cache[key] = entry
	m.stats.Loads++
	p.res = Result{Key: key, Entry: *entry, IsNew: true, Payload: payload}

	evicted := m.enforceCapacityLocked()
	size := len(m.cache)
	m.mu.Unlock()
	close(p.done)

	m.emit(func(t Telemetry) {
		t.LogLoadSuccess(key, LoadMetrics{Duration: dur, TileCount: entry.TileCount, CacheSize: size})
	})
	for _, ev := range evicted {
		m.notifyEvicted(ev.entry)
		ev.metrics.Duration = m.now().Sub(ev.start)
		m.emit(func(t Telemetry) { t.LogRelease(ev.entry.Key, ev.metrics) })
	}
}

func (m *Manager) callLoader(ctx context.Context, key ChunkKey) (payload *gen.ChunkPayload, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("loader panic for chunk %s: %v", key, r)
		}
	}()
	return m.load(ctx, key.CX, key.CY)
}

// touchLocked refreshes recency. seq orders entries even when the clock does
// not advance between calls.
func (m *Manager) touchLocked(e *CacheEntry) {
	m.seq++
	e.seq = m.seq
	now := m.now()
	if now.Before(e.LastAccessed) {
		now = e.LastAccessed
	}
	e.LastAccessed = now
}

type evictedEntry struct {
	entry   CacheEntry
	start   time.Time
	metrics ReleaseMetrics
}

// enforceCapacityLocked evicts least-recently-accessed entries until the
// cache fits. The entry inserted just before the pass is eligible too.
func (m *Manager) enforceCapacityLocked() []evictedEntry {
	over := len(m.cache) - m.maxLoaded
	if over <= 0 {
		return nil
	}
	start := m.now()
	entries := make([]*CacheEntry, 0, len(m.cache))
	for _, e := range m.cache {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]evictedEntry, 0, over)
	for _, e := range entries[:over] {
		delete(m.cache, e.Key)
		m.stats.Evictions++
		out = append(out, evictedEntry{
			entry: *e,
			start: start,
			metrics: ReleaseMetrics{
				TileCount: e.TileCount,
				CacheSize: len(m.cache),
				Reason:    ReasonEvicted,
			},
		})
	}
	return out
}

// ReleaseChunk removes key from the cache. It returns nil when the key is not
// cached.
func (m *Manager) ReleaseChunk(key ChunkKey, reason ReleaseReason) *CacheEntry {
	if reason == "" {
		reason = ReasonManual
	}
	start := m.now()

	m.mu.Lock()
	e, ok := m.cache[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.cache, key)
	m.stats.Releases++
	size := len(m.cache)
	out := *e
	m.mu.Unlock()

	if reason != ReasonManual {
		m.notifyEvicted(out)
	}
	metrics := ReleaseMetrics{
		Duration:  m.now().Sub(start),
		TileCount: out.TileCount,
		CacheSize: size,
		Reason:    reason,
	}
	m.emit(func(t Telemetry) { t.LogRelease(key, metrics) })
	return &out
}

// Close detaches the cleanup hook and closes telemetry the manager created
// itself. Calling it more than once is a no-op.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.cancelCleanup != nil {
			safeCall(m.cancelCleanup)
		}
		if m.ownsTelemetry {
			m.emit(func(t Telemetry) { err = t.Close() })
		}
	})
	return err
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// Peek returns a cached entry without refreshing its recency.
func (m *Manager) Peek(key ChunkKey) (CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[key]
	if !ok {
		return CacheEntry{}, false
	}
	return *e, true
}

func (m *Manager) Keys() []ChunkKey {
	m.mu.Lock()
	keys := make([]ChunkKey, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CY < keys[j].CY
	})
	return keys
}

// Snapshot lists cached chunks, least recently accessed first.
func (m *Manager) Snapshot() []EntryInfo {
	m.mu.Lock()
	entries := make([]*CacheEntry, 0, len(m.cache))
	for _, e := range m.cache {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]EntryInfo, len(entries))
	for i, e := range entries {
		out[i] = EntryInfo{Key: e.Key, LastAccessed: e.LastAccessed, TileCount: e.TileCount}
	}
	m.mu.Unlock()
	return out
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats
	st.Resident = len(m.cache)
	st.InFlight = len(m.inflight)
	return st
}

func (m *Manager) notifyEvicted(e CacheEntry) {
	if m.onEvicted == nil {
		return
	}
	safeCall(func() { m.onEvicted(e.Key, e) })
}

func (m *Manager) emit(fn func(Telemetry)) {
	safeCall(func() { fn(m.telemetry) })
}

func safeCall(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

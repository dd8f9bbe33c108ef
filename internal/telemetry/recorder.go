package telemetry

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"terrastream.ai/internal/stream"
)

type Options struct {
	Logger  *log.Logger
	Writers []EventWriter

	// StaleAfter enables the sweeper: chunks not accessed for longer than
	// this are released with reason "stale". Zero disables it.
	StaleAfter time.Duration
	// SweepEvery defaults to StaleAfter/4.
	SweepEvery time.Duration

	Now func() time.Time
}

// Recorder fans chunk lifecycle events out to a logger and event writers and
// runs the stale sweeper. It implements stream.Telemetry.
type Recorder struct {
	logger     *log.Logger
	writers    []EventWriter
	staleAfter time.Duration
	sweepEvery time.Duration
	now        func() time.Time

	writeErrs atomic.Uint64
	swept     atomic.Uint64

	mu       sync.Mutex
	sweepers []func()
	closed   bool
}

var _ stream.Telemetry = (*Recorder)(nil)

func NewRecorder(opts Options) *Recorder {
	r := &Recorder{
		logger:     opts.Logger,
		writers:    opts.Writers,
		staleAfter: opts.StaleAfter,
		sweepEvery: opts.SweepEvery,
		now:        opts.Now,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.staleAfter > 0 && r.sweepEvery <= 0 {
		r.sweepEvery = max(r.staleAfter/4, 10*time.Millisecond)
	}
	return r
}

func (r *Recorder) LogLoadStart(key stream.ChunkKey) {
	r.write(newEvent(r.now(), KindLoadStart, key))
}

func (r *Recorder) LogLoadSuccess(key stream.ChunkKey, m stream.LoadMetrics) {
	e := newEvent(r.now(), KindLoadOK, key)
	e.DurationMs = m.DurationMs()
	e.TileCount = m.TileCount
	e.CacheSize = m.CacheSize
	r.write(e)
	r.logf("chunk %s loaded in %.2fms (%s tiles, %d resident)", key, e.DurationMs, humanize.Comma(int64(m.TileCount)), m.CacheSize)
}

func (r *Recorder) LogLoadError(key stream.ChunkKey, err error) {
	e := newEvent(r.now(), KindLoadError, key)
	if err != nil {
		e.Error = err.Error()
	}
	r.write(e)
	r.logf("chunk %s load failed: %v", key, err)
}

func (r *Recorder) LogRelease(key stream.ChunkKey, m stream.ReleaseMetrics) {
	e := newEvent(r.now(), KindRelease, key)
	e.DurationMs = m.DurationMs()
	e.TileCount = m.TileCount
	e.CacheSize = m.CacheSize
	e.Reason = string(m.Reason)
	r.write(e)
	r.logf("chunk %s released (%s, %d resident)", key, m.Reason, m.CacheSize)
}

// ScheduleCleanup starts a sweeper goroutine when StaleAfter is set. The
// returned cancel stops it and waits for an in-progress sweep to finish.
func (r *Recorder) ScheduleCleanup(snapshot stream.SnapshotFunc, evict stream.EvictFunc) func() {
	if r.staleAfter <= 0 || snapshot == nil || evict == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(r.sweepEvery)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				r.Sweep(snapshot, evict)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			<-done
		})
	}
	r.sweepers = append(r.sweepers, cancel)
	return cancel
}

// Sweep releases every entry idle for longer than StaleAfter and returns how
// many were released.
func (r *Recorder) Sweep(snapshot stream.SnapshotFunc, evict stream.EvictFunc) int {
	if r.staleAfter <= 0 {
		return 0
	}
	now := r.now()
	n := 0
	for _, e := range snapshot() {
		if now.Sub(e.LastAccessed) <= r.staleAfter {
			// Snapshot is oldest first.
			break
		}
		if evict(e.Key, stream.ReasonStale) != nil {
			n++
		}
	}
	if n > 0 {
		r.swept.Add(uint64(n))
		r.logf("swept %d stale chunk(s)", n)
	}
	return n
}

func (r *Recorder) WriteErrors() uint64 { return r.writeErrs.Load() }
func (r *Recorder) Swept() uint64       { return r.swept.Load() }

// Close stops all sweepers and closes the writers.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sweepers := r.sweepers
	r.sweepers = nil
	r.mu.Unlock()

	for _, cancel := range sweepers {
		cancel()
	}
	var errs []error
	for _, w := range r.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) write(e Event) {
	for _, w := range r.writers {
		if err := w.WriteEvent(e); err != nil {
			r.writeErrs.Add(1)
		}
	}
}

func (r *Recorder) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

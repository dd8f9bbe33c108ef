package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is a queryable secondary copy of the event log. Writes are
// queued to a single writer goroutine and dropped when the queue is full.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan Event
	wg   sync.WaitGroup
	once sync.Once

	// mu guards sends on ch against Close closing it.
	mu     sync.RWMutex
	closed bool

	dropLoad    atomic.Uint64
	dropRelease atomic.Uint64
	written     atomic.Uint64
}

type IndexStats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	WrittenTotal     uint64 `json:"written_total"`
	DropLoadTotal    uint64 `json:"drop_load_total"`
	DropReleaseTotal uint64 `json:"drop_release_total"`
}

const defaultIndexQueue = 16384

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan Event, defaultIndexQueue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS load_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			duration_ms REAL NOT NULL,
			tile_count INTEGER NOT NULL,
			cache_size INTEGER NOT NULL,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_load_events_chunk ON load_events(cx, cy, ts);`,
		`CREATE TABLE IF NOT EXISTS release_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			reason TEXT NOT NULL,
			duration_ms REAL NOT NULL,
			tile_count INTEGER NOT NULL,
			cache_size INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_release_events_reason ON release_events(reason, ts);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent enqueues e. Load-start events are not indexed.
func (s *SQLiteIndex) WriteEvent(e Event) error {
	if s == nil || e.Kind == KindLoadStart {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- e:
	default:
		// The JSONL log stays authoritative; the index may lag or lose rows.
		if e.Kind == KindRelease {
			s.dropRelease.Add(1)
		} else {
			s.dropLoad.Add(1)
		}
	}
	return nil
}

func (s *SQLiteIndex) Stats() IndexStats {
	if s == nil {
		return IndexStats{}
	}
	return IndexStats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		WrittenTotal:     s.written.Load(),
		DropLoadTotal:    s.dropLoad.Load(),
		DropReleaseTotal: s.dropRelease.Load(),
	}
}

// CountReleases returns how many release rows carry reason. Rows still
// queued are not visible.
func (s *SQLiteIndex) CountReleases(ctx context.Context, reason string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM release_events WHERE reason = ?`, reason).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertLoad, _ := s.db.Prepare(`INSERT INTO load_events(ts,kind,cx,cy,duration_ms,tile_count,cache_size,error) VALUES(?,?,?,?,?,?,?,?)`)
	insertRelease, _ := s.db.Prepare(`INSERT INTO release_events(ts,cx,cy,reason,duration_ms,tile_count,cache_size) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertLoad != nil {
			_ = insertLoad.Close()
		}
		if insertRelease != nil {
			_ = insertRelease.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for e := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch e.Kind {
		case KindRelease:
			if insertRelease != nil {
				_, err = tx.Stmt(insertRelease).Exec(e.Time, e.CX, e.CY, e.Reason, e.DurationMs, e.TileCount, e.CacheSize)
			}
		default:
			if insertLoad != nil {
				var errText any
				if e.Error != "" {
					errText = e.Error
				}
				_, err = tx.Stmt(insertLoad).Exec(e.Time, e.Kind, e.CX, e.CY, e.DurationMs, e.TileCount, e.CacheSize, errText)
			}
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		s.written.Add(1)
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

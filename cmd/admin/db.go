package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/events.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	chunk := fs.String("chunk", "", "chunk key cx:cy (chunk query)")
	_ = fs.Parse(args)

	q := "releases"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "events.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, q, *limit, *chunk, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type reasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

type loadRow struct {
	TS         string  `json:"ts"`
	Kind       string  `json:"kind"`
	CX         int     `json:"cx"`
	CY         int     `json:"cy"`
	DurationMs float64 `json:"duration_ms"`
	TileCount  int     `json:"tile_count"`
	CacheSize  int     `json:"cache_size"`
	Error      string  `json:"error,omitempty"`
}

type chunkRow struct {
	TS     string `json:"ts"`
	Event  string `json:"event"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

func runQuery(db *sql.DB, q string, limit int, chunk string, emit func(any)) error {
	switch q {
	case "releases":
		rows, err := db.Query(`SELECT reason, COUNT(*) FROM release_events GROUP BY reason ORDER BY reason`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r reasonCount
			if err := rows.Scan(&r.Reason, &r.Count); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "errors", "slow":
		stmt := `SELECT ts,kind,cx,cy,duration_ms,tile_count,cache_size,COALESCE(error,'') FROM load_events WHERE kind='load_error' ORDER BY ts DESC LIMIT ?`
		if q == "slow" {
			stmt = `SELECT ts,kind,cx,cy,duration_ms,tile_count,cache_size,COALESCE(error,'') FROM load_events WHERE kind='load_ok' ORDER BY duration_ms DESC LIMIT ?`
		}
		rows, err := db.Query(stmt, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r loadRow
			if err := rows.Scan(&r.TS, &r.Kind, &r.CX, &r.CY, &r.DurationMs, &r.TileCount, &r.CacheSize, &r.Error); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "chunk":
		var cx, cy int
		if _, err := fmt.Sscanf(chunk, "%d:%d", &cx, &cy); err != nil {
			return fmt.Errorf("bad -chunk %q: want cx:cy", chunk)
		}
		rows, err := db.Query(`
			SELECT ts, kind, '', COALESCE(error,'') FROM load_events WHERE cx=? AND cy=?
			UNION ALL
			SELECT ts, 'release', reason, '' FROM release_events WHERE cx=? AND cy=?
			ORDER BY 1 DESC LIMIT ?`, cx, cy, cx, cy, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r chunkRow
			if err := rows.Scan(&r.TS, &r.Event, &r.Reason, &r.Error); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query %q (releases|errors|slow|chunk)", q)
	}
}

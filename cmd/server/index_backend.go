package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"terrastream.ai/internal/telemetry"
)

// eventIndex is a queryable copy of the chunk event stream.
type eventIndex interface {
	telemetry.EventWriter
}

func openEventIndex(dataDir string, seed int64, enabled bool, logger *log.Logger) (eventIndex, error) {
	if !enabled {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return telemetry.OpenSQLite(filepath.Join(dataDir, "index", "events.sqlite"))
	case "http":
		endpoint := strings.TrimSpace(os.Getenv("TS_INDEX_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("TS_INDEX_BACKEND=http but TS_INDEX_INGEST_URL is empty")
		}
		return telemetry.OpenHTTPIngest(telemetry.IngestConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("TS_INDEX_TOKEN")),
			WorldSeed:     seed,
			BatchSize:     envInt("TS_INDEX_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("TS_INDEX_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported TS_INDEX_BACKEND: %s", backend)
	}
}

// indexStats reports queue health for backends that track it.
func indexStats(idx eventIndex) any {
	switch v := idx.(type) {
	case *telemetry.SQLiteIndex:
		return v.Stats()
	case *telemetry.HTTPIngest:
		return v.Stats()
	default:
		return nil
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

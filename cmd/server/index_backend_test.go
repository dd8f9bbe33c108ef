package main

import (
	"io"
	"log"
	"testing"

	"terrastream.ai/internal/telemetry"
)

func TestOpenEventIndexBackends(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	if idx, err := openEventIndex(t.TempDir(), 1, false, logger); idx != nil || err != nil {
		t.Fatalf("disabled index: %v %v", idx, err)
	}

	t.Setenv("TS_INDEX_BACKEND", "off")
	if idx, err := openEventIndex(t.TempDir(), 1, true, logger); idx != nil || err != nil {
		t.Fatalf("off backend: %v %v", idx, err)
	}

	t.Setenv("TS_INDEX_BACKEND", "")
	idx, err := openEventIndex(t.TempDir(), 1, true, logger)
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	if _, ok := idx.(*telemetry.SQLiteIndex); !ok {
		t.Fatalf("default backend should be sqlite, got %T", idx)
	}
	if indexStats(idx) == nil {
		t.Fatalf("sqlite index should report stats")
	}
	_ = idx.Close()

	t.Setenv("TS_INDEX_BACKEND", "http")
	if _, err := openEventIndex(t.TempDir(), 1, true, logger); err == nil {
		t.Fatalf("http backend without url should fail")
	}
	t.Setenv("TS_INDEX_INGEST_URL", "http://127.0.0.1:1/ingest")
	idx, err = openEventIndex(t.TempDir(), 1, true, logger)
	if err != nil {
		t.Fatalf("http backend: %v", err)
	}
	if _, ok := idx.(*telemetry.HTTPIngest); !ok {
		t.Fatalf("expected http ingest, got %T", idx)
	}
	_ = idx.Close()

	t.Setenv("TS_INDEX_BACKEND", "d1")
	if _, err := openEventIndex(t.TempDir(), 1, true, logger); err == nil {
		t.Fatalf("unsupported backend should fail")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TS_TEST_INT", "42")
	if envInt("TS_TEST_INT", 7) != 42 {
		t.Fatalf("envInt should parse value")
	}
	t.Setenv("TS_TEST_INT", "-1")
	if envInt("TS_TEST_INT", 7) != 7 {
		t.Fatalf("envInt should fall back on non-positive values")
	}
}

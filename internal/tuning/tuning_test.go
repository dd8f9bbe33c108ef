package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_TuningYAML(t *testing.T) {
	tu, err := Load("../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if tu.World.Seed != 1337 || tu.Stream.ChunkSize != 32 || tu.Stream.MaxLoadedChunks != 256 {
		t.Fatalf("unexpected values: %+v", tu)
	}
	if tu.Stream.StaleAfter() != 5*time.Minute {
		t.Fatalf("stale after %v", tu.Stream.StaleAfter())
	}
	if err := tu.Validate(); err != nil {
		t.Fatalf("shipped config should validate: %v", err)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	tu, err := Load("  ")
	if err != nil {
		t.Fatal(err)
	}
	if tu != Defaults() {
		t.Fatalf("expected defaults, got %+v", tu)
	}
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("stream:\n  chunk_size: 16\n  max_loaded_chunks: 0\n  stale_after_sec: 60\n  sweep_every_sec: 0\ncache:\n  dir: \" chunks \"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if tu.Stream.ChunkSize != 16 || tu.Stream.MaxLoadedChunks != 256 {
		t.Fatalf("normalize should keep explicit and fill unset sizes: %+v", tu.Stream)
	}
	if tu.Stream.SweepEverySec != 15 {
		t.Fatalf("sweep interval %d want 15", tu.Stream.SweepEverySec)
	}
	if tu.Cache.Dir != "chunks" {
		t.Fatalf("cache dir %q", tu.Cache.Dir)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Tuning){
		"chunk_size":        func(t *Tuning) { t.Stream.ChunkSize = -1 },
		"max_loaded_chunks": func(t *Tuning) { t.Stream.MaxLoadedChunks = -3 },
		"workers":           func(t *Tuning) { t.Stream.Workers = -1 },
		"stale_after_sec":   func(t *Tuning) { t.Stream.StaleAfterSec = -1 },
		"max_width":         func(t *Tuning) { t.Region.MaxWidth = -1 },
	}
	for want, mutate := range cases {
		tu := Defaults()
		mutate(&tu)
		tu.Normalize()
		err := tu.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: expected validation error, got %v", want, err)
		}
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("stream: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "tuning.yaml") {
		t.Fatalf("expected yaml error, got %v", err)
	}
}

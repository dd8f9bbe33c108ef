package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	World     World     `yaml:"world"`
	Stream    Stream    `yaml:"stream"`
	Telemetry Telemetry `yaml:"telemetry"`
	Cache     Cache     `yaml:"cache"`
	Region    Region    `yaml:"region"`
}

type World struct {
	Seed int64 `yaml:"seed"`
}

type Stream struct {
	ChunkSize       int `yaml:"chunk_size"`
	MaxLoadedChunks int `yaml:"max_loaded_chunks"`
	// Workers is the generation pool size; 0 means one per CPU.
	Workers       int `yaml:"workers"`
	StaleAfterSec int `yaml:"stale_after_sec"`
	SweepEverySec int `yaml:"sweep_every_sec"`
	// ViewMaxChunks caps how many chunks one VIEW message may request.
	ViewMaxChunks int `yaml:"view_max_chunks"`
}

type Telemetry struct {
	JSONL          bool `yaml:"jsonl"`
	SQLite         bool `yaml:"sqlite"`
	LogChunkEvents bool `yaml:"log_chunk_events"`
}

type Cache struct {
	// Dir enables the on-disk chunk cache. Relative paths resolve against
	// the server data dir.
	Dir string `yaml:"dir"`
}

type Region struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
}

func Defaults() Tuning {
	return Tuning{
		World: World{Seed: 1337},
		Stream: Stream{
			ChunkSize:       32,
			MaxLoadedChunks: 256,
			StaleAfterSec:   300,
			SweepEverySec:   30,
			ViewMaxChunks:   64,
		},
		Telemetry: Telemetry{JSONL: true, SQLite: true},
		Region:    Region{MaxWidth: 512, MaxHeight: 512},
	}
}

// Load reads path over Defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills unset sizes from Defaults. Negative values are left for
// Validate to reject.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if t.Stream.ChunkSize == 0 {
		t.Stream.ChunkSize = d.Stream.ChunkSize
	}
	if t.Stream.MaxLoadedChunks == 0 {
		t.Stream.MaxLoadedChunks = d.Stream.MaxLoadedChunks
	}
	if t.Stream.ViewMaxChunks == 0 {
		t.Stream.ViewMaxChunks = d.Stream.ViewMaxChunks
	}
	if t.Stream.StaleAfterSec > 0 && t.Stream.SweepEverySec == 0 {
		t.Stream.SweepEverySec = max(t.Stream.StaleAfterSec/4, 1)
	}
	if t.Region.MaxWidth == 0 {
		t.Region.MaxWidth = d.Region.MaxWidth
	}
	if t.Region.MaxHeight == 0 {
		t.Region.MaxHeight = d.Region.MaxHeight
	}
	t.Cache.Dir = strings.TrimSpace(t.Cache.Dir)
}

func (t Tuning) Validate() error {
	s := t.Stream
	if s.ChunkSize <= 0 || s.ChunkSize > 1024 {
		return fmt.Errorf("stream.chunk_size must be in [1, 1024], got %d", s.ChunkSize)
	}
	if s.MaxLoadedChunks <= 0 {
		return fmt.Errorf("stream.max_loaded_chunks must be > 0, got %d", s.MaxLoadedChunks)
	}
	if s.Workers < 0 {
		return fmt.Errorf("stream.workers must be >= 0, got %d", s.Workers)
	}
	if s.StaleAfterSec < 0 || s.SweepEverySec < 0 {
		return fmt.Errorf("stream.stale_after_sec and stream.sweep_every_sec must be >= 0")
	}
	if s.ViewMaxChunks <= 0 {
		return fmt.Errorf("stream.view_max_chunks must be > 0, got %d", s.ViewMaxChunks)
	}
	if t.Region.MaxWidth <= 0 || t.Region.MaxHeight <= 0 {
		return fmt.Errorf("region.max_width and region.max_height must be > 0")
	}
	return nil
}

func (s Stream) StaleAfter() time.Duration { return time.Duration(s.StaleAfterSec) * time.Second }
func (s Stream) SweepEvery() time.Duration { return time.Duration(s.SweepEverySec) * time.Second }

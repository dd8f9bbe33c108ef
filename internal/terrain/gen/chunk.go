package gen

import (
	"fmt"

	"terrastream.ai/internal/terrain/classify"
	"terrastream.ai/internal/terrain/mathx"
)

// FormatVersion tags chunk payloads so cached or persisted chunks from an
// older generator can be told apart.
const FormatVersion = 1

type ChunkMetadata struct {
	Version int `json:"version"`
	StartX  int `json:"start_x"`
	StartY  int `json:"start_y"`
}

// ChunkPayload is the full output of generating one chunk. Fields is present
// only on fresh generations and is never cached.
type ChunkPayload struct {
	ChunkX    int
	ChunkY    int
	ChunkSize int
	Seed      int64
	Tiles     [][]classify.TileToken
	Biomes    [][]classify.Biome
	Fields    *FieldMaps
	Features  *RegionFeatures
	Metadata  *ChunkMetadata
}

// ChunkData is what a cache keeps for a chunk: the payload without field maps.
type ChunkData struct {
	ChunkX    int
	ChunkY    int
	ChunkSize int
	Seed      int64
	Tiles     [][]classify.TileToken
	Biomes    [][]classify.Biome
	Features  *RegionFeatures
	Metadata  *ChunkMetadata
}

// Trim drops the dense field maps.
func (p *ChunkPayload) Trim() ChunkData {
	if p == nil {
		return ChunkData{}
	}
	return ChunkData{
		ChunkX:    p.ChunkX,
		ChunkY:    p.ChunkY,
		ChunkSize: p.ChunkSize,
		Seed:      p.Seed,
		Tiles:     p.Tiles,
		Biomes:    p.Biomes,
		Features:  p.Features,
		Metadata:  p.Metadata,
	}
}

// Payload re-wraps cached data; Fields stays nil.
func (d ChunkData) Payload() *ChunkPayload {
	return &ChunkPayload{
		ChunkX:    d.ChunkX,
		ChunkY:    d.ChunkY,
		ChunkSize: d.ChunkSize,
		Seed:      d.Seed,
		Tiles:     d.Tiles,
		Biomes:    d.Biomes,
		Features:  d.Features,
		Metadata:  d.Metadata,
	}
}

func (d ChunkData) TileCount() int {
	n := 0
	for _, row := range d.Tiles {
		n += len(row)
	}
	return n
}

// ChunkWindow returns the absolute window covered by chunk (cx, cy).
func ChunkWindow(cx, cy, size int) Window {
	return Window{StartX: cx * size, StartY: cy * size, Width: size, Height: size}
}

// ChunkOf returns the chunk holding world tile (x, y) and the tile's offset
// inside it. Negative coordinates round toward negative infinity.
func ChunkOf(x, y, size int) (cx, cy, lx, ly int) {
	return mathx.FloorDiv(x, size), mathx.FloorDiv(y, size), mathx.Mod(x, size), mathx.Mod(y, size)
}

func GenerateChunk(seed int64, cx, cy, size int) (*ChunkPayload, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrInvalidWindow, size)
	}
	win := ChunkWindow(cx, cy, size)
	r, err := GenerateRegion(seed, win, RegionOptions{IncludeFields: true})
	if err != nil {
		return nil, fmt.Errorf("chunk %d,%d: %w", cx, cy, err)
	}
	feats := r.Features
	return &ChunkPayload{
		ChunkX:    cx,
		ChunkY:    cy,
		ChunkSize: size,
		Seed:      seed,
		Tiles:     r.Tiles,
		Biomes:    r.Biomes,
		Fields:    r.Fields,
		Features:  &feats,
		Metadata: &ChunkMetadata{
			Version: FormatVersion,
			StartX:  win.StartX,
			StartY:  win.StartY,
		},
	}, nil
}

package gen

import (
	"terrastream.ai/internal/terrain/classify"
	"terrastream.ai/internal/terrain/noise"
)

// Tile is one sampled cell. It is recomputed on demand and never cached with
// identity.
type Tile struct {
	X           int
	Y           int
	Height      float64
	Temperature float64
	Moisture    float64
	Climate     classify.ClimateBand
	Biome       classify.Biome
	Token       classify.TileToken
	IsRiver     bool
	IsWater     bool
}

// SampleTile evaluates every field at an absolute coordinate.
func SampleTile(seed int64, x, y int) Tile {
	h := noise.ComputeHeight(seed, x, y)
	t := noise.ComputeTemperature(seed, x, y, h)
	m := noise.ComputeMoisture(seed, x, y, h)
	river := noise.ComputeRiverMask(seed, x, y, h, m)
	biome := classify.ClassifyBiome(h, t, m)
	return Tile{
		X:           x,
		Y:           y,
		Height:      h,
		Temperature: t,
		Moisture:    m,
		Climate:     classify.ClimateBandFor(t, m),
		Biome:       biome,
		Token:       classify.BiomeToTile(biome, classify.TileContext{IsRiver: river, Height: h}),
		IsRiver:     river,
		IsWater:     h <= noise.WaterLevel,
	}
}

package gen

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"terrastream.ai/internal/terrain/classify"
	"terrastream.ai/internal/terrain/features"
	"terrastream.ai/internal/terrain/noise"
)

var ErrInvalidWindow = errors.New("invalid region window")

type Window struct {
	StartX int `json:"start_x"`
	StartY int `json:"start_y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type RegionOptions struct {
	// IncludeFields keeps the dense field maps on the result. They are large
	// and most consumers only need tiles and features.
	IncludeFields bool
}

// FieldMaps are dense row-major arrays over a window.
type FieldMaps struct {
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Elevation   []float64 `json:"elevation"`
	Temperature []float64 `json:"temperature"`
	Moisture    []float64 `json:"moisture"`
	Water       []bool    `json:"water"`
	River       []bool    `json:"river"`
}

func newFieldMaps(w, h int) *FieldMaps {
	n := w * h
	return &FieldMaps{
		Width:       w,
		Height:      h,
		Elevation:   make([]float64, n),
		Temperature: make([]float64, n),
		Moisture:    make([]float64, n),
		Water:       make([]bool, n),
		River:       make([]bool, n),
	}
}

type Coverage struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

type ElevationStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

type RegionFeatures struct {
	Rivers          []features.RiverPath `json:"rivers"`
	Coasts          []features.Point     `json:"coasts"`
	ClimateCoverage []Coverage           `json:"climate_coverage"`
	BiomeCoverage   []Coverage           `json:"biome_coverage"`
	Elevation       ElevationStats       `json:"elevation"`
}

type Region struct {
	Window
	Seed     int64
	Tiles    [][]classify.TileToken
	Biomes   [][]classify.Biome
	Fields   *FieldMaps
	Features RegionFeatures
}

// GenerateRegion samples every tile of the window and derives rivers,
// coastlines and coverage summaries.
func GenerateRegion(seed int64, win Window, opts RegionOptions) (*Region, error) {
	if win.Width <= 0 || win.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidWindow, win.Width, win.Height)
	}
	w, h := win.Width, win.Height

	fields := newFieldMaps(w, h)
	tiles := make([][]classify.TileToken, h)
	biomes := make([][]classify.Biome, h)

	climateCounts := make([]int, len(classify.ClimateBands()))
	biomeCounts := make([]int, len(classify.Biomes()))
	minH, maxH, sumH := math.Inf(1), math.Inf(-1), 0.0

	for ly := 0; ly < h; ly++ {
		tiles[ly] = make([]classify.TileToken, w)
		biomes[ly] = make([]classify.Biome, w)
		for lx := 0; lx < w; lx++ {
			t := SampleTile(seed, win.StartX+lx, win.StartY+ly)
			i := lx + ly*w

			fields.Elevation[i] = t.Height
			fields.Temperature[i] = t.Temperature
			fields.Moisture[i] = t.Moisture
			fields.Water[i] = t.IsWater
			fields.River[i] = t.IsRiver

			minH = math.Min(minH, t.Height)
			maxH = math.Max(maxH, t.Height)
			sumH += t.Height
			if int(t.Climate) < len(climateCounts) {
				climateCounts[t.Climate]++
			}
			if int(t.Biome) < len(biomeCounts) {
				biomeCounts[t.Biome]++
			}

			tok := t.Token
			switch {
			case t.IsWater:
				if t.Height < noise.DeepWaterLevel {
					tok = classify.TileDeepWater
				} else {
					tok = classify.TileWater
				}
			case !t.IsRiver && t.Height <= noise.WaterLevel+noise.CoastBand:
				tok = classify.TileCoast
			}
			tiles[ly][lx] = tok
			biomes[ly][lx] = t.Biome
		}
	}

	water := features.Mask{Width: w, Height: h, Cells: fields.Water}
	river := features.Mask{Width: w, Height: h, Cells: fields.River}

	total := float64(w * h)
	climate := make([]Coverage, 0, len(climateCounts))
	for i, n := range climateCounts {
		if n == 0 {
			continue
		}
		climate = append(climate, Coverage{Name: classify.ClimateBand(i).String(), Count: n, Percent: 100 * float64(n) / total})
	}
	biomeCov := make([]Coverage, 0, len(biomeCounts))
	for i, n := range biomeCounts {
		if n == 0 {
			continue
		}
		biomeCov = append(biomeCov, Coverage{Name: classify.Biome(i).String(), Count: n, Percent: 100 * float64(n) / total})
	}
	sortCoverage(climate)
	sortCoverage(biomeCov)

	r := &Region{
		Window: win,
		Seed:   seed,
		Tiles:  tiles,
		Biomes: biomes,
		Features: RegionFeatures{
			Rivers:          features.DeriveRiverPaths(river, fields.Elevation, win.StartX, win.StartY),
			Coasts:          features.DeriveCoastPoints(water, win.StartX, win.StartY),
			ClimateCoverage: climate,
			BiomeCoverage:   biomeCov,
			Elevation:       ElevationStats{Min: minH, Max: maxH, Mean: sumH / total},
		},
	}
	if opts.IncludeFields {
		r.Fields = fields
	}
	return r, nil
}

func sortCoverage(c []Coverage) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Count != c[j].Count {
			return c[i].Count > c[j].Count
		}
		return c[i].Name < c[j].Name
	})
}

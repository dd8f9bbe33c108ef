// Package noise holds the pure scalar fields terrain is built from. Every
// function is referentially transparent for a fixed (seed, x, y) and may be
// evaluated per tile from any goroutine.
package noise

import (
	"math"

	"terrastream.ai/internal/terrain/mathx"
)

const (
	// WaterLevel is the waterline: tiles at or below it are water.
	WaterLevel     = 0.35
	DeepWaterLevel = 0.22
	// CoastBand is the height margin around the waterline rendered as coast.
	CoastBand = 0.02

	RiverHeightCeiling = 0.78
	RiverMoistureFloor = 0.30
	RiverThreshold     = 0.035

	HeightCurve  = 1.08
	LatitudeSpan = 2048.0
)

// Layer salts. Changing any of these reshuffles every world.
const (
	saltContinent uint64 = iota + 1
	saltHills
	saltDetail
	saltTempContinental
	saltTempDetail
	saltMoistureBase
	saltMoistureDetail
	saltRiver
	saltOctave
)

type FractalParams struct {
	Frequency  float64
	Octaves    int
	Lacunarity float64
	Gain       float64
}

var (
	continentLayer = FractalParams{Frequency: 1.0 / 512, Octaves: 4, Lacunarity: 2, Gain: 0.5}
	hillsLayer     = FractalParams{Frequency: 1.0 / 128, Octaves: 3, Lacunarity: 2, Gain: 0.5}
	detailLayer    = FractalParams{Frequency: 1.0 / 32, Octaves: 2, Lacunarity: 2, Gain: 0.5}

	tempContinental = FractalParams{Frequency: 1.0 / 640, Octaves: 3, Lacunarity: 2, Gain: 0.5}
	tempDetail      = FractalParams{Frequency: 1.0 / 96, Octaves: 2, Lacunarity: 2, Gain: 0.5}

	moistureBase   = FractalParams{Frequency: 1.0 / 384, Octaves: 4, Lacunarity: 2, Gain: 0.5}
	moistureDetail = FractalParams{Frequency: 1.0 / 64, Octaves: 2, Lacunarity: 2, Gain: 0.5}

	riverChannel = FractalParams{Frequency: 1.0 / 48, Octaves: 2, Lacunarity: 2.2, Gain: 0.45}
)

func lattice(seed int64, x, y int) float64 {
	return mathx.Unit(mathx.Hash2(seed, x, y))
}

// ValueNoise returns hashed lattice noise in [0,1], bilinearly interpolated
// with smoothstep easing. It is continuous in x and y.
func ValueNoise(seed int64, x, y float64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	ix := int(x0)
	iy := int(y0)

	tx := mathx.Smoothstep(x - x0)
	ty := mathx.Smoothstep(y - y0)

	v00 := lattice(seed, ix, iy)
	v10 := lattice(seed, ix+1, iy)
	v01 := lattice(seed, ix, iy+1)
	v11 := lattice(seed, ix+1, iy+1)

	top := mathx.Lerp(v00, v10, tx)
	bottom := mathx.Lerp(v01, v11, tx)
	return mathx.Lerp(top, bottom, ty)
}

// FractalNoise sums octaves of ValueNoise and normalizes by total amplitude,
// so the result stays in [0,1].
func FractalNoise(seed int64, x, y float64, p FractalParams) float64 {
	octaves := p.Octaves
	if octaves <= 0 {
		octaves = 1
	}
	freq := p.Frequency
	amp := 1.0
	sum := 0.0
	norm := 0.0
	for i := 0; i < octaves; i++ {
		s := mathx.DeriveSeed(seed, saltOctave+uint64(i))
		sum += ValueNoise(s, x*freq, y*freq) * amp
		norm += amp
		amp *= p.Gain
		freq *= p.Lacunarity
	}
	if norm == 0 {
		return 0
	}
	return sum / norm
}

func layer(seed int64, salt uint64, x, y float64, p FractalParams) float64 {
	return FractalNoise(mathx.DeriveSeed(seed, salt), x, y, p)
}

// ComputeHeight blends continent, hill and detail layers and applies a mild
// power curve before clamping to [0,1].
func ComputeHeight(seed int64, x, y int) float64 {
	fx, fy := float64(x), float64(y)
	h := 0.60*layer(seed, saltContinent, fx, fy, continentLayer) +
		0.30*layer(seed, saltHills, fx, fy, hillsLayer) +
		0.10*layer(seed, saltDetail, fx, fy, detailLayer)
	return mathx.Clamp01(math.Pow(mathx.Clamp01(h), HeightCurve))
}

// ComputeTemperature is warmest at y=0 and cools with |y| and with elevation.
func ComputeTemperature(seed int64, x, y int, height float64) float64 {
	fx, fy := float64(x), float64(y)
	lat := 1 - math.Min(math.Abs(fy)/LatitudeSpan, 1)
	t := 0.55*lat +
		0.30*layer(seed, saltTempContinental, fx, fy, tempContinental) +
		0.15*layer(seed, saltTempDetail, fx, fy, tempDetail)
	t -= 0.45 * math.Max(0, height-WaterLevel)
	return mathx.Clamp01(t)
}

// ComputeMoisture is boosted close to the waterline.
func ComputeMoisture(seed int64, x, y int, height float64) float64 {
	fx, fy := float64(x), float64(y)
	m := 0.70*layer(seed, saltMoistureBase, fx, fy, moistureBase) +
		0.30*layer(seed, saltMoistureDetail, fx, fy, moistureDetail)
	const shore = 0.08
	if d := math.Abs(height - WaterLevel); d < shore {
		m += 0.15 * (1 - d/shore)
	}
	return mathx.Clamp01(m)
}

// ComputeRiverMask reports whether (x,y) lies on a river thread. Threads are
// the narrow band where a dedicated channel crosses its midpoint.
func ComputeRiverMask(seed int64, x, y int, height, moisture float64) bool {
	if height > RiverHeightCeiling || height <= WaterLevel || moisture < RiverMoistureFloor {
		return false
	}
	c := layer(seed, saltRiver, float64(x), float64(y), riverChannel)
	return math.Abs(2*c-1) < RiverThreshold
}

package classify

import "terrastream.ai/internal/terrain/noise"

type Biome uint8

const (
	DeepOcean Biome = iota
	Ocean
	Mountain
	Hills
	Tundra
	Snow
	Taiga
	Desert
	Savanna
	RainForest
	Badlands
	Steppe
	Swamp
	Grassland
	Forest

	biomeCount
)

var biomeNames = [biomeCount]string{
	DeepOcean:  "deep_ocean",
	Ocean:      "ocean",
	Mountain:   "mountain",
	Hills:      "hills",
	Tundra:     "tundra",
	Snow:       "snow",
	Taiga:      "taiga",
	Desert:     "desert",
	Savanna:    "savanna",
	RainForest: "rainforest",
	Badlands:   "badlands",
	Steppe:     "steppe",
	Swamp:      "swamp",
	Grassland:  "grassland",
	Forest:     "forest",
}

func (b Biome) String() string {
	if b >= biomeCount {
		return "unknown"
	}
	return biomeNames[b]
}

func (b Biome) IsWater() bool { return b == DeepOcean || b == Ocean }

// Biomes lists every biome in id order.
func Biomes() []Biome {
	out := make([]Biome, biomeCount)
	for i := range out {
		out[i] = Biome(i)
	}
	return out
}

type ClimateBand uint8

const (
	Polar ClimateBand = iota
	Subpolar
	TemperateDry
	TemperateHumid
	SubtropicalDry
	SubtropicalHumid
	TropicalDry
	TropicalHumid

	climateCount
)

var climateNames = [climateCount]string{
	Polar:            "polar",
	Subpolar:         "subpolar",
	TemperateDry:     "temperate_dry",
	TemperateHumid:   "temperate_humid",
	SubtropicalDry:   "subtropical_dry",
	SubtropicalHumid: "subtropical_humid",
	TropicalDry:      "tropical_dry",
	TropicalHumid:    "tropical_humid",
}

func (c ClimateBand) String() string {
	if c >= climateCount {
		return "unknown"
	}
	return climateNames[c]
}

func ClimateBands() []ClimateBand {
	out := make([]ClimateBand, climateCount)
	for i := range out {
		out[i] = ClimateBand(i)
	}
	return out
}

// ClassifyBiome walks the decision ladder: water, elevation, temperature,
// then moisture within the temperate band. Thresholds are part of the world
// format; changing them changes every generated map.
func ClassifyBiome(height, temperature, moisture float64) Biome {
	switch {
	case height <= noise.WaterLevel:
		if height < noise.DeepWaterLevel {
			return DeepOcean
		}
		return Ocean
	case height >= 0.82:
		return Mountain
	case height >= 0.70:
		if temperature < 0.32 {
			return Tundra
		}
		return Hills
	case temperature < 0.18:
		return Snow
	case temperature < 0.32:
		if moisture >= 0.40 {
			return Taiga
		}
		return Tundra
	case temperature > 0.78:
		switch {
		case moisture < 0.30:
			return Desert
		case moisture < 0.60:
			return Savanna
		default:
			return RainForest
		}
	}

	switch {
	case moisture < 0.22:
		return Badlands
	case moisture < 0.35:
		return Steppe
	case moisture > 0.78:
		return Swamp
	case moisture < 0.55:
		return Grassland
	default:
		return Forest
	}
}

// ClimateBandFor is independent of biome and elevation.
func ClimateBandFor(temperature, moisture float64) ClimateBand {
	switch {
	case temperature < 0.15:
		return Polar
	case temperature < 0.30:
		return Subpolar
	case temperature < 0.55:
		if moisture < 0.40 {
			return TemperateDry
		}
		return TemperateHumid
	case temperature < 0.75:
		if moisture < 0.40 {
			return SubtropicalDry
		}
		return SubtropicalHumid
	case moisture < 0.45:
		return TropicalDry
	default:
		return TropicalHumid
	}
}

package classify

import "terrastream.ai/internal/terrain/noise"

// TileToken is the renderer-facing label of a tile.
type TileToken string

const (
	TileDeepWater TileToken = "deep_water"
	TileWater     TileToken = "water"
	TileCoast     TileToken = "coast"
	TileRiver     TileToken = "river"
	TileRock      TileToken = "rock"
	TileHills     TileToken = "hills"
	TileTundra    TileToken = "tundra"
	TileSnow      TileToken = "snow"
	TileTaiga     TileToken = "taiga"
	TileSand      TileToken = "sand"
	TileSavanna   TileToken = "savanna"
	TileJungle    TileToken = "jungle"
	TileBadlands  TileToken = "badlands"
	TileSteppe    TileToken = "steppe"
	TileMarsh     TileToken = "marsh"
	TileGrass     TileToken = "grass"
	TileForest    TileToken = "forest"
)

var biomeTiles = [biomeCount]TileToken{
	DeepOcean:  TileDeepWater,
	Ocean:      TileWater,
	Mountain:   TileRock,
	Hills:      TileHills,
	Tundra:     TileTundra,
	Snow:       TileSnow,
	Taiga:      TileTaiga,
	Desert:     TileSand,
	Savanna:    TileSavanna,
	RainForest: TileJungle,
	Badlands:   TileBadlands,
	Steppe:     TileSteppe,
	Swamp:      TileMarsh,
	Grassland:  TileGrass,
	Forest:     TileForest,
}

type TileContext struct {
	IsRiver bool
	Height  float64
}

// BiomeToTile maps a biome to its token. Rivers override everything; open
// water just under the waterline renders as coast.
func BiomeToTile(b Biome, ctx TileContext) TileToken {
	if ctx.IsRiver {
		return TileRiver
	}
	if b == Ocean && ctx.Height >= noise.WaterLevel-noise.CoastBand {
		return TileCoast
	}
	if b >= biomeCount {
		return TileGrass
	}
	return biomeTiles[b]
}

// palette is the stable wire order of tile tokens. Append only.
var palette = []TileToken{
	TileDeepWater,
	TileWater,
	TileCoast,
	TileRiver,
	TileRock,
	TileHills,
	TileTundra,
	TileSnow,
	TileTaiga,
	TileSand,
	TileSavanna,
	TileJungle,
	TileBadlands,
	TileSteppe,
	TileMarsh,
	TileGrass,
	TileForest,
}

var paletteIndex = func() map[TileToken]uint16 {
	m := make(map[TileToken]uint16, len(palette))
	for i, t := range palette {
		m[t] = uint16(i)
	}
	return m
}()

func Palette() []TileToken {
	out := make([]TileToken, len(palette))
	copy(out, palette)
	return out
}

func PaletteID(t TileToken) (uint16, bool) {
	id, ok := paletteIndex[t]
	return id, ok
}

func TokenFromID(id uint16) (TileToken, bool) {
	if int(id) >= len(palette) {
		return "", false
	}
	return palette[id], true
}

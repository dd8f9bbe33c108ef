package classify

import (
	"testing"

	"terrastream.ai/internal/terrain/noise"
)

func TestClassifyBiomeLadder(t *testing.T) {
	cases := []struct {
		name    string
		h, t, m float64
		want    Biome
	}{
		{"deep", 0.10, 0.5, 0.5, DeepOcean},
		{"shallow", 0.30, 0.5, 0.5, Ocean},
		{"waterline is water", noise.WaterLevel, 0.5, 0.5, Ocean},
		{"mountain", 0.82, 0.9, 0.9, Mountain},
		{"hills", 0.75, 0.5, 0.5, Hills},
		{"high cold", 0.75, 0.2, 0.5, Tundra},
		{"snow", 0.5, 0.17, 0.9, Snow},
		{"taiga", 0.5, 0.25, 0.5, Taiga},
		{"dry cold", 0.5, 0.25, 0.2, Tundra},
		{"desert", 0.5, 0.8, 0.1, Desert},
		{"savanna", 0.5, 0.8, 0.5, Savanna},
		{"rainforest", 0.5, 0.8, 0.7, RainForest},
		{"badlands", 0.5, 0.5, 0.21, Badlands},
		{"steppe", 0.5, 0.5, 0.30, Steppe},
		{"swamp", 0.5, 0.5, 0.79, Swamp},
		{"grassland", 0.5, 0.5, 0.40, Grassland},
		{"forest", 0.5, 0.5, 0.60, Forest},
		{"temperate upper edge", 0.5, 0.78, 0.60, Forest},
	}
	for _, c := range cases {
		if got := ClassifyBiome(c.h, c.t, c.m); got != c.want {
			t.Fatalf("%s: ClassifyBiome(%v,%v,%v)=%s want %s", c.name, c.h, c.t, c.m, got, c.want)
		}
	}
}

func TestClimateBandLadder(t *testing.T) {
	cases := []struct {
		t, m float64
		want ClimateBand
	}{
		{0.10, 0.9, Polar},
		{0.20, 0.1, Subpolar},
		{0.40, 0.2, TemperateDry},
		{0.40, 0.6, TemperateHumid},
		{0.60, 0.2, SubtropicalDry},
		{0.60, 0.6, SubtropicalHumid},
		{0.90, 0.3, TropicalDry},
		{0.90, 0.8, TropicalHumid},
	}
	for _, c := range cases {
		if got := ClimateBandFor(c.t, c.m); got != c.want {
			t.Fatalf("ClimateBandFor(%v,%v)=%s want %s", c.t, c.m, got, c.want)
		}
	}
	if len(ClimateBands()) != 8 {
		t.Fatalf("expected 8 climate bands")
	}
	if len(Biomes()) != 15 {
		t.Fatalf("expected 15 biomes")
	}
}

func TestBiomeToTile(t *testing.T) {
	if got := BiomeToTile(Desert, TileContext{IsRiver: true, Height: 0.5}); got != TileRiver {
		t.Fatalf("river should override biome, got %s", got)
	}
	if got := BiomeToTile(Ocean, TileContext{Height: noise.WaterLevel - 0.01}); got != TileCoast {
		t.Fatalf("shallow ocean near waterline should be coast, got %s", got)
	}
	if got := BiomeToTile(Ocean, TileContext{Height: noise.WaterLevel - 0.05}); got != TileWater {
		t.Fatalf("open ocean should be water, got %s", got)
	}
	if got := BiomeToTile(DeepOcean, TileContext{Height: 0.1}); got != TileDeepWater {
		t.Fatalf("deep ocean should be deep_water, got %s", got)
	}
	for _, b := range Biomes() {
		if BiomeToTile(b, TileContext{Height: 0.5}) == "" {
			t.Fatalf("biome %s has no tile", b)
		}
	}
}

func TestPaletteRoundTrip(t *testing.T) {
	for i, tok := range Palette() {
		id, ok := PaletteID(tok)
		if !ok || int(id) != i {
			t.Fatalf("PaletteID(%s)=%d,%v want %d", tok, id, ok, i)
		}
		back, ok := TokenFromID(id)
		if !ok || back != tok {
			t.Fatalf("TokenFromID(%d)=%s want %s", id, back, tok)
		}
	}
	if _, ok := TokenFromID(9999); ok {
		t.Fatalf("out of range id should fail")
	}
	for _, b := range Biomes() {
		if _, ok := PaletteID(BiomeToTile(b, TileContext{Height: 0.5})); !ok {
			t.Fatalf("tile for %s missing from palette", b)
		}
	}
}

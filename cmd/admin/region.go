package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"terrastream.ai/internal/encoding"
	"terrastream.ai/internal/terrain/classify"
	"terrastream.ai/internal/terrain/gen"
	"terrastream.ai/internal/transport/ws"
)

var glyphs = map[classify.TileToken]byte{
	classify.TileDeepWater: '~',
	classify.TileWater:     '-',
	classify.TileCoast:     '.',
	classify.TileRiver:     '=',
	classify.TileRock:      '^',
	classify.TileHills:     'n',
	classify.TileTundra:    't',
	classify.TileSnow:      '*',
	classify.TileTaiga:     'T',
	classify.TileSand:      ':',
	classify.TileSavanna:   ',',
	classify.TileJungle:    'J',
	classify.TileBadlands:  'b',
	classify.TileSteppe:    's',
	classify.TileMarsh:     'm',
	classify.TileGrass:     '"',
	classify.TileForest:    'F',
}

func regionCmd(args []string) {
	fs := flag.NewFlagSet("region", flag.ExitOnError)
	seed := fs.Int64("seed", 1337, "world seed")
	x := fs.Int("x", 0, "window start x")
	y := fs.Int("y", 0, "window start y")
	w := fs.Int("w", 64, "window width")
	h := fs.Int("h", 32, "window height")
	format := fs.String("format", "ascii", "output format: ascii|json")
	fields := fs.Bool("fields", false, "include field maps (json only)")
	_ = fs.Parse(args)

	win := gen.Window{StartX: *x, StartY: *y, Width: *w, Height: *h}
	reg, err := gen.GenerateRegion(*seed, win, gen.RegionOptions{IncludeFields: *fields && *format == "json"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate:", err)
		os.Exit(2)
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	switch *format {
	case "ascii":
		writeASCII(out, reg)
	case "json":
		tiles, err := encoding.EncodeTiles(reg.Tiles)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			os.Exit(1)
		}
		printJSON(ws.RegionResponse{
			Window:    reg.Window,
			Seed:      reg.Seed,
			TilesRLE:  tiles,
			BiomesRLE: encoding.EncodeBiomes(reg.Biomes),
			Features:  reg.Features,
			Fields:    reg.Fields,
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown -format %q\n", *format)
		os.Exit(2)
	}
}

func writeASCII(w io.Writer, reg *gen.Region) {
	line := make([]byte, 0, reg.Width+1)
	for _, row := range reg.Tiles {
		line = line[:0]
		for _, tok := range row {
			g, ok := glyphs[tok]
			if !ok {
				g = '?'
			}
			line = append(line, g)
		}
		line = append(line, '\n')
		_, _ = w.Write(line)
	}
	f := reg.Features
	fmt.Fprintf(w, "seed=%d window=%d,%d %dx%d tiles=%s rivers=%d coasts=%s elevation=%.3f..%.3f\n",
		reg.Seed, reg.StartX, reg.StartY, reg.Width, reg.Height,
		humanize.Comma(int64(reg.Width*reg.Height)),
		len(f.Rivers), humanize.Comma(int64(len(f.Coasts))),
		f.Elevation.Min, f.Elevation.Max)
	for i, c := range f.BiomeCoverage {
		if i == 5 {
			break
		}
		fmt.Fprintf(w, "  %-18s %5.1f%%\n", c.Name, c.Percent)
	}
}

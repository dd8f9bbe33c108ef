package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"terrastream.ai/internal/terrain/classify"
)

// maxRun caps a single run when no decode limit is given.
const maxRun = 1 << 31

// EncodeRLE encodes palette ids as base64 of (id, run_len) uvarint pairs.
func EncodeRLE(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	for i := 0; i < len(ids); {
		id := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == id; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(id))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE reverses EncodeRLE. limit caps the decoded length; pass 0 for no
// total cap. A single run is never longer than maxRun.
func DecodeRLE(b64 string, limit int) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint16
	for i := 0; i < len(raw); {
		id, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if id > 0xFFFF {
			return nil, fmt.Errorf("palette id too large: %d", id)
		}
		if run == 0 {
			return nil, fmt.Errorf("zero run at %d", i)
		}
		if limit > 0 && run > uint64(limit-len(out)) {
			return nil, fmt.Errorf("decoded length exceeds %d", limit)
		}
		if run > maxRun {
			return nil, fmt.Errorf("run too long at %d: %d", i, run)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(id))
		}
	}
	return out, nil
}

// EncodeTiles flattens a row-major tile grid into palette ids.
func EncodeTiles(grid [][]classify.TileToken) (string, error) {
	ids := make([]uint16, 0, gridLen(grid))
	for y, row := range grid {
		for x, tok := range row {
			id, ok := classify.PaletteID(tok)
			if !ok {
				return "", fmt.Errorf("tile (%d,%d): unknown token %q", x, y, tok)
			}
			ids = append(ids, id)
		}
	}
	return EncodeRLE(ids), nil
}

func DecodeTiles(b64 string, width, height int) ([][]classify.TileToken, error) {
	ids, err := decodeGrid(b64, width, height)
	if err != nil {
		return nil, err
	}
	out := make([][]classify.TileToken, height)
	for y := range out {
		out[y] = make([]classify.TileToken, width)
		for x := range out[y] {
			tok, ok := classify.TokenFromID(ids[y*width+x])
			if !ok {
				return nil, fmt.Errorf("tile (%d,%d): unknown palette id %d", x, y, ids[y*width+x])
			}
			out[y][x] = tok
		}
	}
	return out, nil
}

func EncodeBiomes(grid [][]classify.Biome) string {
	ids := make([]uint16, 0, gridLen(grid))
	for _, row := range grid {
		for _, b := range row {
			ids = append(ids, uint16(b))
		}
	}
	return EncodeRLE(ids)
}

func DecodeBiomes(b64 string, width, height int) ([][]classify.Biome, error) {
	ids, err := decodeGrid(b64, width, height)
	if err != nil {
		return nil, err
	}
	n := uint16(len(classify.Biomes()))
	out := make([][]classify.Biome, height)
	for y := range out {
		out[y] = make([]classify.Biome, width)
		for x := range out[y] {
			id := ids[y*width+x]
			if id >= n {
				return nil, fmt.Errorf("biome (%d,%d): unknown id %d", x, y, id)
			}
			out[y][x] = classify.Biome(id)
		}
	}
	return out, nil
}

func decodeGrid(b64 string, width, height int) ([]uint16, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("bad grid size %dx%d", width, height)
	}
	ids, err := DecodeRLE(b64, width*height)
	if err != nil {
		return nil, err
	}
	if len(ids) != width*height {
		return nil, fmt.Errorf("decoded %d ids, want %d", len(ids), width*height)
	}
	return ids, nil
}

func gridLen[T any](grid [][]T) int {
	n := 0
	for _, row := range grid {
		n += len(row)
	}
	return n
}

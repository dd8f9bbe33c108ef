package gen

import "context"

// World is the explicit handle the composing layer passes around instead of
// looking generators up by seed. It carries no mutable state.
type World struct {
	Seed int64
}

func NewWorld(seed int64) World { return World{Seed: seed} }

func (w World) SampleTile(x, y int) Tile { return SampleTile(w.Seed, x, y) }

func (w World) GenerateRegion(win Window, opts RegionOptions) (*Region, error) {
	return GenerateRegion(w.Seed, win, opts)
}

func (w World) GenerateChunk(cx, cy, size int) (*ChunkPayload, error) {
	return GenerateChunk(w.Seed, cx, cy, size)
}

// Loader returns a chunk loader that generates synchronously on the calling
// goroutine.
func (w World) Loader(chunkSize int) func(ctx context.Context, cx, cy int) (*ChunkPayload, error) {
	return func(ctx context.Context, cx, cy int) (*ChunkPayload, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return w.GenerateChunk(cx, cy, chunkSize)
	}
}

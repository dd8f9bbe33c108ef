// Package chunkcache keeps generated chunks on disk so a restarted server does
// not pay for noise evaluation twice.
package chunkcache

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"terrastream.ai/internal/terrain/gen"
)

type Header struct {
	Version   int   `json:"version"`
	Seed      int64 `json:"seed"`
	ChunkX    int   `json:"cx"`
	ChunkY    int   `json:"cy"`
	ChunkSize int   `json:"chunk_size"`
}

// Store lays chunks out as <dir>/<seed>/<size>/<cx>.<cy>.chunk.zst.
type Store struct {
	dir string

	hits      atomic.Uint64
	misses    atomic.Uint64
	writeErrs atomic.Uint64
}

type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	WriteErrors uint64 `json:"write_errors"`
}

func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty chunk cache dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Path(seed int64, cx, cy, size int) string {
	return filepath.Join(s.dir,
		strconv.FormatInt(seed, 10),
		strconv.Itoa(size),
		fmt.Sprintf("%d.%d.chunk.zst", cx, cy))
}

func (s *Store) Write(d gen.ChunkData) error {
	path := s.Path(d.Seed, d.ChunkX, d.ChunkY, d.ChunkSize)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, d); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func writeFile(path string, d gen.ChunkData) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			_ = enc.Close()
		}
	}()
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(Header{
		Version:   gen.FormatVersion,
		Seed:      d.Seed,
		ChunkX:    d.ChunkX,
		ChunkY:    d.ChunkY,
		ChunkSize: d.ChunkSize,
	})
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&d); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	closed = true
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// Read returns the cached chunk. ok is false when there is no file or the
// file was written by a different generator version.
func (s *Store) Read(seed int64, cx, cy, size int) (d gen.ChunkData, ok bool, err error) {
	f, err := os.Open(s.Path(seed, cx, cy, size))
	if errors.Is(err, fs.ErrNotExist) {
		return d, false, nil
	}
	if err != nil {
		return d, false, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return d, false, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return d, false, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return d, false, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != gen.FormatVersion || h.Seed != seed || h.ChunkX != cx || h.ChunkY != cy || h.ChunkSize != size {
		return d, false, nil
	}
	if err := gob.NewDecoder(br).Decode(&d); err != nil {
		return d, false, fmt.Errorf("gob decode: %w", err)
	}
	return d, true, nil
}

func (s *Store) Stats() Stats {
	return Stats{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		WriteErrors: s.writeErrs.Load(),
	}
}

type LoaderFunc = func(ctx context.Context, cx, cy int) (*gen.ChunkPayload, error)

// Loader serves chunks from disk and falls back to next, writing what next
// returns. Disk hits carry no field maps. Unreadable files are treated as
// misses and overwritten.
func (s *Store) Loader(seed int64, size int, next LoaderFunc) LoaderFunc {
	return func(ctx context.Context, cx, cy int) (*gen.ChunkPayload, error) {
		if d, ok, err := s.Read(seed, cx, cy, size); err == nil && ok {
			s.hits.Add(1)
			return d.Payload(), nil
		}
		s.misses.Add(1)

		p, err := next(ctx, cx, cy)
		if err != nil || p == nil {
			return p, err
		}
		if err := s.Write(p.Trim()); err != nil {
			s.writeErrs.Add(1)
		}
		return p, nil
	}
}

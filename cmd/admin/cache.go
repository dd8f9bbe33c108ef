package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"terrastream.ai/internal/persistence/chunkcache"
)

type cacheFile struct {
	Path  string
	Seed  int64
	Size  int
	CX    int
	CY    int
	Bytes int64
}

type cacheReport struct {
	Files   int
	Bytes   int64
	Stale   int
	Corrupt int
	Pruned  int
}

func cacheCmd(args []string) {
	fset := flag.NewFlagSet("cache", flag.ExitOnError)
	dir := fset.String("dir", "./data/chunks", "chunk cache directory")
	verify := fset.Bool("verify", false, "decode every file and check its header")
	prune := fset.Bool("prune", false, "with -verify, delete stale and corrupt files")
	_ = fset.Parse(args)

	rep, err := inspectCache(*dir, *verify, *prune)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cache:", err)
		os.Exit(1)
	}
	fmt.Printf("cache %s: files=%s size=%s", *dir, humanize.Comma(int64(rep.Files)), humanize.Bytes(uint64(rep.Bytes)))
	if *verify {
		fmt.Printf(" stale=%d corrupt=%d pruned=%d", rep.Stale, rep.Corrupt, rep.Pruned)
	}
	fmt.Println()
}

func inspectCache(dir string, verify, prune bool) (cacheReport, error) {
	var rep cacheReport
	files, err := listCacheFiles(dir)
	if err != nil {
		return rep, err
	}
	store, err := chunkcache.Open(dir)
	if err != nil {
		return rep, err
	}
	for _, f := range files {
		rep.Files++
		rep.Bytes += f.Bytes
		if !verify {
			continue
		}
		_, ok, err := store.Read(f.Seed, f.CX, f.CY, f.Size)
		bad := false
		switch {
		case err != nil:
			rep.Corrupt++
			bad = true
		case !ok:
			rep.Stale++
			bad = true
		}
		if bad && prune {
			if err := os.Remove(f.Path); err != nil {
				return rep, err
			}
			rep.Pruned++
		}
	}
	return rep, nil
}

// listCacheFiles walks <dir>/<seed>/<size>/<cx>.<cy>.chunk.zst and skips
// anything that does not fit that layout.
func listCacheFiles(dir string) ([]cacheFile, error) {
	var out []cacheFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".chunk.zst") {
			return nil
		}
		f, ok := parseCachePath(dir, path)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		f.Bytes = info.Size()
		out = append(out, f)
		return nil
	})
	return out, err
}

func parseCachePath(root, path string) (cacheFile, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return cacheFile{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return cacheFile{}, false
	}
	seed, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return cacheFile{}, false
	}
	size, err := strconv.Atoi(parts[1])
	if err != nil {
		return cacheFile{}, false
	}
	xy := strings.Split(strings.TrimSuffix(parts[2], ".chunk.zst"), ".")
	if len(xy) != 2 {
		return cacheFile{}, false
	}
	cx, err1 := strconv.Atoi(xy[0])
	cy, err2 := strconv.Atoi(xy[1])
	if err1 != nil || err2 != nil {
		return cacheFile{}, false
	}
	return cacheFile{Path: path, Seed: seed, Size: size, CX: cx, CY: cy}, true
}

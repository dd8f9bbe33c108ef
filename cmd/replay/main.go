package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"

	"terrastream.ai/internal/stream"
	"terrastream.ai/internal/telemetry"
	"terrastream.ai/internal/terrain/gen"
)

func main() {
	var (
		eventsDir = flag.String("events", "./data/events", "events dir containing events-*.jsonl.zst")
		maxLoaded = flag.Int("max_loaded", 0, "fail if the log ever shows more resident chunks than this (optional)")
		seed      = flag.Int64("seed", 0, "world seed, used with -regen")
		chunkSize = flag.Int("chunk_size", 0, "chunk size, used with -regen")
		regen     = flag.Bool("regen", false, "regenerate every loaded chunk and check its tile count")
	)
	flag.Parse()

	files, err := telemetry.ListEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}
	if *regen && *chunkSize <= 0 {
		fmt.Fprintln(os.Stderr, "-regen needs -chunk_size")
		os.Exit(2)
	}

	r := newReplayer(*maxLoaded)
	if *regen {
		r.verify = func(e telemetry.Event) error {
			p, err := gen.GenerateChunk(*seed, e.CX, e.CY, *chunkSize)
			if err != nil {
				return err
			}
			if n := p.Trim().TileCount(); n != e.TileCount {
				return fmt.Errorf("chunk %s: regenerated %d tiles, log says %d", e.Chunk, n, e.TileCount)
			}
			return nil
		}
	}
	for _, path := range files {
		events, err := telemetry.ReadEvents(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for _, e := range events {
			if err := r.apply(e); err != nil {
				fmt.Fprintf(os.Stderr, "replay %s: %v\n", filepath.Base(path), err)
				os.Exit(1)
			}
		}
	}

	s := r.summary()
	fmt.Printf("replay ok: %s events in %d files; loads=%s errors=%s peak_resident=%s resident_at_end=%d\n",
		humanize.Comma(int64(s.Events)), len(files),
		humanize.Comma(int64(s.Loads)), humanize.Comma(int64(s.LoadErrors)),
		humanize.Comma(int64(s.PeakResident)), s.Resident)
	reasons := make([]string, 0, len(s.Releases))
	for k := range s.Releases {
		reasons = append(reasons, k)
	}
	sort.Strings(reasons)
	for _, k := range reasons {
		fmt.Printf("  released %-8s %s\n", k, humanize.Comma(int64(s.Releases[k])))
	}
}

type summary struct {
	Events       int
	Loads        int
	LoadErrors   int
	Releases     map[string]int
	Resident     int
	PeakResident int
}

// replayer rebuilds the resident set from the event stream and checks it
// against what each event reports.
type replayer struct {
	maxLoaded int
	verify    func(telemetry.Event) error

	resident map[string]struct{}
	sum      summary
}

func newReplayer(maxLoaded int) *replayer {
	return &replayer{
		maxLoaded: maxLoaded,
		resident:  map[string]struct{}{},
		sum:       summary{Releases: map[string]int{}},
	}
}

func (r *replayer) apply(e telemetry.Event) error {
	r.sum.Events++
	switch e.Kind {
	case telemetry.KindLoadStart:
		return nil
	case telemetry.KindLoadError:
		r.sum.LoadErrors++
		if _, ok := r.resident[e.Chunk]; ok {
			return fmt.Errorf("chunk %s failed to load while resident", e.Chunk)
		}
		return nil
	case telemetry.KindLoadOK:
		r.sum.Loads++
		if _, ok := r.resident[e.Chunk]; ok {
			return fmt.Errorf("chunk %s loaded twice without a release", e.Chunk)
		}
		r.resident[e.Chunk] = struct{}{}
		r.sum.PeakResident = max(r.sum.PeakResident, len(r.resident))
		if r.maxLoaded > 0 && e.CacheSize > r.maxLoaded {
			return fmt.Errorf("chunk %s: cache size %d exceeds %d", e.Chunk, e.CacheSize, r.maxLoaded)
		}
		if r.verify != nil {
			return r.verify(e)
		}
		return nil
	case telemetry.KindRelease:
		if _, ok := r.resident[e.Chunk]; !ok {
			return fmt.Errorf("chunk %s released but not resident", e.Chunk)
		}
		delete(r.resident, e.Chunk)
		reason := e.Reason
		if reason == "" {
			reason = string(stream.ReasonManual)
		}
		r.sum.Releases[reason]++
		return nil
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

func (r *replayer) summary() summary {
	s := r.sum
	s.Resident = len(r.resident)
	return s
}

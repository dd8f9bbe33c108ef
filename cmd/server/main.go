package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"terrastream.ai/internal/persistence/chunkcache"
	"terrastream.ai/internal/protocol"
	"terrastream.ai/internal/stream"
	"terrastream.ai/internal/telemetry"
	"terrastream.ai/internal/terrain/gen"
	"terrastream.ai/internal/transport/ws"
	"terrastream.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		seed       = flag.Int64("seed", 0, "world seed (overrides tuning world.seed when set)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		cacheDir   = flag.String("chunk_cache", "", "on-disk chunk cache dir (overrides tuning cache.dir)")
		disableDB  = flag.Bool("disable_db", false, "disable the event index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			tune.World.Seed = *seed
		case "chunk_cache":
			tune.Cache.Dir = strings.TrimSpace(*cacheDir)
		}
	})
	_ = os.MkdirAll(*dataDir, 0o755)

	world := gen.NewWorld(tune.World.Seed)
	pool := gen.NewPool(world, tune.Stream.ChunkSize, tune.Stream.Workers)
	defer pool.Close()

	var (
		load  stream.LoaderFunc = pool.Load
		store *chunkcache.Store
	)
	if dir := tune.Cache.Dir; dir != "" {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(*dataDir, dir)
		}
		store, err = chunkcache.Open(dir)
		if err != nil {
			logger.Fatalf("open chunk cache: %v", err)
		}
		load = store.Loader(world.Seed, tune.Stream.ChunkSize, pool.Load)
		logger.Printf("chunk cache at %s", dir)
	}

	// Optional: event index backend (does not affect generation).
	idx, err := openEventIndex(*dataDir, world.Seed, tune.Telemetry.SQLite && !*disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}

	var writers []telemetry.EventWriter
	if tune.Telemetry.JSONL {
		writers = append(writers, telemetry.NewEventLog(*dataDir))
	}
	if idx != nil {
		writers = append(writers, idx)
	}
	recOpts := telemetry.Options{
		Writers:    writers,
		StaleAfter: tune.Stream.StaleAfter(),
		SweepEvery: tune.Stream.SweepEvery(),
	}
	if tune.Telemetry.LogChunkEvents {
		recOpts.Logger = log.New(os.Stdout, "[chunks] ", log.LstdFlags|log.Lmicroseconds)
	}
	rec := telemetry.NewRecorder(recOpts)
	defer func() {
		if err := rec.Close(); err != nil {
			logger.Printf("close telemetry: %v", err)
		}
	}()

	mgr, err := stream.New(stream.Config{
		ChunkSize:       tune.Stream.ChunkSize,
		MaxLoadedChunks: tune.Stream.MaxLoadedChunks,
		Load:            load,
		Telemetry:       rec,
		WorldSeed:       world.Seed,
	})
	if err != nil {
		logger.Fatalf("stream manager: %v", err)
	}
	defer mgr.Close()

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("protocol schemas: %v", err)
	}

	wsSrv := ws.NewServer(ws.Options{
		Chunks:          mgr,
		Validator:       validator,
		Logger:          log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds),
		ViewMaxChunks:   tune.Stream.ViewMaxChunks,
		RegionMaxWidth:  tune.Region.MaxWidth,
		RegionMaxHeight: tune.Region.MaxHeight,
		StatsExtra: func() map[string]any {
			out := map[string]any{
				"telemetry": map[string]uint64{
					"write_errors": rec.WriteErrors(),
					"swept":        rec.Swept(),
				},
			}
			if store != nil {
				out["chunk_cache"] = store.Stats()
			}
			if st := indexStats(idx); st != nil {
				out["index"] = st
			}
			return out
		},
	})

	tilesPerChunk := tune.Stream.ChunkSize * tune.Stream.ChunkSize
	logger.Printf("world seed=%d chunk_size=%d capacity=%s chunks (%s tiles) stale_after=%s",
		world.Seed, tune.Stream.ChunkSize,
		humanize.Comma(int64(tune.Stream.MaxLoadedChunks)),
		humanize.Comma(int64(tune.Stream.MaxLoadedChunks*tilesPerChunk)),
		tune.Stream.StaleAfter())

	ctx, cancel := signalContext()
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           wsSrv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	started := time.Now()
	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	st := mgr.Stats()
	logger.Printf("shutting down after %s: %s loads, %s hits, %s evictions",
		time.Since(started).Round(time.Second),
		humanize.Comma(int64(st.Loads)), humanize.Comma(int64(st.Hits)), humanize.Comma(int64(st.Evictions)))
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

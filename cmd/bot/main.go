package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"terrastream.ai/internal/encoding"
	"terrastream.ai/internal/protocol"
	"terrastream.ai/internal/terrain/gen"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		radius   = flag.Int("radius", 2, "view radius in chunks")
		steps    = flag.Int("steps", 50, "camera moves before exiting (0 = forever)")
		interval = flag.Duration("interval", 500*time.Millisecond, "delay between camera moves")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random walk seed")
		stride   = flag.Int("stride", 8, "tiles the camera moves per step")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome {
		logger.Fatalf("expected WELCOME, got %s", welcome.Type)
	}
	wp := welcome.WorldParams
	logger.Printf("WELCOME session=%s seed=%d chunk_size=%d view_max=%d", welcome.SessionID, wp.Seed, wp.ChunkSize, wp.ViewMaxChunks)

	side := 2*(*radius) + 1
	if wp.ViewMaxChunks > 0 && side*side > wp.ViewMaxChunks {
		logger.Fatalf("radius %d needs %d chunks per view, server allows %d", *radius, side*side, wp.ViewMaxChunks)
	}

	var st stats
	go readLoop(conn, logger, wp.ChunkSize, &st)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	if wp.ChunkSize <= 0 {
		logger.Fatalf("server sent chunk_size %d", wp.ChunkSize)
	}
	w := walker{
		rng:       rand.New(rand.NewSource(*seed)),
		radius:    *radius,
		chunkSize: wp.ChunkSize,
		step:      max(*stride, 1),
	}
	held := map[[2]int]struct{}{}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
loop:
	for i := 0; *steps == 0 || i < *steps; i++ {
		want := w.next()
		add, drop := viewDiff(held, want)
		if len(drop) > 0 {
			if err := conn.WriteJSON(protocol.ReleaseMsg{Type: protocol.TypeRelease, ProtocolVersion: protocol.Version, Chunks: drop}); err != nil {
				logger.Printf("send RELEASE: %v", err)
				return
			}
		}
		if len(add) > 0 {
			if err := conn.WriteJSON(protocol.ViewMsg{Type: protocol.TypeView, ProtocolVersion: protocol.Version, Chunks: add}); err != nil {
				logger.Printf("send VIEW: %v", err)
				return
			}
		}
		held = want

		select {
		case <-stop:
			break loop
		case <-ticker.C:
		}
	}
	s := st.snapshot()
	logger.Printf("done: chunks=%d new=%d errors=%d bad_payloads=%d", s.Chunks, s.New, s.Errors, s.BadPayloads)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
}

type counts struct {
	Chunks      int
	New         int
	Errors      int
	BadPayloads int
}

type stats struct {
	mu sync.Mutex
	c  counts
}

func (s *stats) add(f func(*counts)) {
	s.mu.Lock()
	f(&s.c)
	s.mu.Unlock()
}

func (s *stats) snapshot() counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

func readLoop(conn *websocket.Conn, logger *log.Logger, chunkSize int, st *stats) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeChunk:
			var c protocol.ChunkMsg
			if err := json.Unmarshal(msg, &c); err != nil {
				st.add(func(s *counts) { s.BadPayloads++ })
				continue
			}
			_, terr := encoding.DecodeTiles(c.TilesRLE, chunkSize, chunkSize)
			_, berr := encoding.DecodeBiomes(c.BiomesRLE, chunkSize, chunkSize)
			st.add(func(s *counts) {
				s.Chunks++
				if c.IsNew {
					s.New++
				}
				if terr != nil || berr != nil {
					s.BadPayloads++
				}
			})
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			st.add(func(s *counts) { s.Errors++ })
			logger.Printf("ERROR %s: %s", e.Code, e.Message)
		}
	}
}

// walker moves a camera across world tiles and reports the square of chunks
// around the chunk under it.
type walker struct {
	rng       *rand.Rand
	radius    int
	chunkSize int
	step      int
	x, y      int
}

func (w *walker) next() map[[2]int]struct{} {
	switch w.rng.Intn(4) {
	case 0:
		w.x += w.step
	case 1:
		w.x -= w.step
	case 2:
		w.y += w.step
	default:
		w.y -= w.step
	}
	cx, cy, _, _ := gen.ChunkOf(w.x, w.y, w.chunkSize)
	out := make(map[[2]int]struct{}, (2*w.radius+1)*(2*w.radius+1))
	for dy := -w.radius; dy <= w.radius; dy++ {
		for dx := -w.radius; dx <= w.radius; dx++ {
			out[[2]int{cx + dx, cy + dy}] = struct{}{}
		}
	}
	return out
}

// viewDiff returns the chunks to request and to release, sorted so the
// messages are stable.
func viewDiff(held, want map[[2]int]struct{}) (add, drop [][2]int) {
	for k := range want {
		if _, ok := held[k]; !ok {
			add = append(add, k)
		}
	}
	for k := range held {
		if _, ok := want[k]; !ok {
			drop = append(drop, k)
		}
	}
	sortKeys(add)
	sortKeys(drop)
	return add, drop
}

func sortKeys(ks [][2]int) {
	sort.Slice(ks, func(i, j int) bool {
		if ks[i][1] != ks[j][1] {
			return ks[i][1] < ks[j][1]
		}
		return ks[i][0] < ks[j][0]
	})
}

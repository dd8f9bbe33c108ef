package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"terrastream.ai/internal/encoding"
	"terrastream.ai/internal/protocol"
	"terrastream.ai/internal/stream"
	"terrastream.ai/internal/terrain/classify"
)

// Chunks is the part of the streaming manager the transport needs.
type Chunks interface {
	EnsureChunkLoaded(ctx context.Context, cx, cy int) (stream.Result, error)
	ReleaseChunk(key stream.ChunkKey, reason stream.ReleaseReason) *stream.CacheEntry
	Stats() stream.Stats
	ChunkSize() int
	MaxLoaded() int
	WorldSeed() int64
}

type Options struct {
	Chunks    Chunks
	Validator *protocol.Validator
	Logger    *log.Logger

	ViewMaxChunks   int
	RegionMaxWidth  int
	RegionMaxHeight int

	// StatsExtra adds sections to /v1/stats.
	StatsExtra func() map[string]any
}

type Server struct {
	chunks    Chunks
	validator *protocol.Validator
	log       *log.Logger
	opts      Options

	upgrader websocket.Upgrader
	sessions atomic.Int64

	// holders counts sessions holding each chunk. The manager is shared, so
	// a RELEASE only reaches it once the last holder lets go.
	holdMu  sync.Mutex
	holders map[stream.ChunkKey]int
}

func NewServer(opts Options) *Server {
	if opts.ViewMaxChunks <= 0 {
		opts.ViewMaxChunks = 64
	}
	if opts.RegionMaxWidth <= 0 {
		opts.RegionMaxWidth = 512
	}
	if opts.RegionMaxHeight <= 0 {
		opts.RegionMaxHeight = 512
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		chunks:    opts.Chunks,
		validator: opts.Validator,
		log:       opts.Logger,
		opts:      opts,
		holders:   map[stream.ChunkKey]int{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Mux registers every endpoint.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", s.Handler())
	mux.HandleFunc("/v1/region", s.RegionHandler())
	mux.HandleFunc("/v1/stats", s.StatsHandler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		_, _ = rw.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) Sessions() int64 { return s.sessions.Load() }

type session struct {
	id  string
	out chan []byte
	ctx context.Context

	mu   sync.Mutex
	held map[stream.ChunkKey]struct{}
	wg   sync.WaitGroup
}

// send queues b for the writer goroutine. It gives up when the session ends.
func (ss *session) send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case ss.out <- b:
		return true
	case <-ss.ctx.Done():
		return false
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, ok := s.handshake(conn)
		if !ok {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ss := &session{
			id:   id,
			out:  make(chan []byte, 64),
			ctx:  ctx,
			held: map[stream.ChunkKey]struct{}{},
		}
		s.log.Printf("session %s opened from %s", id, r.RemoteAddr)

		// Writer goroutine.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-ss.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.dispatch(ss, msg)
		}

		cancel()
		ss.wg.Wait()
		<-writerDone
		// Chunks stay cached for other sessions or the LRU; only the holds go.
		s.dropAll(ss)
		s.log.Printf("session %s closed", id)
	}
}

func (s *Server) dispatch(ss *session, msg []byte) {
	base, err := s.validate(msg)
	if err != nil {
		ss.send(protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
		return
	}
	switch base.Type {
	case protocol.TypeView:
		var v protocol.ViewMsg
		if err := json.Unmarshal(msg, &v); err != nil {
			ss.send(protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
			return
		}
		if len(v.Chunks) > s.opts.ViewMaxChunks {
			ss.send(protocol.NewError(protocol.ErrTooMany, "too many chunks in VIEW"))
			return
		}
		ss.wg.Add(1)
		go func() {
			defer ss.wg.Done()
			s.serveView(ss, v)
		}()
	case protocol.TypeRelease:
		var rel protocol.ReleaseMsg
		if err := json.Unmarshal(msg, &rel); err != nil {
			ss.send(protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
			return
		}
		s.release(ss, rel)
	default:
		ss.send(protocol.NewError(protocol.ErrBadRequest, "unexpected "+base.Type))
	}
}

func (s *Server) validate(msg []byte) (protocol.BaseMessage, error) {
	if s.validator != nil {
		return s.validator.Validate(msg)
	}
	return protocol.DecodeBase(msg)
}

// serveView loads every requested chunk concurrently and sends one CHUNK or
// ERROR per chunk, in completion order.
func (s *Server) serveView(ss *session, v protocol.ViewMsg) {
	var wg sync.WaitGroup
	for _, c := range dedupe(v.Chunks) {
		wg.Add(1)
		go func(cx, cy int) {
			defer wg.Done()
			key := stream.ChunkKey{CX: cx, CY: cy}
			// Hold before loading so a concurrent RELEASE from another
			// session cannot drop the chunk between load and send.
			fresh := s.hold(ss, key)
			res, err := s.chunks.EnsureChunkLoaded(ss.ctx, cx, cy)
			if err != nil {
				if fresh {
					s.drop(ss, key)
				}
				if ss.ctx.Err() != nil {
					return
				}
				ss.send(protocol.NewChunkError(protocol.ErrGeneration, err.Error(), cx, cy))
				return
			}
			msg, err := chunkMessage(res, v.IncludeFields)
			if err != nil {
				ss.send(protocol.NewChunkError(protocol.ErrInternal, err.Error(), cx, cy))
				return
			}
			ss.send(msg)
		}(c[0], c[1])
	}
	wg.Wait()
}

// release drops this session's holds. A chunk leaves the manager only when
// no other session still holds it; chunks this session never viewed are left
// alone.
func (s *Server) release(ss *session, rel protocol.ReleaseMsg) {
	for _, c := range dedupe(rel.Chunks) {
		key := stream.ChunkKey{CX: c[0], CY: c[1]}
		if s.drop(ss, key) {
			s.chunks.ReleaseChunk(key, stream.ReasonManual)
		}
	}
}

// hold records that ss holds key and reports whether it is a new hold.
func (s *Server) hold(ss *session, key stream.ChunkKey) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, ok := ss.held[key]; ok {
		return false
	}
	ss.held[key] = struct{}{}
	s.holdMu.Lock()
	s.holders[key]++
	s.holdMu.Unlock()
	return true
}

// drop removes ss's hold on key. It reports true when ss held key and was the
// last session to do so.
func (s *Server) drop(ss *session, key stream.ChunkKey) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, ok := ss.held[key]; !ok {
		return false
	}
	delete(ss.held, key)
	return s.unholdLocked(key)
}

func (s *Server) dropAll(ss *session) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for key := range ss.held {
		delete(ss.held, key)
		s.unholdLocked(key)
	}
}

func (s *Server) unholdLocked(key stream.ChunkKey) bool {
	s.holdMu.Lock()
	defer s.holdMu.Unlock()
	n := s.holders[key] - 1
	if n > 0 {
		s.holders[key] = n
		return false
	}
	delete(s.holders, key)
	return true
}

// Holders returns how many sessions hold key.
func (s *Server) Holders(key stream.ChunkKey) int {
	s.holdMu.Lock()
	defer s.holdMu.Unlock()
	return s.holders[key]
}

func dedupe(chunks [][2]int) [][2]int {
	seen := make(map[[2]int]struct{}, len(chunks))
	out := chunks[:0:0]
	for _, c := range chunks {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func chunkMessage(res stream.Result, includeFields bool) (protocol.ChunkMsg, error) {
	d := res.Entry.Data
	tiles, err := encoding.EncodeTiles(d.Tiles)
	if err != nil {
		return protocol.ChunkMsg{}, err
	}
	msg := protocol.ChunkMsg{
		Type:      protocol.TypeChunk,
		CX:        res.Key.CX,
		CY:        res.Key.CY,
		ChunkSize: d.ChunkSize,
		IsNew:     res.IsNew,
		TilesRLE:  tiles,
		BiomesRLE: encoding.EncodeBiomes(d.Biomes),
	}
	if d.Features != nil {
		msg.Rivers = d.Features.Rivers
		msg.Coasts = d.Features.Coasts
		elev := d.Features.Elevation
		msg.Elevation = &elev
	}
	if includeFields && res.IsNew && res.Payload != nil {
		msg.Fields = res.Payload.Fields
	}
	return msg, nil
}

func (s *Server) handshake(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	base, err := s.validate(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, "expected HELLO"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, "unsupported protocol_version "+hello.ProtocolVersion))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", false
	}

	id := uuid.NewString()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       id,
		WorldParams: protocol.WorldParams{
			Seed:            s.chunks.WorldSeed(),
			ChunkSize:       s.chunks.ChunkSize(),
			MaxLoadedChunks: s.chunks.MaxLoaded(),
			ViewMaxChunks:   s.opts.ViewMaxChunks,
			Palette:         paletteNames(),
			Biomes:          biomeNames(),
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", false
	}
	s.log.Printf("hello from %q", hello.ClientName)
	return id, true
}

func paletteNames() []string {
	p := classify.Palette()
	out := make([]string, len(p))
	for i, t := range p {
		out[i] = string(t)
	}
	return out
}

func biomeNames() []string {
	bs := classify.Biomes()
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.String()
	}
	return out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}

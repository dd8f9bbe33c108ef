package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"terrastream.ai/internal/encoding"
	"terrastream.ai/internal/protocol"
	"terrastream.ai/internal/stream"
	"terrastream.ai/internal/terrain/gen"
)

const testSeed = 21

func newTestServer(t *testing.T, load stream.LoaderFunc, opts Options) (*httptest.Server, *stream.Manager) {
	t.Helper()
	srv, m, _ := newTestServerWithHandle(t, load, opts)
	return srv, m
}

func newTestServerWithHandle(t *testing.T, load stream.LoaderFunc, opts Options) (*httptest.Server, *stream.Manager, *Server) {
	t.Helper()
	if load == nil {
		load = gen.NewWorld(testSeed).Loader(8)
	}
	m, err := stream.New(stream.Config{ChunkSize: 8, MaxLoadedChunks: 16, Load: load, WorldSeed: testSeed})
	if err != nil {
		t.Fatal(err)
	}
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatal(err)
	}
	opts.Chunks = m
	opts.Validator = v
	s := NewServer(opts)
	srv := httptest.NewServer(s.Mux())
	t.Cleanup(func() {
		srv.Close()
		_ = m.Close()
	})
	return srv, m, s
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return base.Type, b
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"})
	typ, b := read(t, conn)
	if typ != protocol.TypeWelcome {
		t.Fatalf("expected WELCOME, got %s: %s", typ, b)
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatal(err)
	}
	return w
}

func readChunks(t *testing.T, conn *websocket.Conn, n int) map[[2]int]protocol.ChunkMsg {
	t.Helper()
	out := map[[2]int]protocol.ChunkMsg{}
	for len(out) < n {
		typ, b := read(t, conn)
		if typ != protocol.TypeChunk {
			t.Fatalf("expected CHUNK, got %s: %s", typ, b)
		}
		var c protocol.ChunkMsg
		if err := json.Unmarshal(b, &c); err != nil {
			t.Fatal(err)
		}
		out[[2]int{c.CX, c.CY}] = c
	}
	return out
}

func TestHandshakeAndView(t *testing.T) {
	srv, m := newTestServer(t, nil, Options{})
	conn := dial(t, srv)

	w := hello(t, conn)
	if _, err := uuid.Parse(w.SessionID); err != nil {
		t.Fatalf("session id is not a uuid: %q", w.SessionID)
	}
	if w.WorldParams.Seed != testSeed || w.WorldParams.ChunkSize != 8 || len(w.WorldParams.Palette) == 0 {
		t.Fatalf("unexpected world params: %+v", w.WorldParams)
	}

	send(t, conn, protocol.ViewMsg{Type: protocol.TypeView, Chunks: [][2]int{{0, 0}, {-1, 2}, {0, 0}}, IncludeFields: true})
	got := readChunks(t, conn, 2)
	for key, c := range got {
		if !c.IsNew || c.ChunkSize != 8 || c.Fields == nil {
			t.Fatalf("chunk %v: unexpected header %+v", key, c)
		}
		want, err := gen.GenerateChunk(testSeed, key[0], key[1], 8)
		if err != nil {
			t.Fatal(err)
		}
		tiles, err := encoding.DecodeTiles(c.TilesRLE, 8, 8)
		if err != nil {
			t.Fatalf("decode tiles: %v", err)
		}
		for y := range tiles {
			for x := range tiles[y] {
				if tiles[y][x] != want.Tiles[y][x] {
					t.Fatalf("chunk %v tile (%d,%d) = %s want %s", key, x, y, tiles[y][x], want.Tiles[y][x])
				}
			}
		}
	}

	send(t, conn, protocol.ViewMsg{Type: protocol.TypeView, Chunks: [][2]int{{0, 0}}, IncludeFields: true})
	again := readChunks(t, conn, 1)[[2]int{0, 0}]
	if again.IsNew || again.Fields != nil {
		t.Fatalf("cached chunk should not be new or carry fields: %+v", again)
	}
	if m.Len() != 2 {
		t.Fatalf("resident %d want 2", m.Len())
	}

	send(t, conn, protocol.ReleaseMsg{Type: protocol.TypeRelease, Chunks: [][2]int{{0, 0}, {5, 5}}})
	deadline := time.Now().Add(5 * time.Second)
	for m.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("release did not reach the manager: resident=%d", m.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := m.Peek(stream.ChunkKey{CX: -1, CY: 2}); !ok {
		t.Fatalf("unreleased chunk should stay cached")
	}
}

func TestInvalidMessagesGetErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{ViewMaxChunks: 2})
	conn := dial(t, srv)
	hello(t, conn)

	expectError := func(code string) {
		t.Helper()
		typ, b := read(t, conn)
		if typ != protocol.TypeError {
			t.Fatalf("expected ERROR, got %s", typ)
		}
		var e protocol.ErrorMsg
		_ = json.Unmarshal(b, &e)
		if e.Code != code {
			t.Fatalf("code %s want %s (%s)", e.Code, code, e.Message)
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"VIEW","chunks":[[1]]}`)); err != nil {
		t.Fatal(err)
	}
	expectError(protocol.ErrProtoBadRequest)

	send(t, conn, protocol.ViewMsg{Type: protocol.TypeView, Chunks: [][2]int{{0, 0}, {1, 0}, {2, 0}}})
	expectError(protocol.ErrTooMany)

	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "again"})
	expectError(protocol.ErrBadRequest)

	// The session survives protocol errors.
	send(t, conn, protocol.ViewMsg{Type: protocol.TypeView, Chunks: [][2]int{{0, 0}}})
	readChunks(t, conn, 1)
}

func TestGenerationFailureReported(t *testing.T) {
	boom := errors.New("noise exploded")
	srv, m := newTestServer(t, func(context.Context, int, int) (*gen.ChunkPayload, error) { return nil, boom }, Options{})
	conn := dial(t, srv)
	hello(t, conn)

	send(t, conn, protocol.ViewMsg{Type: protocol.TypeView, Chunks: [][2]int{{3, -4}}})
	typ, b := read(t, conn)
	if typ != protocol.TypeError {
		t.Fatalf("expected ERROR, got %s", typ)
	}
	var e protocol.ErrorMsg
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatal(err)
	}
	if e.Code != protocol.ErrGeneration || e.CX == nil || *e.CX != 3 || *e.CY != -4 || !strings.Contains(e.Message, "noise exploded") {
		t.Fatalf("unexpected error message: %s", b)
	}
	if m.Len() != 0 {
		t.Fatalf("failed chunk must not be cached")
	}
}

func TestHandshakeRejectsWrongVersion(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{})
	conn := dial(t, srv)
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1", ClientName: "old"})
	typ, _ := read(t, conn)
	if typ != protocol.TypeError {
		t.Fatalf("expected ERROR, got %s", typ)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("connection should be closed after a bad HELLO")
	}
}

func TestRegionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{RegionMaxWidth: 64, RegionMaxHeight: 64})

	resp, err := http.Get(srv.URL + "/v1/region?x=-10&y=20&w=24&h=16")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var reg RegionResponse
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		t.Fatal(err)
	}
	if reg.Window != (gen.Window{StartX: -10, StartY: 20, Width: 24, Height: 16}) || reg.Seed != testSeed || reg.Fields != nil {
		t.Fatalf("unexpected region header: %+v", reg.Window)
	}
	biomes, err := encoding.DecodeBiomes(reg.BiomesRLE, 24, 16)
	if err != nil {
		t.Fatal(err)
	}
	if biomes[3][5] != gen.SampleTile(testSeed, -10+5, 20+3).Biome {
		t.Fatalf("region biome disagrees with direct sampling")
	}

	for _, q := range []string{"x=0&y=0&w=0&h=4", "x=a&y=0&w=4&h=4", "y=0&w=4&h=4", "x=0&y=0&w=65&h=4"} {
		r, err := http.Get(srv.URL + "/v1/region?" + q)
		if err != nil {
			t.Fatal(err)
		}
		r.Body.Close()
		if r.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d want 400", q, r.StatusCode)
		}
	}
}

func TestStatsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{StatsExtra: func() map[string]any {
		return map[string]any{"cache": map[string]int{"hits": 3}}
	}})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"stream", "sessions", "cache"} {
		if _, ok := out[k]; !ok {
			t.Fatalf("stats missing %q: %v", k, out)
		}
	}
}

func TestReleaseKeepsChunksOtherSessionsHold(t *testing.T) {
	srv, m, server := newTestServerWithHandle(t, nil, Options{})
	a := dial(t, srv)
	b := dial(t, srv)
	hello(t, a)
	hello(t, b)
	key := stream.ChunkKey{CX: 0, CY: 0}

	send(t, a, protocol.ViewMsg{Type: protocol.TypeView, Chunks: [][2]int{{0, 0}}})
	readChunks(t, a, 1)
	send(t, b, protocol.ViewMsg{Type: protocol.TypeView, Chunks: [][2]int{{0, 0}}})
	readChunks(t, b, 1)
	if n := server.Holders(key); n != 2 {
		t.Fatalf("holders=%d want 2", n)
	}

	// Messages on one connection are handled in order, so once the CHUNK for
	// 1:0 arrives the RELEASE before it has been applied.
	send(t, a, protocol.ReleaseMsg{Type: protocol.TypeRelease, Chunks: [][2]int{{0, 0}}})
	send(t, a, protocol.ViewMsg{Type: protocol.TypeView, Chunks: [][2]int{{1, 0}}})
	readChunks(t, a, 1)
	if _, ok := m.Peek(key); !ok {
		t.Fatalf("chunk 0:0 released while another session still holds it")
	}
	if n := server.Holders(key); n != 1 {
		t.Fatalf("holders=%d want 1", n)
	}

	// A second RELEASE from the same session is a no-op.
	send(t, a, protocol.ReleaseMsg{Type: protocol.TypeRelease, Chunks: [][2]int{{0, 0}}})
	send(t, a, protocol.ViewMsg{Type: protocol.TypeView, Chunks: [][2]int{{2, 0}}})
	readChunks(t, a, 1)
	if _, ok := m.Peek(key); !ok {
		t.Fatalf("repeated RELEASE must not drop another session's chunk")
	}

	send(t, b, protocol.ReleaseMsg{Type: protocol.TypeRelease, Chunks: [][2]int{{0, 0}}})
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := m.Peek(key); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("last holder's RELEASE did not reach the manager")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := server.Holders(key); n != 0 {
		t.Fatalf("holders=%d want 0", n)
	}
}

func TestSessionCloseDropsHolds(t *testing.T) {
	srv, m, server := newTestServerWithHandle(t, nil, Options{})
	a := dial(t, srv)
	b := dial(t, srv)
	hello(t, a)
	hello(t, b)
	key := stream.ChunkKey{CX: 4, CY: 4}

	for _, c := range []*websocket.Conn{a, b} {
		send(t, c, protocol.ViewMsg{Type: protocol.TypeView, Chunks: [][2]int{{4, 4}}})
		readChunks(t, c, 1)
	}
	_ = a.Close()

	deadline := time.Now().Add(5 * time.Second)
	for server.Holders(key) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("closed session still counted: holders=%d", server.Holders(key))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := m.Peek(key); !ok {
		t.Fatalf("closing a session must not release cached chunks")
	}

	send(t, b, protocol.ReleaseMsg{Type: protocol.TypeRelease, Chunks: [][2]int{{4, 4}}})
	deadline = time.Now().Add(5 * time.Second)
	for {
		if _, ok := m.Peek(key); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("remaining holder's RELEASE did not reach the manager")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

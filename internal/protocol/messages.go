package protocol

import (
	"terrastream.ai/internal/terrain/features"
	"terrastream.ai/internal/terrain/gen"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	Seed            int64    `json:"seed"`
	ChunkSize       int      `json:"chunk_size"`
	MaxLoadedChunks int      `json:"max_loaded_chunks"`
	ViewMaxChunks   int      `json:"view_max_chunks"`
	Palette         []string `json:"palette"`
	Biomes          []string `json:"biomes"`
}

// VIEW (client -> server): chunks as [cx, cy] pairs.
type ViewMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version,omitempty"`
	Chunks          [][2]int `json:"chunks"`
	IncludeFields   bool     `json:"include_fields,omitempty"`
}

// RELEASE (client -> server)
type ReleaseMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version,omitempty"`
	Chunks          [][2]int `json:"chunks"`
}

// CHUNK (server -> client). Tiles and biomes are RLE-encoded palette ids,
// row-major over chunk_size x chunk_size.
type ChunkMsg struct {
	Type      string               `json:"type"`
	CX        int                  `json:"cx"`
	CY        int                  `json:"cy"`
	ChunkSize int                  `json:"chunk_size"`
	IsNew     bool                 `json:"is_new"`
	TilesRLE  string               `json:"tiles_rle"`
	BiomesRLE string               `json:"biomes_rle"`
	Rivers    []features.RiverPath `json:"rivers"`
	Coasts    []features.Point     `json:"coasts"`
	Elevation *gen.ElevationStats  `json:"elevation,omitempty"`
	Fields    *gen.FieldMaps       `json:"fields,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	CX      *int   `json:"cx,omitempty"`
	CY      *int   `json:"cy,omitempty"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Code: code, Message: message}
}

// NewChunkError reports a failure tied to one chunk.
func NewChunkError(code, message string, cx, cy int) ErrorMsg {
	e := NewError(code, message)
	e.CX, e.CY = &cx, &cy
	return e
}

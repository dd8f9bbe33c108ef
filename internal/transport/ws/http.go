package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"terrastream.ai/internal/encoding"
	"terrastream.ai/internal/protocol"
	"terrastream.ai/internal/terrain/gen"
)

type RegionResponse struct {
	Window    gen.Window         `json:"window"`
	Seed      int64              `json:"seed"`
	TilesRLE  string             `json:"tiles_rle"`
	BiomesRLE string             `json:"biomes_rle"`
	Features  gen.RegionFeatures `json:"features"`
	Fields    *gen.FieldMaps     `json:"fields,omitempty"`
}

// RegionHandler serves GET /v1/region?x=&y=&w=&h=[&fields=1]. Regions are
// generated directly and never touch the chunk cache.
func (s *Server) RegionHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		win, err := parseWindow(q.Get("x"), q.Get("y"), q.Get("w"), q.Get("h"))
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
			return
		}
		if win.Width > s.opts.RegionMaxWidth || win.Height > s.opts.RegionMaxHeight {
			writeError(rw, http.StatusBadRequest, protocol.ErrTooMany,
				fmt.Sprintf("region larger than %dx%d", s.opts.RegionMaxWidth, s.opts.RegionMaxHeight))
			return
		}
		withFields := q.Get("fields") == "1" || q.Get("fields") == "true"

		reg, err := gen.GenerateRegion(s.chunks.WorldSeed(), win, gen.RegionOptions{IncludeFields: withFields})
		if errors.Is(err, gen.ErrInvalidWindow) {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(rw, http.StatusInternalServerError, protocol.ErrGeneration, err.Error())
			return
		}
		tiles, err := encoding.EncodeTiles(reg.Tiles)
		if err != nil {
			writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
			return
		}
		writeJSONResponse(rw, http.StatusOK, RegionResponse{
			Window:    reg.Window,
			Seed:      reg.Seed,
			TilesRLE:  tiles,
			BiomesRLE: encoding.EncodeBiomes(reg.Biomes),
			Features:  reg.Features,
			Fields:    reg.Fields,
		})
	}
}

func (s *Server) StatsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		out := map[string]any{
			"stream":   s.chunks.Stats(),
			"sessions": s.Sessions(),
		}
		if s.opts.StatsExtra != nil {
			for k, v := range s.opts.StatsExtra() {
				out[k] = v
			}
		}
		writeJSONResponse(rw, http.StatusOK, out)
	}
}

func parseWindow(xs, ys, ws, hs string) (gen.Window, error) {
	var win gen.Window
	vals := []struct {
		name string
		raw  string
		dst  *int
	}{
		{"x", xs, &win.StartX},
		{"y", ys, &win.StartY},
		{"w", ws, &win.Width},
		{"h", hs, &win.Height},
	}
	for _, v := range vals {
		if v.raw == "" {
			return win, fmt.Errorf("missing %s", v.name)
		}
		n, err := strconv.Atoi(v.raw)
		if err != nil {
			return win, fmt.Errorf("bad %s: %q", v.name, v.raw)
		}
		*v.dst = n
	}
	return win, nil
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSONResponse(rw, status, protocol.NewError(code, msg))
}

func writeJSONResponse(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

package viewer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/camview/streamclient/internal/stream"
	"github.com/camview/streamclient/pkg/types"
)

// Tile is one camera slot in the viewer: a connection controller plus the
// broadcaster fanning its frames out to HTTP clients.
type Tile struct {
	ID         string
	Controller *stream.Controller
	Frames     *FrameBroadcaster
}

// NewTile creates a tile whose controller delivers into a fresh broadcaster.
func NewTile(id string, tuning stream.Tuning) *Tile {
	frames := NewFrameBroadcaster()
	ctrl := stream.New(stream.Options{ID: id, Tuning: tuning, Sink: frames})
	return &Tile{ID: id, Controller: ctrl, Frames: frames}
}

// Server serves the multi-camera viewer endpoints. Tiles are fixed at
// startup; each holds its own independent controller.
type Server struct {
	cfg   Config
	tiles map[string]*Tile
	order []string
}

// NewServer returns a configured viewer server.
func NewServer(cfg Config, tiles ...*Tile) *Server {
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = DefaultConfig().StatusInterval
	}
	if cfg.SSEKeepalive == 0 {
		cfg.SSEKeepalive = DefaultConfig().SSEKeepalive
	}
	if cfg.IdleFrameInterval == 0 {
		cfg.IdleFrameInterval = DefaultConfig().IdleFrameInterval
	}

	s := &Server{cfg: cfg, tiles: make(map[string]*Tile)}
	for _, tile := range tiles {
		s.tiles[tile.ID] = tile
		s.order = append(s.order, tile.ID)
	}
	sort.Strings(s.order)
	return s
}

// Close disconnects every tile's controller.
func (s *Server) Close() {
	for _, tile := range s.tiles {
		tile.Controller.Close()
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /camera/{id}/stream", s.withTile(s.handleStream))
	mux.HandleFunc("GET /camera/{id}/snapshot.jpg", s.withTile(s.handleSnapshot))
	mux.HandleFunc("POST /camera/{id}/connect", s.withTile(s.handleConnect))
	mux.HandleFunc("POST /camera/{id}/disconnect", s.withTile(s.handleDisconnect))
	mux.HandleFunc("POST /camera/{id}/reconnect", s.withTile(s.handleReconnect))
	mux.HandleFunc("POST /camera/{id}/test", s.withTile(s.handleTest))
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) withTile(h func(http.ResponseWriter, *http.Request, *Tile)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tile, ok := s.tiles[r.PathValue("id")]
		if !ok {
			writeJSONWithStatus(w, map[string]any{"error": "unknown camera"}, http.StatusNotFound)
			return
		}
		h(w, r, tile)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, tile *Tile) {
	id, frameCh := tile.Frames.Subscribe()
	defer tile.Frames.Unsubscribe(id)
	serveMJPEG(r.Context(), w, frameCh, s.cfg.IdleFrameInterval)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, tile *Tile) {
	data, at, ok := tile.Frames.Latest()
	if !ok {
		data = standbyJPEG()
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	if ok {
		w.Header().Set("X-Frame-Timestamp", fmt.Sprintf("%d", at.UnixMilli()))
	}
	_, _ = w.Write(data)
}

// connectRequest is the JSON body of connect and test calls.
type connectRequest struct {
	URL        string `json:"url"`
	StreamType string `json:"stream_type"`
	Quality    string `json:"quality"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (req connectRequest) toConfig() (types.CameraConfig, error) {
	streamType, err := types.ParseStreamType(req.StreamType)
	if err != nil {
		return types.CameraConfig{}, err
	}
	quality, err := types.ParseQualityHint(req.Quality)
	if err != nil {
		return types.CameraConfig{}, err
	}
	cfg := types.CameraConfig{
		URL:         req.URL,
		StreamType:  streamType,
		QualityHint: quality,
	}
	if req.Username != "" || req.Password != "" {
		cfg.Credentials = &types.Credentials{Username: req.Username, Password: req.Password}
	}
	return cfg, nil
}

func decodeConnectRequest(r *http.Request) (types.CameraConfig, error) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return types.CameraConfig{}, fmt.Errorf("invalid request body: %w", err)
	}
	return req.toConfig()
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, tile *Tile) {
	cfg, err := decodeConnectRequest(r)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if err := tile.Controller.Connect(cfg); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, tile.Controller.Status())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request, tile *Tile) {
	tile.Controller.Disconnect()
	writeJSON(w, tile.Controller.Status())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request, tile *Tile) {
	if err := tile.Controller.ForceReconnect(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, tile.Controller.Status())
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request, tile *Tile) {
	cfg, err := decodeConnectRequest(r)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if err := tile.Controller.TestConnection(r.Context(), cfg); err != nil {
		writeJSONWithStatus(w, map[string]any{"reachable": false, "error": err.Error()}, http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"reachable": true})
}

func (s *Server) statusPayload() map[string]any {
	cameras := make(map[string]types.ConnectionStatus, len(s.order))
	for _, id := range s.order {
		cameras[id] = s.tiles[id].Controller.Status()
	}
	return map[string]any{
		"cameras":   cameras,
		"timestamp": float64(time.Now().Unix()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	keepalive := time.NewTicker(s.cfg.SSEKeepalive)
	defer keepalive.Stop()

	if err := writeSSE(w, s.statusPayload()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writeSSE(w, s.statusPayload()); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"cameras": len(s.tiles),
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

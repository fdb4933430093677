package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petero-dk/danfoss-air-api/internal/dfair"
	"github.com/petero-dk/danfoss-air-api/internal/logger"
)

// Device is the part of the engine the dashboard drives.
type Device interface {
	Snapshot() []dfair.Reading
	Parameters() []dfair.Param
	Parameter(id string) (dfair.Param, error)
	Status() dfair.Status
	WriteParameterValue(id string, v dfair.Value) error
	ActivateBoost() error
	DeactivateBoost() error
	SetMode(mode int) error
	SetFanStep(step int) error
}

// Server exposes the engine over HTTP and broadcasts every pass to
// WebSocket clients.
type Server struct {
	cfg      *Config
	dev      Device
	webFS    fs.FS
	recorder *logger.Logger
	metrics  http.Handler
	log      zerolog.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Params []dfair.Reading `json:"params,omitempty"`
	Status *dfair.Status   `json:"status,omitempty"`
	Stamp  int64           `json:"stamp"` // Unix ms
}

// New creates a new Server.
func New(cfg *Config, dev Device, webFS fs.FS, log zerolog.Logger) *Server {
	return &Server{
		cfg:   cfg,
		dev:   dev,
		webFS: webFS,
		recorder: logger.New(logger.Config{
			Enabled: cfg.Recording.Enabled,
			Path:    cfg.Recording.Path,
		}, log),
		log:     log.With().Str("component", "server").Logger(),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetMetricsHandler mounts h on /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) { s.metrics = h }

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("GET /api/params", s.handleParams)
	mux.HandleFunc("GET /api/params/{id}", s.handleParam)
	mux.HandleFunc("POST /api/params/{id}", s.handleWriteParam)
	mux.HandleFunc("POST /api/boost", s.handleBoost)
	mux.HandleFunc("POST /api/mode", s.handleMode)
	mux.HandleFunc("POST /api/fanstep", s.handleFanStep)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/recording", s.handleRecording)
	mux.HandleFunc("/api/config", s.handleConfig)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.cfg.Server.ListenAddr).Msg("listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close flushes the CSV recorder.
func (s *Server) Close() { s.recorder.Close() }

// HandleBatch broadcasts a finished pass and records it to CSV.
func (s *Server) HandleBatch(readings []dfair.Reading) {
	now := time.Now()
	st := s.dev.Status()
	s.broadcast(Frame{Params: readings, Status: &st, Stamp: now.UnixMilli()})
	s.recorder.Record(now, readings)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	s.log.Info().Int("clients", n).Msg("ws client connected")

	// Current values so the page does not wait a full delay for data
	st := s.dev.Status()
	if data, err := json.Marshal(Frame{Params: s.dev.Snapshot(), Status: &st, Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			s.log.Info().Int("clients", n).Msg("ws client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dev.Parameters())
}

func (s *Server) handleParam(w http.ResponseWriter, r *http.Request) {
	p, err := s.dev.Parameter(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleWriteParam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value *dfair.Value `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil || req.Value == nil {
		http.Error(w, `body must be {"value": <number|bool>}`, http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	if err := s.dev.WriteParameterValue(id, *req.Value); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info().Str("param", id).Stringer("value", *req.Value).Msg("write accepted")
	s.writeAccepted(w, id)
}

func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := decodeBody(r, &req); err != nil || req.Active == nil {
		http.Error(w, `body must be {"active": <bool>}`, http.StatusBadRequest)
		return
	}
	var err error
	if *req.Active {
		err = s.dev.ActivateBoost()
	} else {
		err = s.dev.DeactivateBoost()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeAccepted(w, "boost")
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode *int `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil || req.Mode == nil {
		http.Error(w, `body must be {"mode": 0|1|2}`, http.StatusBadRequest)
		return
	}
	if err := s.dev.SetMode(*req.Mode); err != nil {
		writeError(w, err)
		return
	}
	s.writeAccepted(w, "operation_mode")
}

func (s *Server) handleFanStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step *int `json:"step"`
	}
	if err := decodeBody(r, &req); err != nil || req.Step == nil {
		http.Error(w, `body must be {"step": 1..10}`, http.StatusBadRequest)
		return
	}
	if err := s.dev.SetFanStep(*req.Step); err != nil {
		writeError(w, err)
		return
	}
	s.writeAccepted(w, "fan_step")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dev.Status())
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil || req.Enabled == nil {
		http.Error(w, `body must be {"enabled": <bool>}`, http.StatusBadRequest)
		return
	}
	s.recorder.SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"enabled": s.recorder.IsEnabled()})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		// Try the patch on a copy first so an invalid update leaves the
		// running config untouched.
		current, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		candidate := DefaultConfig()
		if err := json.Unmarshal(current, candidate); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if err := candidate.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := Validate(candidate); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Error().Err(err).Msg("config save failed")
		}
		// Recording can follow the config; device settings apply on restart.
		s.recorder.SetEnabled(candidate.Recording.Enabled)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) writeAccepted(w http.ResponseWriter, id string) {
	p, err := s.dev.Parameter(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dfair.ErrParameterNotFound):
		return http.StatusNotFound
	case errors.Is(err, dfair.ErrParameterNotWritable):
		return http.StatusForbidden
	case errors.Is(err, dfair.ErrOutOfRange),
		errors.Is(err, dfair.ErrValueType),
		errors.Is(err, dfair.ErrDatatypeUnsupported):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// Package server exposes the sync daemon over HTTP: manual pass
// triggers, status reporting, and a WebSocket stream of pass results.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jmartens/lifesync/internal/daemon"
	"github.com/jmartens/lifesync/internal/engine"
	"github.com/jmartens/lifesync/internal/entity"
)

// MessageType defines the type of stream message.
type MessageType string

const (
	// MessageTypePassResult carries one completed pass result.
	MessageTypePassResult MessageType = "pass_result"

	// MessageTypeHello greets a freshly connected client.
	MessageTypeHello MessageType = "hello"
)

// Message is one WebSocket broadcast frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// resultPayload is a Result plus its error text, which the Result type
// deliberately keeps out of its own JSON form.
type resultPayload struct {
	*engine.Result
	Error string `json:"error,omitempty"`
}

func payload(res *engine.Result) resultPayload {
	return resultPayload{Result: res, Error: res.ErrMessage()}
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	Entities    []string         `json:"entities"`
	LastResults []resultPayload  `json:"last_results"`
	Consistency []consistencyRow `json:"consistency,omitempty"`
	Clients     int              `json:"ws_clients"`
}

// consistencyRow mirrors engine.ConsistencyReport rows so the JSON
// shape of /status is owned by this package.
type consistencyRow struct {
	Entity    string `json:"entity"`
	Workspace int    `json:"workspace"`
	Store     int    `json:"store"`
	Health    string `json:"health"`
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8600).
	Addr string

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns settings for a loopback-only deployment.
func DefaultConfig() Config {
	return Config{
		Addr:   "127.0.0.1:8600",
		Logger: log.New(os.Stderr, "[server] ", log.LstdFlags),
	}
}

// Server manages the HTTP surface and WebSocket broadcasts.
type Server struct {
	addr     string
	daemon   *daemon.Daemon
	engine   *engine.Engine
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// New creates a server over a daemon. The engine is only used for the
// consistency section of /status and may be nil in tests.
func New(cfg Config, d *daemon.Daemon, eng *engine.Engine) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultConfig().Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      cfg.Addr,
		daemon:    d,
		engine:    eng,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}
}

// SetDaemon attaches the daemon after construction. The daemon's
// OnResult callback points at this server, so the two cannot be built
// in one step. Must be called before Start.
func (s *Server) SetDaemon(d *daemon.Daemon) {
	s.daemon = d
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sync/all", s.handleSyncAll)
	mux.HandleFunc("/sync/", s.handleSyncEntity)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start begins listening and launches the broadcast loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /sync handlers block for the length of a pass
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("serve error: %v", err)
		}
	}()
	return nil
}

// Stop closes client connections and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.wg.Wait()
	s.logger.Printf("stopped")
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// BroadcastResult queues a pass result for all connected clients. Wire
// this as the daemon's OnResult callback.
func (s *Server) BroadcastResult(res *engine.Result) {
	data, err := json.Marshal(payload(res))
	if err != nil {
		s.logger.Printf("failed to marshal result for %s: %v", res.Entity, err)
		return
	}
	msg := Message{Type: MessageTypePassResult, Timestamp: time.Now().UTC(), Data: data}
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("WARNING: broadcast channel full, dropping %s result", res.Entity)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("client connected (total: %d)", total)

	hello := Message{Type: MessageTypeHello, Timestamp: time.Now().UTC()}
	data, _ := json.Marshal(hello)
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, data)
	cancel()

	go s.readLoop(conn)
}

// readLoop drains client frames so pings get answered; clients have
// nothing to say to us.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, exists := s.clients[conn]
	if exists {
		delete(s.clients, conn)
	}
	total := len(s.clients)
	s.clientsMu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("client disconnected (total: %d)", total)
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Entities: entity.Names(),
		Clients:  s.ClientCount(),
	}
	for _, res := range s.daemon.LastResults() {
		resp.LastResults = append(resp.LastResults, payload(res))
	}

	if s.engine != nil && r.URL.Query().Get("consistency") == "true" {
		report, err := s.engine.ConsistencyReport(r.Context())
		if err != nil {
			s.logger.Printf("WARNING: consistency report failed: %v", err)
		} else {
			for _, row := range report {
				resp.Consistency = append(resp.Consistency, consistencyRow{
					Entity:    row.Entity,
					Workspace: row.Workspace,
					Store:     row.Store,
					Health:    string(row.Health),
				})
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSyncAll triggers a pass over every entity. The pass runs in the
// background; results arrive on the WebSocket stream and in /status.
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	full := r.URL.Query().Get("full") == "true"

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.daemon.RunAll(s.ctx, full)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"triggered": "all",
		"full":      full,
	})
}

// handleSyncEntity triggers a pass for one entity and blocks until it
// finishes, returning the result.
func (s *Server) handleSyncEntity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/sync/")
	ec, ok := entity.ByName(name)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown entity %q", name), http.StatusNotFound)
		return
	}
	full := r.URL.Query().Get("full") == "true"

	var lookback time.Duration
	if h := r.URL.Query().Get("hours"); h != "" {
		hours, err := strconv.Atoi(h)
		if err != nil || hours <= 0 {
			http.Error(w, fmt.Sprintf("invalid hours %q", h), http.StatusBadRequest)
			return
		}
		lookback = time.Duration(hours) * time.Hour
	}

	res := s.daemon.RunOne(r.Context(), ec, full, lookback)
	code := http.StatusOK
	if res.Status == engine.StatusError {
		code = http.StatusConflict
	}
	writeJSON(w, code, payload(res))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

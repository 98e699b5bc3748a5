// Package statusapi serves the gateway's shuttle status over HTTP, the Go
// analogue of the original's api/status_endpoint.py, plus a supplemented
// WebSocket push channel (grounded on the teacher's gorilla/websocket
// forwarding code) for clients that want status changes without polling.
package statusapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/shuttlegw/gateway/internal/shuttle"
)

// Dispatcher is the subset of *shuttle.Dispatcher the status API needs.
type Dispatcher interface {
	GetAllStates() map[string]shuttle.Snapshot
	DeadLetters() []*shuttle.Record
}

// shuttleView is one shuttle's entry in the /status response, matching
// status_handler's per-shuttle dict exactly.
type shuttleView struct {
	Status          shuttle.Status  `json:"status"`
	CurrentCommand  *shuttle.Command `json:"current_command"`
	LastSeen        time.Time       `json:"last_seen"`
	BatteryLevel    string          `json:"battery_level"`
	LocationData    string          `json:"location_data"`
	CurrentCell     string          `json:"current_cell"`
	ErrorCode       string          `json:"error_code"`
}

func toView(snap shuttle.Snapshot) shuttleView {
	return shuttleView{
		Status:         snap.Status,
		CurrentCommand: snap.CurrentCommand,
		LastSeen:       snap.LastSeen,
		BatteryLevel:   snap.BatteryLevel,
		LocationData:   snap.LocationData,
		CurrentCell:    snap.CurrentCell,
		ErrorCode:      snap.ErrorCode,
	}
}

// Server hosts the /status, /status/ws, and /dead-letters endpoints.
type Server struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	pushInterval time.Duration
}

func NewServer(dispatcher Dispatcher, logger *slog.Logger) *Server {
	return &Server{
		dispatcher:   dispatcher,
		logger:       logger,
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		pushInterval: time.Second,
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/status/ws", s.handleStatusWS)
	mux.HandleFunc("/dead-letters", s.handleDeadLetters)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result := make(map[string]shuttleView)
	states := s.dispatcher.GetAllStates()
	for id, snap := range states {
		result[id] = toView(snap)
	}
	if s.logger != nil {
		s.logger.Info("shuttle status request", slog.Int("count", len(result)))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.dispatcher.DeadLetters())
}

// handleStatusWS upgrades to a WebSocket and pushes the full status view on
// an interval until the client disconnects, identified by a per-connection
// UUID for logging.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("status websocket upgrade failed", slog.Any("error", err))
		}
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	if s.logger != nil {
		s.logger.Info("status websocket client connected", slog.String("client_id", clientID))
	}

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	// Drain client-sent control frames (pings/close) on a reader goroutine
	// so the connection's read deadline machinery stays serviced.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			result := make(map[string]shuttleView)
			for id, snap := range s.dispatcher.GetAllStates() {
				result[id] = toView(snap)
			}
			if err := conn.WriteJSON(result); err != nil {
				if s.logger != nil {
					s.logger.Info("status websocket client disconnected", slog.String("client_id", clientID), slog.Any("error", err))
				}
				return
			}
		}
	}
}

// Serve runs the status HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

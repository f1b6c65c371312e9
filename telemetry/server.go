// Package telemetry exposes a read-only snapshot of the move queue and
// planner state over a WebSocket, for dashboards and log correlation.
// It never mutates planner state. Grounded on
// AndySze-klipper/go/pkg/moonraker/server.go's HTTP+WebSocket status
// server shape, using github.com/gorilla/websocket for the transport
// and github.com/satori/go.uuid (the ANYCUBIC-3D-Kobra3/klipper-go
// Webhooks.go uuid.NewV4() pattern) to tag each connection for logs.
package telemetry

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"
)

// QueueSnapshot is one ring-buffer state sample, filled by whatever
// owns the planner/ring (cmd/motionctl's wiring, typically).
type QueueSnapshot struct {
	Head  int             `json:"head"`
	Write int             `json:"write"`
	Count int             `json:"count"`
	Cap   int             `json:"cap"`
	Head0 *SegmentSnapshot `json:"head_segment,omitempty"`
}

// SegmentSnapshot mirrors the handful of MotionSegment fields an
// operator dashboard cares about — flags, speeds, trapezoid steps —
// without depending on package queue directly (telemetry stays a leaf
// package so it can be imported from anywhere without cycles).
type SegmentSnapshot struct {
	Flags            uint16     `json:"flags"`
	PrimaryAxis      int        `json:"primary_axis"`
	StepsRemaining   uint32     `json:"steps_remaining"`
	FullSpeed        float64    `json:"full_speed_mm_s"`
	StartSpeed       float64    `json:"start_speed_mm_s"`
	EndSpeed         float64    `json:"end_speed_mm_s"`
	AccelSteps       uint32     `json:"accel_steps"`
	DecelSteps       uint32     `json:"decel_steps"`
}

// Snapshotter is supplied by the caller (cmd/motionctl) and polled once
// per broadcast tick; telemetry never touches the ring or planner
// itself.
type Snapshotter func() QueueSnapshot

// Server serves /status as a one-shot JSON snapshot and /ws as a
// WebSocket stream broadcasting the same snapshot on an interval.
type Server struct {
	snapshot Snapshotter
	interval time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uuid.UUID]*websocket.Conn
}

// New builds a telemetry server that polls snapshot every interval.
func New(snapshot Snapshotter, interval time.Duration) *Server {
	return &Server{
		snapshot: snapshot,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]*websocket.Conn),
	}
}

// Handler returns the server's http.Handler, mountable at any prefix.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("telemetry: upgrade: %v", err)
		return
	}
	id := uuid.NewV4()
	s.mu.Lock()
	s.clients[id] = conn
	s.mu.Unlock()
	log.Printf("telemetry: client %s connected", id)

	defer func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		conn.Close()
		log.Printf("telemetry: client %s disconnected", id)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Drain and discard anything the client sends; this stream is
	// outbound-only, but we still need to notice a closed connection.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for range ticker.C {
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
	}
}

// Broadcast pushes snapshot to every currently connected client
// immediately, outside the regular interval — used after an emergency
// stop or a diagnostics-worthy event.
func (s *Server) Broadcast(snap QueueSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.clients {
		if err := conn.WriteJSON(snap); err != nil {
			conn.Close()
			delete(s.clients, id)
		}
	}
}

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/chefcode-ai/chefcode/internal/logger"
	"github.com/chefcode-ai/chefcode/internal/runner"
	"github.com/chefcode-ai/chefcode/internal/terminal"
)

// Server exposes the live action registry and terminal output to UI
// clients over HTTP and websocket.
type Server struct {
	addr       string
	hub        *Hub
	httpServer *http.Server
	upgrader   websocket.Upgrader

	registry *runner.Registry
	term     *terminal.Store

	unsubscribe []func()
}

// NewServer creates an observer server over the given registry and
// terminal store.
func NewServer(addr string, registry *runner.Registry, term *terminal.Store) *Server {
	return &Server{
		addr:     addr,
		hub:      NewHub(),
		registry: registry,
		term:     term,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Start begins serving and wires the live feeds into the hub
func (s *Server) Start() error {
	router := httprouter.New()
	router.GET("/healthz", s.handleHealth)
	router.GET("/api/actions", s.handleActions)
	router.GET("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go s.hub.Run()

	s.unsubscribe = append(s.unsubscribe,
		s.registry.Subscribe(func(snap runner.Snapshot) {
			s.hub.Broadcast(actionMessage(snap))
		}),
		s.term.Subscribe(func(snapshot string) {
			s.hub.Broadcast(terminalMessage(snapshot))
		}),
	)

	go func() {
		logger.Info("web: listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("web: server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// PublishAlert pushes an alert to all observers
func (s *Server) PublishAlert(alert runner.Alert) {
	s.hub.Broadcast(alertMessage(alert))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.registry.Snapshots()); err != nil {
		logger.Error("web: failed to encode actions: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("web: websocket upgrade failed: %v", err)
		return
	}

	client := newClient(s.hub, conn)
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

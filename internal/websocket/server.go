// Package websocket serves the local event feed: state snapshots and watch
// events out, user commands in.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/hellotrik/port-killer/internal/engine"
	"github.com/hellotrik/port-killer/internal/health"
	"github.com/hellotrik/port-killer/internal/logging"
	"github.com/hellotrik/port-killer/internal/notify"
	"github.com/hellotrik/port-killer/internal/state"
)

var log = logging.L("websocket")

const defaultMaxClients = 8

// Config holds feed server configuration.
type Config struct {
	Addr       string
	MaxClients int
}

// Server is the feed endpoint. It also implements notify.Notifier so watch
// events reach connected clients.
type Server struct {
	cfg      Config
	eng      *engine.Engine
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu       sync.RWMutex
	clients  map[*client]struct{}
	listener net.Listener

	unsubscribe func()
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// New creates a feed server for eng. Call Start to listen.
func New(cfg Config, eng *engine.Engine) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = defaultMaxClients
	}
	s := &Server{
		cfg:     cfg,
		eng:     eng,
		clients: make(map[*client]struct{}),
		// The default origin check rejects cross-site browser pages.
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	eng.Health().Register(health.ComponentFeed)
	return s
}

// Handler returns the feed routes: /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", s.serveHealth)
	return mux
}

// Start listens on the configured address and begins publishing snapshots.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.eng.Health().Update(health.ComponentFeed, health.Unhealthy, err.Error())
		return fmt.Errorf("feed listen %s: %w", s.cfg.Addr, err)
	}
	ln = netutil.LimitListener(ln, s.cfg.MaxClients)

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.unsubscribe = s.eng.Store().Subscribe(s.publish)

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("feed server stopped", "error", err)
			s.eng.Health().Update(health.ComponentFeed, health.Unhealthy, err.Error())
		}
	}()

	s.eng.Health().Update(health.ComponentFeed, health.Healthy, "listening on "+ln.Addr().String())
	log.Info("feed listening", "addr", ln.Addr().String(), "maxClients", s.cfg.MaxClients)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every client connection.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		err = s.httpSrv.Shutdown(ctx)

		// Hijacked connections are not closed by Shutdown.
		s.mu.Lock()
		for c := range s.clients {
			c.close()
		}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn("feed clients did not disconnect before deadline")
		}
		log.Info("feed stopped")
	})
	return err
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Name implements notify.Notifier.
func (s *Server) Name() string { return "feed" }

// Notify implements notify.Notifier by broadcasting a watch_event.
func (s *Server) Notify(ctx context.Context, n notify.Notification) error {
	data, err := json.Marshal(WatchEventMessage{
		Type:  TypeWatchEvent,
		Port:  n.Port,
		Kind:  n.Kind,
		Title: n.Title,
		Body:  n.Body,
	})
	if err != nil {
		return err
	}
	s.broadcast(data)
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newClient(s, conn)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.wg.Add(1)
	log.Info("feed client connected", "remote", r.RemoteAddr)

	c.sendJSON(NewSnapshot(s.eng.Store().Load()))
	go c.writePump()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		s.wg.Done()
		log.Info("feed client disconnected", "remote", r.RemoteAddr)
	}()
	c.readPump()
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summary := s.eng.Health().Summary()
	w.Header().Set("Content-Type", "application/json")
	if summary.Status == health.Unhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		log.Warn("failed to write health response", "error", err)
	}
}

// publish pushes a snapshot of v to every client.
func (s *Server) publish(v *state.View) {
	if s.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(NewSnapshot(v))
	if err != nil {
		log.Error("failed to marshal snapshot", "error", err)
		return
	}
	s.broadcast(data)
}

func (s *Server) broadcast(data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.enqueue(data)
	}
}

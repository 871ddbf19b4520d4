package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/nanoclaw/internal/auth"
	"github.com/nextlevelbuilder/nanoclaw/internal/config"
	"github.com/nextlevelbuilder/nanoclaw/internal/pairing"
	"github.com/nextlevelbuilder/nanoclaw/internal/sandbox"
	"github.com/nextlevelbuilder/nanoclaw/pkg/protocol"
)

// Server is the WebSocket RPC gateway. It authenticates clients (operator
// token or paired device), routes method frames, and enforces per-address
// rate limits on pairing redemption.
type Server struct {
	cfg     *config.Config
	pairing *pairing.Service
	guard   *sandbox.Guard
	tokens  *auth.Store

	router        *MethodRouter
	redeemLimiter *RateLimiter
	upgrader      websocket.Upgrader

	mu       sync.Mutex
	clients  map[string]*Client
	listener net.Listener
	httpSrv  *http.Server
}

func NewServer(cfg *config.Config, ps *pairing.Service, guard *sandbox.Guard, tokens *auth.Store) *Server {
	s := &Server{
		cfg:     cfg,
		pairing: ps,
		guard:   guard,
		tokens:  tokens,
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Loopback-only gateway; browser origins are not part of the surface.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.redeemLimiter = NewRateLimiter(cfg.Pairing.RedeemPerMinute, cfg.Pairing.RedeemBurst)
	s.router = NewMethodRouter(s)
	return s
}

// Router returns the method router, so callers can register extra handlers
// before Start.
func (s *Server) Router() *MethodRouter { return s.router }

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	s.httpSrv = &http.Server{Handler: mux}
	slog.Info("gateway listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.Shutdown()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	client := NewClient(conn, s, host)
	s.addClient(client)
	defer s.removeClient(client)

	slog.Debug("client connected", "client", client.ID(), "remote", r.RemoteAddr)
	client.Run(ctx)
	slog.Debug("client disconnected", "client", client.ID())
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
}

// DisconnectDevice closes every live connection authenticated as the named
// device. Revocation takes effect immediately, not at next reconnect.
func (s *Server) DisconnectDevice(name string) {
	s.mu.Lock()
	var targets []*Client
	for _, c := range s.clients {
		if c.isDevice(name) {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.SendEvent(*protocol.NewEvent(protocol.EventDeviceRevoke, map[string]any{
			"device": name,
		}))
		// Give the write pump a moment to flush the event.
		time.AfterFunc(100*time.Millisecond, func() { c.conn.Close() })
	}
}

// Shutdown broadcasts a shutdown event and closes the HTTP server.
func (s *Server) Shutdown() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	srv := s.httpSrv
	s.mu.Unlock()

	for _, c := range clients {
		c.SendEvent(*protocol.NewEvent(protocol.EventShutdown, map[string]any{
			"reason": "server shutting down",
		}))
	}

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
	slog.Info("gateway stopped")
}

// Package ws serves the party protocol over websocket: one text frame per
// JSON message, gorilla/websocket for the upgrade and framing.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/partyserver/internal/config"
	"github.com/cory-johannsen/partyserver/internal/dispatch"
)

// Server accepts websocket upgrades on a single HTTP path and runs the
// dispatcher control loop for each connection.
type Server struct {
	cfg        config.WebSocketConfig
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	httpServer *http.Server
	wg         sync.WaitGroup
	quit       chan struct{}
	mu         sync.Mutex
	listener   net.Listener
	running    bool
}

// NewServer creates a websocket server with the given configuration.
//
// Precondition: cfg must have a valid port and path; dispatcher and logger
// must be non-nil.
func NewServer(cfg config.WebSocketConfig, dispatcher *dispatch.Dispatcher, logger *zap.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy belongs to the deployment's proxy layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleUpgrade)
	s.httpServer = &http.Server{Handler: mux}
	return s
}

// ListenAndServe starts the HTTP listener and serves upgrades until Stop is
// called. Blocks until the server is stopped.
//
// Postcondition: The listener is closed when this method returns.
func (s *Server) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("websocket server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", s.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket upgrades: %w", err)
	}
	return nil
}

// handleUpgrade upgrades one HTTP request and serves it until disconnect.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	s.wg.Add(1)
	go s.serveConn(ws, r.RemoteAddr)
}

// serveConn runs the write pump and the dispatcher loop for one upgraded
// connection.
func (s *Server) serveConn(sock *websocket.Conn, addr string) {
	defer s.wg.Done()
	start := time.Now()

	s.logger.Info("client connected",
		zap.String("remote_addr", addr),
	)

	ch := NewChannel(sock, s.cfg.MaxMessageBytes, s.cfg.PongTimeout)
	defer ch.Close()

	conn := s.dispatcher.NewConn()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		writePump(sock, conn, s.cfg.WriteTimeout, s.cfg.PongTimeout)
	}()

	err := s.dispatcher.Run(ctx, conn, ch)
	<-writeDone

	if err != nil {
		s.logger.Debug("session ended",
			zap.String("remote_addr", addr),
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		s.logger.Info("session ended cleanly",
			zap.String("remote_addr", addr),
			zap.String("conn_id", conn.ID()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Stop gracefully stops the server, closing the listener and waiting for all
// active sessions to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.quit)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)

	s.wg.Wait()
	s.logger.Info("websocket server stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is currently accepting upgrades.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Package tcp serves the party protocol over raw TCP with newline-framed
// JSON messages, one connection per client.
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/partyserver/internal/config"
	"github.com/cory-johannsen/partyserver/internal/dispatch"
)

// Acceptor listens for TCP connections and runs the dispatcher control loop
// for each one.
type Acceptor struct {
	cfg        config.TCPConfig
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewAcceptor creates a TCP acceptor with the given configuration.
//
// Precondition: cfg must have a valid port; dispatcher and logger must be non-nil.
func NewAcceptor(cfg config.TCPConfig, dispatcher *dispatch.Dispatcher, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		quit:       make(chan struct{}),
	}
}

// ListenAndServe starts the TCP listener and accepts connections until Stop
// is called. Blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("tcp acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
				a.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}

		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

// handleConn serves a single TCP client: a write loop draining the outbound
// queue and the dispatcher loop reading newline-framed messages.
func (a *Acceptor) handleConn(raw net.Conn) {
	defer a.wg.Done()
	start := time.Now()
	addr := raw.RemoteAddr().String()

	a.logger.Info("client connected",
		zap.String("remote_addr", addr),
	)

	ch := NewConn(raw, a.cfg.ReadTimeout, a.cfg.WriteTimeout, a.cfg.MaxLineBytes)
	defer ch.Close()

	conn := a.dispatcher.NewConn()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case payload := <-conn.Outbound():
				if err := ch.Write(payload); err != nil {
					conn.Close()
					return
				}
			case <-conn.Done():
				// Flush whatever the dispatcher managed to enqueue before
				// closing, then stop.
				for {
					select {
					case payload := <-conn.Outbound():
						if err := ch.Write(payload); err != nil {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()

	err := a.dispatcher.Run(ctx, conn, ch)
	<-writeDone

	if err != nil {
		a.logger.Debug("session ended",
			zap.String("remote_addr", addr),
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		a.logger.Info("session ended cleanly",
			zap.String("remote_addr", addr),
			zap.String("conn_id", conn.ID()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Stop gracefully stops the acceptor, closing the listener and waiting for
// all active sessions to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false

	close(a.quit)
	if a.listener != nil {
		a.listener.Close()
	}
	a.wg.Wait()

	a.logger.Info("tcp acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

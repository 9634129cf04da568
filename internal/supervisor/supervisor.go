// Package supervisor accepts WebSocket upgrades at /ws/ssh and runs one
// relay session (Relay.Serve) per connection. It holds no cross-session state: every
// session is independent, and shutdown only waits for in-flight sessions
// to drain, bounded by a timeout.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/websoft9/sshrelay/internal/relay"
)

// drainTimeout bounds how long ListenAndServe, once its context is
// cancelled, waits for in-flight sessions
// before giving up; shutdown must not wait indefinitely on a stalled SSH
// teardown.
const drainTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server is the session supervisor: an HTTP listener fronting a single
// WebSocket route, handing each accepted connection to the shared Relay's
// Serve in its own goroutine.
type Server struct {
	// ListenAddr is the address to bind (e.g. ":3001").
	ListenAddr string
	// Relay is shared read-only configuration (Target Directory, Verifier,
	// Admission list, Dialer, audit sink) injected into every session.
	Relay *relay.Relay
	// Logger receives one line per accepted/finished session.
	Logger *log.Logger

	httpSrv  *http.Server
	wg       sync.WaitGroup
	sessions atomic.Int64

	// sessionCtx is the parent context every spawned session's errgroup
	// derives from. It must be the supervisor's own lifetime context, not
	// the per-request context: handleUpgrade hands the connection to a
	// goroutine and returns immediately, and net/http cancels a request's
	// context as soon as its handler returns — using req.Context() here
	// would tear down every session's errgroup the instant it started.
	sessionCtx context.Context
}

// ListenAndServe starts the HTTP listener and blocks until ctx is
// cancelled, at which point it stops accepting new connections and waits
// up to drainTimeout for in-flight sessions before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.sessionCtx = ctx

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/ssh", s.handleUpgrade)

	addr := s.ListenAddr
	if addr == "" {
		addr = ":3001"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("supervisor: listen %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{Handler: mux}
	s.logf("listening on %s", addr)

	go func() {
		<-ctx.Done()
		_ = s.httpSrv.Close()
	}()

	err = s.httpSrv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("supervisor: serve: %w", err)
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		s.logf("drain timeout after %s, %d session(s) still in flight", drainTimeout, s.sessions.Load())
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logf("upgrade failed: %v", err)
		return
	}

	s.wg.Add(1)
	s.sessions.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sessions.Add(-1)
		defer conn.Close()
		s.Relay.Serve(s.sessionCtx, conn)
	}()
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Package relay implements the session state machine that brokers one
// client transport to one outbound SSH shell: spec.md §4.5, the hard part
// of the system.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/websoft9/sshrelay/internal/admission"
	"github.com/websoft9/sshrelay/internal/audit"
	"github.com/websoft9/sshrelay/internal/authn"
	"github.com/websoft9/sshrelay/internal/sshdial"
	"github.com/websoft9/sshrelay/internal/target"
)

// Close codes (spec.md §6.1).
const (
	closeProtocolViolation = 1008
	closePTYFailure        = 1011
	closeNormal            = 1000
)

// defaultIdleTimeout closes a Ready session that has carried no client
// traffic (input or resize) for this long. Not part of spec.md's stated
// contract, but a property any complete deployment needs to avoid leaking
// SSH connections behind clients that vanished without a clean close.
const defaultIdleTimeout = 30 * time.Minute

// Literal close reasons spec.md §6.1 names explicitly.
const (
	reasonNotJSON       = "Primul mesaj trebuie să fie JSON"
	reasonUnknownServer = "Server necunoscut"
	reasonAuthInvalid   = "JWT invalid"
	reasonHostDenied    = "Gazdă interzisă"
	reasonPTYDenied     = "PTY denied"
)

// Relay wires together the five collaborating components (Target
// Directory, Token Verifier, Host Admission, SSH Dialer, plus audit/log
// sinks) and drives one session's state machine end to end. One Relay
// value is shared by every session; Serve is called once per accepted
// connection and owns no state beyond that one call.
type Relay struct {
	Targets   *target.Directory
	Verifier  authn.Verifier
	Admission *admission.List
	Dialer    *sshdial.Dialer
	Audit     *audit.Sink
	Logger    *log.Logger

	// IdleTimeout overrides defaultIdleTimeout when non-zero.
	IdleTimeout time.Duration
}

func (r *Relay) idleTimeout() time.Duration {
	if r.IdleTimeout > 0 {
		return r.IdleTimeout
	}
	return defaultIdleTimeout
}

// Serve drives a single session from AwaitingHandshake to Closed. It never
// returns an error: every failure is terminal to the session and is
// resolved entirely by closing conn with an appropriate code.
func (r *Relay) Serve(ctx context.Context, conn *websocket.Conn) {
	sessionID := uuid.NewString()
	startedAt := time.Now().UTC()

	hs, ok := r.awaitHandshake(conn)
	if !ok {
		return
	}

	tgt, found := r.Targets.Lookup(hs.ServerID)
	if !found {
		r.closeClient(conn, closeProtocolViolation, reasonUnknownServer)
		return
	}

	principal, err := r.Verifier.Verify(hs.Token)
	if err != nil {
		r.closeClient(conn, closeProtocolViolation, reasonAuthInvalid)
		return
	}

	if !r.Admission.Admit(tgt.Host) {
		r.closeClient(conn, closeProtocolViolation, reasonHostDenied)
		return
	}

	cols, rows := hs.Cols, hs.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	r.Audit.Write(audit.Entry{
		Principal: string(principal),
		Action:    "relay.connect",
		TargetID:  tgt.ID,
		SessionID: sessionID,
		Status:    audit.StatusSuccess,
	})
	defer func() {
		r.Audit.Write(audit.Entry{
			Principal: string(principal),
			Action:    "relay.disconnect",
			TargetID:  tgt.ID,
			SessionID: sessionID,
			Status:    audit.StatusSuccess,
			Detail:    fmt.Sprintf("duration=%s", time.Since(startedAt)),
		})
	}()

	ep := sshdial.Endpoint{Host: tgt.Host, Port: tgt.Port, User: tgt.Username, Shell: tgt.Shell}
	auth := sshdial.ClientAuth{
		Password:   hs.Auth.Password,
		PrivateKey: []byte(hs.Auth.PrivateKey),
		Passphrase: hs.Auth.Passphrase,
	}

	stream, err := r.Dialer.Dial(ctx, ep, auth, uint16(cols), uint16(rows))
	if err != nil {
		r.logf("session %s: dial failed: %v", sessionID, err)
		r.writeDiagnostic(conn, err)
		if errors.Is(err, sshdial.ErrPTYDenied) {
			r.closeClient(conn, closePTYFailure, reasonPTYDenied)
		} else {
			r.closeClient(conn, closeNormal, "")
		}
		return
	}

	r.pump(ctx, conn, stream)
}

type handshakeResult struct {
	ServerID string
	Cols     int
	Rows     int
	Token    string
	Auth     struct {
		Password   string
		PrivateKey string
		Passphrase string
	}
}

// awaitHandshake reads exactly the first client frame. A non-JSON frame or
// one missing serverId is a protocol violation (spec.md §4.5's first
// transition row).
func (r *Relay) awaitHandshake(conn *websocket.Conn) (handshakeResult, bool) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return handshakeResult{}, false
	}

	hs, ok := parseHandshake(raw)
	if !ok {
		r.closeClient(conn, closeProtocolViolation, reasonNotJSON)
		return handshakeResult{}, false
	}

	var out handshakeResult
	out.ServerID = hs.ServerID
	out.Cols = hs.Cols
	out.Rows = hs.Rows
	out.Token = hs.Token
	out.Auth.Password = hs.Auth.Password
	out.Auth.PrivateKey = hs.Auth.PrivateKey
	out.Auth.Passphrase = hs.Auth.Passphrase
	return out, true
}

// pump runs the Ready state: three cooperating legs plus the idle watchdog
// under one errgroup, torn down the instant any of them quits or the parent
// context is cancelled — the same shape as die-net-conduit's CopyBidirectional,
// generalized from net.Conn↔net.Conn to *websocket.Conn↔sshdial.ShellStream
// and split into three legs because the client-read leg must also decode
// control frames.
func (r *Relay) pump(ctx context.Context, conn *websocket.Conn, stream *sshdial.ShellStream) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	context.AfterFunc(gctx, func() {
		_ = conn.Close()
		_ = stream.Close()
	})

	// outbound is the single bounded channel the client-write goroutine
	// drains. Capacity 1 implements spec.md §5's backpressure rule: once
	// it's full, the SSH-read goroutine blocks on send, which blocks its
	// next Read, which is exactly "stop reading from the SSH stream".
	outbound := make(chan []byte, 1)

	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())

	g.Go(func() error {
		err := r.sshReadLoop(gctx, stream, outbound)
		if err == nil {
			// Clean EOF: let the writer drain what is queued, then stop.
			close(outbound)
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		return r.clientWriteLoop(gctx, conn, outbound)
	})
	g.Go(func() error { return r.clientReadLoop(gctx, conn, stream, &lastActivity) })
	g.Go(func() error { return r.idleWatchdog(gctx, &lastActivity) })

	_ = g.Wait()
}

// idleWatchdog ends the session once lastActivity has been stale for
// longer than idleTimeout, the supplement to the Ready state described
// above (defaultIdleTimeout).
func (r *Relay) idleWatchdog(ctx context.Context, lastActivity *atomic.Int64) error {
	timeout := r.idleTimeout()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			last := time.Unix(0, lastActivity.Load())
			if time.Since(last) >= timeout {
				return fmt.Errorf("session idle for %s", timeout)
			}
		}
	}
}

// sshReadLoop is the single writer-side-adjacent reader of the merged
// stdout+stderr flow. On a clean EOF (remote shell exited) it ends the
// session without a diagnostic. On any other read error it enqueues a
// best-effort "[SSH ERROR]" line first (spec.md §4.5's teardown guarantee),
// then ends the session.
func (r *Relay) sshReadLoop(ctx context.Context, stream *sshdial.ShellStream, outbound chan<- []byte) error {
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case outbound <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			diag := []byte(fmt.Sprintf("\r\n[SSH ERROR] %s\r\n", err.Error()))
			select {
			case outbound <- diag:
			case <-ctx.Done():
			}
			return err
		}
	}
}

// clientWriteLoop is the single owner of conn's write side — the redesign
// spec.md §9 calls for in place of a liveness flag: rather than checking a
// flag before every send, one goroutine drains a bounded channel until it
// closes or the context cancels.
func (r *Relay) clientWriteLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan []byte) error {
	for {
		select {
		case chunk, ok := <-outbound:
			if !ok {
				return nil
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// clientReadLoop decodes client frames: a resize control frame triggers a
// window-change; everything else — including a frame that merely looks
// like JSON but isn't a resize — is forwarded byte-for-byte as input
// (spec.md §4.5's framing rule). Resize handling happens inline so that a
// Resize issued before subsequent Data is always observed first (spec.md
// §5's same-direction ordering guarantee).
func (r *Relay) clientReadLoop(ctx context.Context, conn *websocket.Conn, stream *sshdial.ShellStream, lastActivity *atomic.Int64) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		lastActivity.Store(time.Now().UnixNano())

		if rows, cols, ok := tryParseResize(msg); ok {
			widthPx := cols * 8
			heightPx := rows * 16
			_ = stream.WindowChange(rows, cols, widthPx, heightPx)
			continue
		}

		if _, err := stream.Write(msg); err != nil {
			return err
		}
	}
}

func (r *Relay) writeDiagnostic(conn *websocket.Conn, err error) {
	line := fmt.Sprintf("\r\n[SSH ERROR] %s\r\n", err.Error())
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte(line))
}

func (r *Relay) closeClient(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func (r *Relay) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

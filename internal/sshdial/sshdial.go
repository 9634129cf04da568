// Package sshdial establishes outbound SSH transports and requests
// PTY-backed shells of given dimensions. It is dumb plumbing: window-change
// pixel synthesis, framing, and state live in internal/relay.
package sshdial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Sentinel errors — the dialer's entire error taxonomy (spec.md §4.4, §7).
// Each is terminal; the dialer performs no retries.
var (
	ErrAuthFailed    = errors.New("sshdial: authentication failed")
	ErrUnreachable   = errors.New("sshdial: host unreachable")
	ErrPTYDenied     = errors.New("sshdial: pty allocation denied")
	ErrTransportLost = errors.New("sshdial: transport lost")
)

// Endpoint is the (host, port, username, shell) tuple the dialer connects
// to, resolved ahead of time by the caller (internal/target + internal/relay).
type Endpoint struct {
	Host  string
	Port  int
	User  string
	Shell string // optional login shell override
}

// ClientAuth mirrors spec.md §3's sum type: Password(secret) |
// PrivateKey(pem bytes, optional passphrase). Both may be set, in which
// case PrivateKey is attempted first with Password as fallback (spec.md §8).
type ClientAuth struct {
	Password   string
	PrivateKey []byte
	Passphrase string
}

func (a ClientAuth) empty() bool {
	return a.Password == "" && len(a.PrivateKey) == 0
}

// Dialer holds the process-wide SSH dial policy: host-key verification and
// an optional bounded dial deadline.
type Dialer struct {
	knownHostsPath string
	dialTimeout    time.Duration
}

// New returns a Dialer. knownHostsPath, when non-empty and readable, makes
// host-key verification strict (SSHRELAY_KNOWN_HOSTS); otherwise every host
// key is accepted unconditionally — the explicit, called-out non-goal of
// verification (spec.md §4.4, §9). dialTimeout of zero disables the bounded
// deadline beyond the transport's own TCP timeout.
func New(knownHostsPath string, dialTimeout time.Duration) *Dialer {
	return &Dialer{knownHostsPath: knownHostsPath, dialTimeout: dialTimeout}
}

// Dial establishes an outbound SSH transport to ep and requests a shell
// with terminal type xterm-256color and the given initial window, honoring
// ctx cancellation throughout the handshake.
func (d *Dialer) Dial(ctx context.Context, ep Endpoint, auth ClientAuth, cols, rows uint16) (*ShellStream, error) {
	if auth.empty() {
		return nil, ErrAuthFailed
	}

	hostKeyCB, err := d.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	clientCfg := &cryptossh.ClientConfig{
		User:            ep.User,
		Auth:            authMethods(auth),
		HostKeyCallback: hostKeyCB,
		Timeout:         d.dialTimeout,
	}

	addr := net.JoinHostPort(ep.Host, portString(ep.Port))

	type dialResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		client, err := cryptossh.Dial("tcp", addr, clientCfg)
		ch <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, classifyDialError(r.err)
		}
		return newShellStream(r.client, ep.Shell, cols, rows)
	}
}

// authMethods builds the ordered auth method list implementing spec.md
// §8's fallback rule: PrivateKey first, then Password, with a
// keyboard-interactive method answering every prompt with the password.
func authMethods(auth ClientAuth) []cryptossh.AuthMethod {
	var methods []cryptossh.AuthMethod
	if len(auth.PrivateKey) > 0 {
		if signer, err := parsePrivateKey(auth.PrivateKey, auth.Passphrase); err == nil {
			methods = append(methods, cryptossh.PublicKeys(signer))
		}
	}
	if auth.Password != "" {
		methods = append(methods, cryptossh.Password(auth.Password))
		methods = append(methods, cryptossh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = auth.Password
				}
				return answers, nil
			}))
	}
	return methods
}

func parsePrivateKey(pemBytes []byte, passphrase string) (cryptossh.Signer, error) {
	if passphrase != "" {
		return cryptossh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	}
	return cryptossh.ParsePrivateKey(pemBytes)
}

func (d *Dialer) hostKeyCallback() (cryptossh.HostKeyCallback, error) {
	if d.knownHostsPath == "" {
		return cryptossh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit non-goal, see spec.md §4.4/§9
	}
	if _, err := os.Stat(d.knownHostsPath); err != nil {
		return cryptossh.InsecureIgnoreHostKey(), nil //nolint:gosec // configured file missing, fall back to default policy
	}
	cb, err := knownhosts.New(d.knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}

func classifyDialError(err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	// golang.org/x/crypto/ssh reports auth rejection as an unexported
	// handshake error without a distinct type; a dial that reached the
	// handshake phase and still failed is most often the remote refusing
	// every offered auth method.
	return fmt.Errorf("%w: %v", ErrAuthFailed, err)
}

func portString(port int) string {
	if port <= 0 {
		port = 22
	}
	return fmt.Sprintf("%d", port)
}

// ptyRequestMsg is the wire encoding of a "pty-req" channel request
// (RFC 4254 §6.2), built by hand because the initial PTY pixel dimensions
// aren't reachable through ssh.Session's high-level RequestPty wrapper.
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

// ptyWindowChangeMsg is the wire encoding of a "window-change" channel
// request (RFC 4254 §6.7). Built by hand for the same reason as
// ptyRequestMsg — this is the only way to put non-zero pixel dimensions on
// the wire, which spec.md §4.5's window-change rule requires.
type ptyWindowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

type execMsg struct {
	Command string
}

func encodeTerminalModes(modes cryptossh.TerminalModes) []byte {
	buf := make([]byte, 0, len(modes)*5+1)
	for op, val := range modes {
		var v [4]byte
		v[0] = byte(val >> 24)
		v[1] = byte(val >> 16)
		v[2] = byte(val >> 8)
		v[3] = byte(val)
		buf = append(buf, op)
		buf = append(buf, v[:]...)
	}
	return append(buf, 0) // TTY_OP_END
}

// ShellStream is a duplex byte stream carrying a remote PTY's stdout and
// stderr merged into one client-bound flow, plus a window-change operation.
type ShellStream struct {
	client *cryptossh.Client
	ch     cryptossh.Channel

	merged chan []byte
	done   chan struct{}

	mu     sync.Mutex
	pend   []byte
	closed bool
}

func newShellStream(client *cryptossh.Client, shell string, cols, rows uint16) (*ShellStream, error) {
	ch, reqs, err := client.OpenChannel("session", nil)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: open session channel: %v", ErrTransportLost, err)
	}
	go cryptossh.DiscardRequests(reqs)

	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	ptyReq := ptyRequestMsg{
		Term:     "xterm-256color",
		Columns:  uint32(cols),
		Rows:     uint32(rows),
		Width:    uint32(cols) * 8,
		Height:   uint32(rows) * 16,
		Modelist: string(encodeTerminalModes(modes)),
	}
	ok, err := ch.SendRequest("pty-req", true, cryptossh.Marshal(&ptyReq))
	if err != nil || !ok {
		ch.Close()
		client.Close()
		return nil, fmt.Errorf("%w: pty-req refused", ErrPTYDenied)
	}

	if shell != "" {
		ok, err = ch.SendRequest("exec", true, cryptossh.Marshal(&execMsg{Command: shell}))
	}
	if shell == "" || err != nil || !ok {
		ok, err = ch.SendRequest("shell", true, nil)
	}
	if err != nil || !ok {
		ch.Close()
		client.Close()
		return nil, fmt.Errorf("%w: shell start refused", ErrTransportLost)
	}

	s := &ShellStream{
		client: client,
		ch:     ch,
		merged: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(ch, &wg)
	go s.pump(ch.Stderr(), &wg)
	go func() {
		wg.Wait()
		close(s.merged)
	}()
	return s, nil
}

// pump reads r in a loop and forwards chunks onto the merged channel,
// implementing "an auxiliary stderr stream that MUST be merged into the
// same client-bound flow" (spec.md §4.4) without favoring stdout over
// stderr ordering beyond what each source naturally produces.
func (s *ShellStream) pump(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.merged <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Read returns bytes from the merged stdout+stderr flow.
func (s *ShellStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.pend) > 0 {
		n := copy(p, s.pend)
		s.pend = s.pend[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	chunk, ok := <-s.merged
	if !ok {
		return 0, io.EOF
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		s.mu.Lock()
		s.pend = chunk[n:]
		s.mu.Unlock()
	}
	return n, nil
}

// Write sends bytes to the remote shell's stdin.
func (s *ShellStream) Write(p []byte) (int, error) {
	return s.ch.Write(p)
}

// WindowChange forwards a resize to the remote PTY, carrying both the
// character dimensions and the synthesized pixel dimensions the caller
// computed (spec.md §4.5: "the underlying SSH window-change request MUST
// carry both"). The Dialer performs no synthesis of its own — it forwards
// exactly the four values it is given.
func (s *ShellStream) WindowChange(rows, cols, widthPx, heightPx uint16) error {
	req := ptyWindowChangeMsg{
		Columns: uint32(cols),
		Rows:    uint32(rows),
		Width:   uint32(widthPx),
		Height:  uint32(heightPx),
	}
	_, err := s.ch.SendRequest("window-change", false, cryptossh.Marshal(&req))
	return err
}

// Close releases the channel and underlying client exactly once;
// subsequent calls are a no-op.
func (s *ShellStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	_ = s.ch.Close()
	return s.client.Close()
}

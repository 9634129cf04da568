// Package sshtest runs a minimal in-process SSH server backed by a real
// PTY-spawned shell, for exercising internal/sshdial without a live remote
// host. The PTY-spawning technique is repurposed from the teacher's
// LocalSession (a production local-terminal connector in the original
// codebase) — this package has no production role, only a test one, since
// the target model here is SSH-only.
package sshtest

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"

	"github.com/creack/pty"
	cryptossh "golang.org/x/crypto/ssh"
)

// Server is a throwaway SSH server accepting exactly the credentials it was
// configured with, spawning a real PTY shell per session.
type Server struct {
	Addr string

	listener net.Listener
	config   *cryptossh.ServerConfig
	shell    string
}

// Option configures the test server's accepted credentials.
type Option func(*cryptossh.ServerConfig)

// WithPassword accepts exactly one username/password pair.
func WithPassword(user, password string) Option {
	return func(cfg *cryptossh.ServerConfig) {
		cfg.PasswordCallback = func(c cryptossh.ConnMetadata, pass []byte) (*cryptossh.Permissions, error) {
			if c.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("sshtest: auth rejected for %q", c.User())
		}
	}
}

// WithPublicKey accepts exactly one username/authorized key pair.
func WithPublicKey(user string, authorized cryptossh.PublicKey) Option {
	return func(cfg *cryptossh.ServerConfig) {
		cfg.PublicKeyCallback = func(c cryptossh.ConnMetadata, key cryptossh.PublicKey) (*cryptossh.Permissions, error) {
			if c.User() == user && string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("sshtest: key rejected for %q", c.User())
		}
	}
}

// New starts a test SSH server on an ephemeral localhost port, running
// shell (e.g. "/bin/sh") inside a PTY for every accepted session.
func New(hostKey cryptossh.Signer, shell string, opts ...Option) (*Server, error) {
	cfg := &cryptossh.ServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{Addr: ln.Addr().String(), listener: ln, config: cfg, shell: shell}
	go s.serve()
	return s, nil
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	sconn, chans, reqs, err := cryptossh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go cryptossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(cryptossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch cryptossh.Channel, requests <-chan *cryptossh.Request) {
	defer ch.Close()

	var ptmx *os.File
	cmd := exec.Command(s.shell)

	for req := range requests {
		switch req.Type {
		case "pty-req":
			f, err := pty.Start(cmd)
			if err != nil {
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
				return
			}
			ptmx = f
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "shell":
			if ptmx == nil {
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
				continue
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			pipeSession(ch, ptmx, cmd)
			return
		case "window-change":
			if ptmx != nil && len(req.Payload) >= 16 {
				cols := binary.BigEndian.Uint32(req.Payload[0:4])
				rows := binary.BigEndian.Uint32(req.Payload[4:8])
				_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
	if ptmx != nil {
		_ = ptmx.Close()
		_ = cmd.Process.Kill()
	}
}

// pipeSession bridges the SSH channel and the PTY until either side closes,
// then releases the child process. It blocks until the PTY→channel copy
// ends, at which point the caller (handleSession) returns and closes ch.
func pipeSession(ch cryptossh.Channel, ptmx *os.File, cmd *exec.Cmd) {
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(ch, ptmx)
		close(done)
	}()
	go func() {
		_, _ = io.Copy(ptmx, ch)
	}()
	<-done
	_ = ptmx.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
}

package sshdial

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/websoft9/sshrelay/internal/sshdial/sshtest"
)

func startTestServer(t *testing.T, opts ...sshtest.Option) *sshtest.Server {
	t.Helper()
	hostKey, err := sshtest.NewHostKey()
	require.NoError(t, err)
	srv, err := sshtest.New(hostKey, "/bin/sh", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestDialPasswordAuthHappyPath(t *testing.T) {
	srv := startTestServer(t, sshtest.WithPassword("ada", "s3cret"))
	host, port := splitHostPort(t, srv.Addr)

	d := New("", 5*time.Second)
	stream, err := d.Dial(context.Background(), Endpoint{Host: host, Port: port, User: "ada"},
		ClientAuth{Password: "s3cret"}, 80, 24)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Write([]byte("echo hi\n"))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestDialWrongPasswordIsAuthFailed(t *testing.T) {
	srv := startTestServer(t, sshtest.WithPassword("ada", "s3cret"))
	host, port := splitHostPort(t, srv.Addr)

	d := New("", 5*time.Second)
	_, err := d.Dial(context.Background(), Endpoint{Host: host, Port: port, User: "ada"},
		ClientAuth{Password: "wrong"}, 80, 24)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDialNoCredentialsIsAuthFailed(t *testing.T) {
	srv := startTestServer(t, sshtest.WithPassword("ada", "s3cret"))
	host, port := splitHostPort(t, srv.Addr)

	d := New("", 5*time.Second)
	_, err := d.Dial(context.Background(), Endpoint{Host: host, Port: port, User: "ada"},
		ClientAuth{}, 80, 24)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDialUnreachableHost(t *testing.T) {
	d := New("", 500*time.Millisecond)
	_, err := d.Dial(context.Background(), Endpoint{Host: "127.0.0.1", Port: 1, User: "ada"},
		ClientAuth{Password: "x"}, 80, 24)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestDialHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New("", 0)
	_, err := d.Dial(ctx, Endpoint{Host: "127.0.0.1", Port: 1, User: "ada"},
		ClientAuth{Password: "x"}, 80, 24)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoubleCloseIsNoOp(t *testing.T) {
	srv := startTestServer(t, sshtest.WithPassword("ada", "s3cret"))
	host, port := splitHostPort(t, srv.Addr)

	d := New("", 5*time.Second)
	stream, err := d.Dial(context.Background(), Endpoint{Host: host, Port: port, User: "ada"},
		ClientAuth{Password: "s3cret"}, 80, 24)
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}

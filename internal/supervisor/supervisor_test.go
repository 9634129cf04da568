package supervisor

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/websoft9/sshrelay/internal/admission"
	"github.com/websoft9/sshrelay/internal/audit"
	"github.com/websoft9/sshrelay/internal/authn"
	"github.com/websoft9/sshrelay/internal/relay"
	"github.com/websoft9/sshrelay/internal/sshdial"
	"github.com/websoft9/sshrelay/internal/target"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestServerAcceptsUpgradeAndRejectsUnknownTarget(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(dataDir+"/targets.json", []byte("[]"), 0o644))

	logger := log.New(os.Stderr, "[supervisor-test] ", 0)
	r := &relay.Relay{
		Targets:   target.New(dataDir, logger),
		Verifier:  authn.New(false, ""),
		Admission: admission.New(nil),
		Dialer:    sshdial.New("", 2*time.Second),
		Audit:     audit.New(logger),
		Logger:    logger,
	}

	port := freePort(t)
	srv := &Server{ListenAddr: "127.0.0.1:" + strconv.Itoa(port), Relay: r, Logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	var conn *websocket.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, _, err = websocket.DefaultDialer.Dial("ws://127.0.0.1:"+strconv.Itoa(port)+"/ws/ssh", nil)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	body, _ := json.Marshal(map[string]any{"serverId": "missing", "cols": 80, "rows": 24})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, body))

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "1008") || websocket.IsCloseError(err, 1008))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after context cancellation")
	}
}

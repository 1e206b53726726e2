package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	horghirc "github.com/horgh/irc"
)

// startWSServer brings up a server with a WebSocket listener on a
// random port and tears it down with the test.
func startWSServer(t *testing.T) string {
	t.Helper()

	cfg := defaultConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = "0"
	cfg.WSListen = "127.0.0.1:0"

	p := newPerch(cfg, newACL(), zerolog.Nop())
	require.NoError(t, p.listen())

	done := make(chan struct{})
	go func() {
		p.serve()
		close(done)
	}()

	t.Cleanup(func() {
		p.shutdown()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return p.WSListener.Addr().String()
}

// waitForWSCommand reads text frames until one carries the wanted
// command, answering PINGs along the way.
func waitForWSCommand(t *testing.T, conn net.Conn,
	command string) horghirc.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		payload, err := wsutil.ReadServerText(conn)
		require.NoError(t, err)

		m, err := horghirc.ParseMessage(string(payload) + "\r\n")
		require.NoError(t, err)

		if m.Command == "PING" {
			require.NoError(t, wsutil.WriteClientText(conn,
				[]byte("PONG "+m.Params[0])))
			continue
		}
		if m.Command == command {
			return m
		}
	}
}

func TestWebSocketRegistration(t *testing.T) {
	addr := startWSServer(t)

	conn, _, _, err := ws.Dial(context.Background(), "ws://"+addr+"/")
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()

	// One frame per line, no CRLF on the wire.
	require.NoError(t, wsutil.WriteClientText(conn, []byte("NICK wendy")))
	require.NoError(t, wsutil.WriteClientText(conn,
		[]byte("USER wendy localhost * :Wendy W")))

	welcome := waitForWSCommand(t, conn, "001")
	require.NotEmpty(t, welcome.Params)
	assert.Equal(t, "wendy", welcome.Params[0])
	waitForWSCommand(t, conn, "376")

	// Past the transport a WS session is an ordinary client.
	require.NoError(t, wsutil.WriteClientText(conn, []byte("JOIN #ws")))
	joined := waitForWSCommand(t, conn, "JOIN")
	assert.Equal(t, "wendy", joined.SourceNick())

	names := waitForWSCommand(t, conn, "353")
	require.NotEmpty(t, names.Params)
	assert.Equal(t, "@wendy", names.Params[len(names.Params)-1])
	waitForWSCommand(t, conn, "366")
}

package main

import (
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	horghirc "github.com/horgh/irc"

	"github.com/perchirc/perch/internal/harness"
)

// startServer brings up a server on a random port and tears it down
// with the test.
func startServer(t *testing.T, name, aclText string) (*Perch, uint16) {
	t.Helper()

	cfg := defaultConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = "0"
	cfg.ServerName = name

	acl := newACL()
	if aclText != "" {
		var err error
		acl, err = parseACL(strings.NewReader(aclText))
		require.NoError(t, err)
	}

	p := newPerch(cfg, acl, zerolog.Nop())
	require.NoError(t, p.listen())

	port := uint16(p.Listener.Addr().(*net.TCPAddr).Port)

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

	return p, port
}

// startClient connects and registers a harness client, stopping it with
// the test.
func startClient(t *testing.T, nick string, port uint16) (*harness.Client,
	<-chan horghirc.Message, chan<- horghirc.Message) {
	t.Helper()

	client := harness.NewClient(nick, "127.0.0.1", port)
	recv, send, _, err := client.Start()
	require.NoError(t, err)
	t.Cleanup(client.Stop)

	return client, recv, send
}

// waitForCommand reads messages until one with the given command
// arrives.
func waitForCommand(t *testing.T, recv <-chan horghirc.Message,
	command string) horghirc.Message {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case m, ok := <-recv:
			require.True(t, ok, "receive channel closed waiting for %s", command)
			if m.Command == command {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", command)
		}
	}
}

// drain returns everything currently queued without blocking further.
func drain(recv <-chan horghirc.Message) []horghirc.Message {
	var messages []horghirc.Message
	for {
		select {
		case m, ok := <-recv:
			if !ok {
				return messages
			}
			messages = append(messages, m)
		default:
			return messages
		}
	}
}

func TestE2ERegistration(t *testing.T) {
	_, port := startServer(t, "perch.localhost", "")

	_, recv, _ := startClient(t, "alice", port)

	welcome := waitForCommand(t, recv, "001")
	require.NotEmpty(t, welcome.Params)
	assert.Equal(t, "alice", welcome.Params[0])

	waitForCommand(t, recv, "376")
}

func TestE2EDuplicateNick(t *testing.T) {
	_, port := startServer(t, "perch.localhost", "")

	_, recv1, _ := startClient(t, "alice", port)
	waitForCommand(t, recv1, "001")

	_, recv2, _ := startClient(t, "alice", port)
	collision := waitForCommand(t, recv2, "436")
	require.True(t, len(collision.Params) >= 2)
	assert.Equal(t, "alice", collision.Params[1])
}

func TestE2EChannelBroadcast(t *testing.T) {
	_, port := startServer(t, "perch.localhost", "")

	_, recvAlice, sendAlice := startClient(t, "alice", port)
	waitForCommand(t, recvAlice, "001")
	_, recvBob, sendBob := startClient(t, "bob", port)
	waitForCommand(t, recvBob, "001")

	sendAlice <- horghirc.Message{Command: "JOIN", Params: []string{"#test"}}
	waitForCommand(t, recvAlice, "366")

	sendBob <- horghirc.Message{Command: "JOIN", Params: []string{"#test"}}
	waitForCommand(t, recvBob, "366")

	// alice sees bob join.
	joined := waitForCommand(t, recvAlice, "JOIN")
	assert.Equal(t, "bob", joined.SourceNick())

	sendBob <- horghirc.Message{
		Command: "PRIVMSG",
		Params:  []string{"#test", "hello channel"},
	}

	m := waitForCommand(t, recvAlice, "PRIVMSG")
	assert.Equal(t, "bob", m.SourceNick())
	assert.Equal(t, "hello channel", m.Params[1])

	// No echo back to the sender.
	time.Sleep(200 * time.Millisecond)
	for _, m := range drain(recvBob) {
		assert.NotEqual(t, "PRIVMSG", m.Command)
	}
}

// linkServers makes the server on operPort dial the one listening on
// targetPort, driven by an oper the way a deployment would do it.
func linkServers(t *testing.T, operNick string, operPort,
	targetPort uint16) {
	t.Helper()

	_, recv, send := startClient(t, operNick, operPort)
	waitForCommand(t, recv, "001")

	send <- horghirc.Message{Command: "OPER",
		Params: []string{"root", "operpass"}}
	waitForCommand(t, recv, "381")

	send <- horghirc.Message{Command: "CONNECT",
		Params: []string{"127.0.0.1", strconv.Itoa(int(targetPort))}}
}

const operACL = `
C:127.0.0.1:linkpass
O:root:operpass
`

func TestE2EFederation(t *testing.T) {
	pNorth, northPort := startServer(t, "north.example.com",
		operACL+"N:south.example.com:linkpass\n")
	pSouth, southPort := startServer(t, "south.example.com",
		"N:north.example.com:linkpass\n")

	linkServers(t, "root", northPort, southPort)

	require.Eventually(t, func() bool {
		_, exists := pSouth.Users.GetServer("north.example.com")
		return exists
	}, 10*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		_, exists := pNorth.Users.GetServer("south.example.com")
		return exists
	}, 10*time.Second, 50*time.Millisecond)
}

func TestE2ECrossServerMessage(t *testing.T) {
	pNorth, northPort := startServer(t, "north.example.com",
		operACL+"N:south.example.com:linkpass\n")
	_, southPort := startServer(t, "south.example.com",
		"N:north.example.com:linkpass\n")

	_, recvAlice, sendAlice := startClient(t, "alice", northPort)
	waitForCommand(t, recvAlice, "001")
	_, recvBob, _ := startClient(t, "bob", southPort)
	waitForCommand(t, recvBob, "001")

	linkServers(t, "root", northPort, southPort)

	// Wait until north has learned about bob over the link.
	require.Eventually(t, func() bool {
		_, exists := pNorth.Users.GetUser("bob")
		return exists
	}, 10*time.Second, 50*time.Millisecond)

	sendAlice <- horghirc.Message{
		Command: "PRIVMSG",
		Params:  []string{"bob", "hello across"},
	}

	m := waitForCommand(t, recvBob, "PRIVMSG")
	assert.Equal(t, "alice", m.SourceNick())
	assert.Equal(t, "hello across", m.Params[1])

	// Exactly once.
	time.Sleep(200 * time.Millisecond)
	for _, m := range drain(recvBob) {
		assert.NotEqual(t, "PRIVMSG", m.Command)
	}
}

func TestE2EThreeNodeRelay(t *testing.T) {
	pA, aPort := startServer(t, "a.example.com",
		operACL+"N:b.example.com:linkpass\n")
	_, bPort := startServer(t, "b.example.com",
		"N:a.example.com:linkpass\nN:c.example.com:linkpass\n")
	pC, cPort := startServer(t, "c.example.com",
		operACL+"N:b.example.com:linkpass\n")

	// A and C both dial the hub B.
	linkServers(t, "root", aPort, bPort)
	linkServers(t, "rooter", cPort, bPort)

	require.Eventually(t, func() bool {
		_, exists := pA.Users.GetServer("c.example.com")
		return exists
	}, 10*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		_, exists := pC.Users.GetServer("a.example.com")
		return exists
	}, 10*time.Second, 50*time.Millisecond)

	_, recvAlice, sendAlice := startClient(t, "alice", aPort)
	waitForCommand(t, recvAlice, "001")
	_, recvCarol, sendCarol := startClient(t, "carol", cPort)
	waitForCommand(t, recvCarol, "001")

	sendCarol <- horghirc.Message{Command: "JOIN", Params: []string{"#test"}}
	waitForCommand(t, recvCarol, "366")

	sendAlice <- horghirc.Message{Command: "JOIN", Params: []string{"#test"}}
	waitForCommand(t, recvAlice, "366")

	// carol sees alice's join once it has crossed both links.
	joined := waitForCommand(t, recvCarol, "JOIN")
	assert.Equal(t, "alice", joined.SourceNick())

	sendAlice <- horghirc.Message{
		Command: "PRIVMSG",
		Params:  []string{"#test", "through the tree"},
	}

	m := waitForCommand(t, recvCarol, "PRIVMSG")
	assert.Equal(t, "alice", m.SourceNick())
	assert.Equal(t, "through the tree", m.Params[1])

	// Delivered exactly once, and never echoed back to the sender.
	time.Sleep(300 * time.Millisecond)
	for _, m := range drain(recvCarol) {
		assert.NotEqual(t, "PRIVMSG", m.Command)
	}
	for _, m := range drain(recvAlice) {
		assert.NotEqual(t, "PRIVMSG", m.Command)
	}
}

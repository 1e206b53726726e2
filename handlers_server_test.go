package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchirc/perch/irc"
)

func newLinkedPerch(t *testing.T) *Perch {
	t.Helper()

	p := newTestPerch()

	acl, err := parseACL(strings.NewReader(`
N:south.example.com:linkpass
N:east.example.com:linkpass
O:root:operpass
`))
	require.NoError(t, err)
	p.ACL = acl

	return p
}

// linkPeer registers a client as a peer server and drains its queue.
func linkPeer(t *testing.T, p *Perch, c *client, name string) {
	t.Helper()

	send(t, p, c, "PASS linkpass")
	send(t, p, c, "SERVER "+name+" 1 :test node")

	sess := p.Sessions.Get(c.ID)
	require.NotNil(t, sess)
	require.Equal(t, SessionServer, sess.Type)
	queuedMessages(c)
}

func TestServerHandshake(t *testing.T) {
	p := newLinkedPerch(t)

	alice := newTestClient(p)
	register(t, p, alice, "alice")

	east := newTestClient(p)
	linkPeer(t, p, east, "east.example.com")

	south := newTestClient(p)
	send(t, p, south, "PASS linkpass")
	send(t, p, south, "SERVER south.example.com 1 :southern node")

	got := queuedMessages(south)
	require.Len(t, got, 4)

	// Our own introduction first.
	assert.Equal(t, "PASS", got[0].Command)
	assert.Equal(t, "linkpass", got[0].Get("password"))
	assert.Equal(t, "SERVER", got[1].Command)
	assert.Equal(t, p.Config.ServerName, got[1].Get("name"))
	assert.Equal(t, "1", got[1].Get("hops"))

	// Then the burst: the other server one hop further, and the local
	// user.
	assert.Equal(t, "SERVER", got[2].Command)
	assert.Equal(t, "east.example.com", got[2].Get("name"))
	assert.Equal(t, "2", got[2].Get("hops"))

	assert.Equal(t, "NICK", got[3].Command)
	assert.Equal(t, "alice", got[3].Get("nick"))
	assert.Equal(t, "1", got[3].Get("hops"))

	// The existing peer hears about the new link with the hop count
	// bumped.
	got = queuedMessages(east)
	require.Len(t, got, 1)
	assert.Equal(t, "SERVER", got[0].Command)
	assert.Equal(t, "south.example.com", got[0].Get("name"))
	assert.Equal(t, "2", got[0].Get("hops"))
}

func TestServerBadPassword(t *testing.T) {
	p := newLinkedPerch(t)

	south := newTestClient(p)
	send(t, p, south, "PASS wrong")
	send(t, p, south, "SERVER south.example.com 1 :southern node")

	got := queuedMessages(south)
	require.Len(t, got, 2)
	assert.Equal(t, irc.ErrPasswdMismatch, got[0].Command)
	assert.Equal(t, "ERROR", got[1].Command)

	_, exists := p.Clients[south.ID]
	assert.False(t, exists)
	_, exists = p.Users.GetServer("south.example.com")
	assert.False(t, exists)
}

func TestServerUnknownName(t *testing.T) {
	p := newLinkedPerch(t)

	c := newTestClient(p)
	send(t, p, c, "PASS linkpass")
	send(t, p, c, "SERVER unknown.example.com 1 :mystery node")

	got := queuedMessages(c)
	require.Len(t, got, 2)
	assert.Equal(t, irc.ErrPasswdMismatch, got[0].Command)
}

func TestRelayedUserAnnouncement(t *testing.T) {
	p := newLinkedPerch(t)

	south := newTestClient(p)
	linkPeer(t, p, south, "south.example.com")
	east := newTestClient(p)
	linkPeer(t, p, east, "east.example.com")
	queuedMessages(south)

	send(t, p, south, "NICK bob 1")

	principal, exists := p.Users.GetUser("bob")
	require.True(t, exists)
	ext := principal.(*ExternalUser)
	assert.Equal(t, 1, ext.Hops)
	assert.Equal(t, "south.example.com", ext.Location)

	// Forwarded to the other peer, one hop further, never back to the
	// origin.
	got := queuedMessages(east)
	require.Len(t, got, 1)
	assert.Equal(t, "NICK", got[0].Command)
	assert.Equal(t, "2", got[0].Get("hops"))
	assert.Empty(t, queuedMessages(south))
}

func TestRelayedChannelMessage(t *testing.T) {
	p := newLinkedPerch(t)

	alice := newTestClient(p)
	register(t, p, alice, "alice")

	south := newTestClient(p)
	linkPeer(t, p, south, "south.example.com")
	east := newTestClient(p)
	linkPeer(t, p, east, "east.example.com")
	queuedMessages(south)

	send(t, p, south, "NICK bob 1")
	queuedMessages(east)

	send(t, p, alice, "JOIN #test")
	queuedMessages(alice)
	queuedMessages(south)
	queuedMessages(east)

	send(t, p, south, ":bob JOIN #test")
	queuedMessages(alice)
	queuedMessages(east)

	send(t, p, south, ":bob PRIVMSG #test :hello from afar")

	got := queuedMessages(alice)
	require.Len(t, got, 1)
	assert.Equal(t, "PRIVMSG", got[0].Command)
	assert.Equal(t, "bob", got[0].Prefix.Sender)
	assert.Equal(t, "hello from afar", got[0].Get("text"))

	// No echo to the arrival socket, nothing to the uninvolved peer.
	assert.Empty(t, queuedMessages(south))
	assert.Empty(t, queuedMessages(east))
}

func TestMembershipRelayKeepsPrefix(t *testing.T) {
	p := newLinkedPerch(t)

	alice := newTestClient(p)
	register(t, p, alice, "alice")

	south := newTestClient(p)
	linkPeer(t, p, south, "south.example.com")
	east := newTestClient(p)
	linkPeer(t, p, east, "east.example.com")
	queuedMessages(south)

	// A locally originated join crosses the links fully stamped, the
	// same nick!user@host the local members see.
	send(t, p, alice, "JOIN #test")
	queuedMessages(alice)

	for _, peer := range []*client{south, east} {
		got := queuedMessages(peer)
		require.Len(t, got, 1)
		assert.Equal(t, "JOIN", got[0].Command)
		assert.Equal(t, "alice", got[0].Prefix.Sender)
		assert.Equal(t, "alice", got[0].Prefix.User)
		assert.Equal(t, "perch.localhost", got[0].Prefix.Host)
	}

	// A relayed join keeps whatever stamp it arrived with.
	send(t, p, south, "NICK bob 1")
	queuedMessages(east)
	send(t, p, south, ":bob!bob@south.example.com JOIN #test")

	got := queuedMessages(alice)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].Prefix.Sender)
	assert.Equal(t, "south.example.com", got[0].Prefix.Host)

	got = queuedMessages(east)
	require.Len(t, got, 1)
	assert.Equal(t, "JOIN", got[0].Command)
	assert.Equal(t, "south.example.com", got[0].Prefix.Host)
}

func TestCrossServerDirectMessage(t *testing.T) {
	p := newLinkedPerch(t)

	alice := newTestClient(p)
	register(t, p, alice, "alice")

	south := newTestClient(p)
	linkPeer(t, p, south, "south.example.com")
	send(t, p, south, "NICK bob 1")

	send(t, p, alice, "PRIVMSG bob :hi bob")

	got := queuedMessages(south)
	require.Len(t, got, 1)
	assert.Equal(t, "PRIVMSG", got[0].Command)
	assert.Equal(t, "alice", got[0].Prefix.Sender)
	assert.Equal(t, "bob", got[0].Get("receiver"))
}

func TestPeerTeardown(t *testing.T) {
	p := newLinkedPerch(t)

	alice := newTestClient(p)
	register(t, p, alice, "alice")

	south := newTestClient(p)
	linkPeer(t, p, south, "south.example.com")
	east := newTestClient(p)
	linkPeer(t, p, east, "east.example.com")
	queuedMessages(south)

	// bob lives behind south; far.example.com was learned through it.
	send(t, p, south, "NICK bob 1")
	send(t, p, south, "SERVER far.example.com 2 :far node")
	send(t, p, south, ":bob JOIN #test")
	send(t, p, alice, "JOIN #test")
	queuedMessages(alice)
	queuedMessages(east)
	queuedMessages(south)

	// The link drops.
	sess := p.Sessions.Get(south.ID)
	require.NotNil(t, sess)
	p.teardownPeer(south, sess, "read error")

	// Everything behind the link is gone.
	_, exists := p.Users.GetUser("bob")
	assert.False(t, exists)
	_, exists = p.Users.GetServer("south.example.com")
	assert.False(t, exists)
	_, exists = p.Users.GetServer("far.example.com")
	assert.False(t, exists)
	_, exists = p.Clients[south.ID]
	assert.False(t, exists)

	// alice shared a channel with bob and hears the QUIT.
	got := queuedMessages(alice)
	require.Len(t, got, 1)
	assert.Equal(t, "QUIT", got[0].Command)
	assert.Equal(t, "bob", got[0].Prefix.Sender)

	// The surviving peer hears the user QUIT and both server SQUITs.
	got = queuedMessages(east)
	cs := commands(got)
	assert.Contains(t, cs, "QUIT")
	assert.Equal(t, 2, strings.Count(strings.Join(cs, " "), "SQUIT"))
}

func TestOperSquit(t *testing.T) {
	p := newLinkedPerch(t)

	oper := newTestClient(p)
	register(t, p, oper, "root")

	south := newTestClient(p)
	linkPeer(t, p, south, "south.example.com")

	// Not an oper yet.
	send(t, p, oper, "SQUIT south.example.com")
	got := queuedMessages(oper)
	require.Len(t, got, 1)
	assert.Equal(t, irc.ErrNoPrivileges, got[0].Command)

	send(t, p, oper, "OPER root operpass")
	queuedMessages(oper)

	send(t, p, oper, "SQUIT unknown.example.com")
	got = queuedMessages(oper)
	require.Len(t, got, 1)
	assert.Equal(t, irc.ErrNoSuchServer, got[0].Command)

	send(t, p, oper, "SQUIT south.example.com :done with it")

	_, exists := p.Users.GetServer("south.example.com")
	assert.False(t, exists)
	_, exists = p.Clients[south.ID]
	assert.False(t, exists)

	got = queuedMessages(south)
	require.NotEmpty(t, got)
	assert.Equal(t, "ERROR", got[0].Command)
}

func TestRelayedSquit(t *testing.T) {
	p := newLinkedPerch(t)

	south := newTestClient(p)
	linkPeer(t, p, south, "south.example.com")
	east := newTestClient(p)
	linkPeer(t, p, east, "east.example.com")
	queuedMessages(south)

	send(t, p, south, "SERVER far.example.com 2 :far node")
	queuedMessages(east)

	send(t, p, south, ":south.example.com SQUIT far.example.com :gone")

	_, exists := p.Users.GetServer("far.example.com")
	assert.False(t, exists)
	// The direct link stays up.
	_, exists = p.Users.GetServer("south.example.com")
	assert.True(t, exists)

	got := queuedMessages(east)
	require.Len(t, got, 1)
	assert.Equal(t, "SQUIT", got[0].Command)
}

func TestExternalUserQuit(t *testing.T) {
	p := newLinkedPerch(t)

	alice := newTestClient(p)
	register(t, p, alice, "alice")

	south := newTestClient(p)
	linkPeer(t, p, south, "south.example.com")
	send(t, p, south, "NICK bob 1")

	send(t, p, south, ":bob JOIN #test")
	send(t, p, alice, "JOIN #test")
	queuedMessages(alice)
	queuedMessages(south)

	send(t, p, south, ":bob QUIT :gone home")

	_, exists := p.Users.GetUser("bob")
	assert.False(t, exists)

	got := queuedMessages(alice)
	require.Len(t, got, 1)
	assert.Equal(t, "QUIT", got[0].Command)
	assert.Equal(t, "gone home", got[0].Get("message"))

	// The link itself stays up.
	_, exists = p.Users.GetServer("south.example.com")
	assert.True(t, exists)
}

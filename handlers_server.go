package main

import (
	"strconv"

	"github.com/perchirc/perch/irc"
)

// Server-to-server plumbing: the SERVER handshake with its network
// burst, and SQUIT in both its oper-issued and relayed forms.

func serverCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	name := m.Get("name")
	info := m.Get("info")
	hops, err := strconv.Atoi(m.Get("hops"))
	if err != nil || hops < 1 {
		hops = 1
	}

	// A registered peer introducing servers further away.
	if sess != nil && sess.Type == SessionServer {
		if err := p.Users.AddServer(name, hops, sess.Nickname, nil,
			info); err != nil {
			c.log.Warn().Err(err).Str("server", name).
				Msg("dropping relayed server announcement")
			return
		}
		p.broadcastServerEvent(m, c)
		return
	}

	if sess.Registered() {
		p.reply(c, sess, irc.ErrAlreadyRegistred)
		return
	}

	// A direct link registering.
	var password string
	if sess != nil {
		password = sess.Password
	}
	if !p.ACL.ValidServerPassword(name, password) {
		p.reply(c, sess, irc.ErrPasswdMismatch)
		c.maybeQueueMessage(irc.Message{
			Command: "ERROR",
			Params: []irc.Param{{Name: "text",
				Value: "Closing Link: bad server credentials"}},
		})
		p.Sessions.Remove(c.ID)
		p.destroyClient(c)
		return
	}

	if err := p.Users.AddServer(name, hops, "", c, info); err != nil {
		c.maybeQueueMessage(irc.Message{
			Command: "ERROR",
			Params: []irc.Param{{Name: "text",
				Value: "Closing Link: server name in use"}},
		})
		p.Sessions.Remove(c.ID)
		p.destroyClient(c)
		return
	}

	sess = p.Sessions.Create(c.ID, password)
	sess.Nickname = name
	sess.Hops = hops
	sess.Type = SessionServer

	c.log.Info().Str("server", name).Msg("peer link established")

	// If the peer dialed us we still owe it our own introduction.
	if !c.SentServerIntro {
		outPassword, exists := p.ACL.OutboundPassword(name)
		if !exists {
			outPassword = password
		}
		c.maybeQueueMessage(irc.Message{
			Command: "PASS",
			Params:  []irc.Param{{Name: "password", Value: outPassword}},
		})
		c.maybeQueueMessage(irc.Message{
			Command: "SERVER",
			Params: []irc.Param{
				{Name: "name", Value: p.Config.ServerName},
				{Name: "hops", Value: "1"},
				{Name: "info", Value: p.Config.ServerInfo},
			},
		})
		c.SentServerIntro = true
	}

	p.burstNetworkState(c, name)

	// Tell the rest of the tree about the new link.
	p.broadcastServerEvent(m, c)
}

// burstNetworkState sends a newly linked peer everything we know: every
// other server and every user, each one hop further away from the
// peer's point of view.
func (p *Perch) burstNetworkState(c *client, peerName string) {
	peerCanon := canonicalize(peerName)

	for _, server := range p.Users.ListServers() {
		if canonicalize(server.Nick) == peerCanon {
			continue
		}
		c.maybeQueueMessage(irc.Message{
			Command: "SERVER",
			Params: []irc.Param{
				{Name: "name", Value: server.Nick},
				{Name: "hops", Value: strconv.Itoa(server.Hops + 1)},
				{Name: "info", Value: server.Info},
			},
		})
	}

	for _, principal := range p.Users.ListUsers() {
		var nick string
		var hops int
		switch u := principal.(type) {
		case *LocalUser:
			nick = u.Nick
			hops = 1
		case *ExternalUser:
			nick = u.Nick
			hops = u.Hops + 1
		default:
			continue
		}
		c.maybeQueueMessage(irc.Message{
			Command: "NICK",
			Params: []irc.Param{
				{Name: "nick", Value: nick},
				{Name: "hops", Value: strconv.Itoa(hops)},
			},
		})
	}
}

func squitCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	name := m.Get("server")
	comment := m.Get("comment")

	// Relayed from a peer: a server somewhere in the tree went away.
	if fromPeer(sess) {
		removed := p.Users.RemoveServer(name)
		if removed == nil {
			c.log.Warn().Str("server", name).
				Msg("dropping SQUIT for unknown server")
			return
		}
		// Its users are announced separately with QUIT lines by the
		// node that saw the split.
		p.broadcastServerEvent(m, c)
		return
	}

	// Oper-issued.
	if !sess.IsOper {
		p.reply(c, sess, irc.ErrNoPrivileges)
		return
	}

	server, exists := p.Users.GetServer(name)
	if !exists {
		p.reply(c, sess, irc.ErrNoSuchServer, name)
		return
	}

	if server.Client == nil {
		p.reply(c, sess, irc.ErrNoSuchServer, name)
		return
	}

	peerSess := p.Sessions.Get(server.Client.ID)
	if peerSess == nil {
		return
	}

	if comment == "" {
		comment = "SQUIT by " + sess.Nickname
	}

	server.Client.maybeQueueMessage(irc.Message{
		Prefix:  irc.Prefix{Sender: p.Config.ServerName},
		Command: "ERROR",
		Params: []irc.Param{{Name: "text",
			Value: "Closing Link: " + comment}},
	})
	p.teardownPeer(server.Client, peerSess, comment)
}

package main

import (
	"fmt"
	"strconv"

	"github.com/perchirc/perch/irc"
)

// This file holds the handlers involved in connection registration and
// teardown: PASS, NICK, USER, SERVER, CAP, PING, PONG, QUIT, ERROR.
// Channel and messaging commands live in handlers_user.go, and the
// server-to-server plumbing in handlers_server.go.

func passCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	if sess.Registered() {
		p.reply(c, sess, irc.ErrAlreadyRegistred)
		return
	}

	sess = p.Sessions.Create(c.ID, m.Get("password"))
	sess.Password = m.Get("password")
}

// nickInUse reports whether a nick collides with anything in the shared
// namespace: a user, a server, or our own name.
func nickInUse(p *Perch, nick string) bool {
	if canonicalize(nick) == canonicalize(p.Config.ServerName) {
		return true
	}
	if _, exists := p.Users.GetUser(nick); exists {
		return true
	}
	_, exists := p.Users.GetServer(nick)
	return exists
}

func nickCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	nick := m.Get("nick")

	if sess != nil && sess.Type == SessionServer {
		nickFromServer(p, c, sess, m)
		return
	}

	if !irc.IsValidNick(nick) {
		p.reply(c, sess, irc.ErrErroneousNick, nick)
		return
	}

	// Registered local user changing nick.
	if sess.Registered() {
		renameLocalUser(p, c, sess, nick)
		return
	}

	if nickInUse(p, nick) {
		p.reply(c, sess, irc.ErrNickCollision, nick)
		return
	}

	sess = p.Sessions.Create(c.ID, "")
	sess.Nickname = nick
}

// renameLocalUser handles NICK from an already registered user: the
// whole network has to learn the new name.
func renameLocalUser(p *Perch, c *client, sess *SessionInfo,
	newNick string) {

	oldNick := sess.Nickname

	if err := p.Users.Rename(oldNick, newNick); err != nil {
		p.reply(c, sess, irc.ErrNickCollision, newNick)
		return
	}
	p.Channels.Rename(oldNick, newNick)
	sess.Nickname = newNick

	notice := irc.Message{
		Prefix:  irc.NewPrefix(oldNick, sess.Username, p.Config.ServerName),
		Command: "NICK",
		Params:  []irc.Param{{Name: "nick", Value: newNick}},
	}

	// The user itself, then everyone sharing a channel with it, each
	// local connection once.
	c.maybeQueueMessage(notice)

	told := map[*client]struct{}{c: {}}
	for _, ch := range p.Channels.All() {
		if !ch.IsMember(newNick) {
			continue
		}
		for member := range ch.Users {
			principal, exists := p.Users.GetUser(member)
			if !exists {
				continue
			}
			u, ok := principal.(*LocalUser)
			if !ok {
				continue
			}
			if _, done := told[u.Client]; done {
				continue
			}
			told[u.Client] = struct{}{}
			u.Client.maybeQueueMessage(notice)
		}
	}

	p.broadcastServerEvent(irc.Message{
		Prefix:  irc.Prefix{Sender: oldNick},
		Command: "NICK",
		Params:  []irc.Param{{Name: "nick", Value: newNick}},
	}, nil)
}

// nickFromServer handles NICK arriving over a peer link: either a new
// user somewhere on the network or a rename of one.
func nickFromServer(p *Perch, c *client, sess *SessionInfo,
	m irc.Message) {

	nick := m.Get("nick")

	// Prefixed: a rename relayed toward us.
	if !m.Prefix.IsZero() {
		oldNick := m.Prefix.Sender
		if err := p.Users.Rename(oldNick, nick); err != nil {
			c.log.Warn().Err(err).Str("old", oldNick).Str("new", nick).
				Msg("dropping relayed nick change")
			return
		}
		p.Channels.Rename(oldNick, nick)

		notice := irc.Message{
			Prefix:  irc.Prefix{Sender: oldNick},
			Command: "NICK",
			Params:  []irc.Param{{Name: "nick", Value: nick}},
		}
		told := make(map[*client]struct{})
		for _, ch := range p.Channels.All() {
			if !ch.IsMember(nick) {
				continue
			}
			for member := range ch.Users {
				principal, exists := p.Users.GetUser(member)
				if !exists {
					continue
				}
				if u, ok := principal.(*LocalUser); ok {
					if _, done := told[u.Client]; done {
						continue
					}
					told[u.Client] = struct{}{}
					u.Client.maybeQueueMessage(notice)
				}
			}
		}

		p.broadcastServerEvent(notice, c)
		return
	}

	// Unprefixed: a new user announcement. The hop count arrives
	// already measured from here; the relaying peer incremented it.
	hops, err := strconv.Atoi(m.Get("hops"))
	if err != nil || hops < 1 {
		hops = 1
	}
	if err := p.Users.AddExternal(nick, hops, sess.Nickname); err != nil {
		c.log.Warn().Err(err).Str("nick", nick).
			Msg("dropping relayed user announcement")
		return
	}

	p.broadcastServerEvent(m, c)
}

func userCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	if sess == nil || sess.Nickname == "" {
		p.reply(c, sess, irc.ErrNotRegistered)
		return
	}
	if sess.Registered() {
		p.reply(c, sess, irc.ErrAlreadyRegistred)
		return
	}

	userHost := m.Get("user") + "@" + m.Get("host")
	if !p.ACL.ValidUserPassword(userHost, sess.Password) {
		p.reply(c, sess, irc.ErrPasswdMismatch)
		quitMsg := irc.Message{Command: "ERROR",
			Params: []irc.Param{{Name: "text", Value: "Closing Link: bad password"}}}
		c.maybeQueueMessage(quitMsg)
		p.Sessions.Remove(c.ID)
		p.destroyClient(c)
		return
	}

	if err := p.Users.AddLocal(sess.Nickname, c); err != nil {
		p.reply(c, sess, irc.ErrNickCollision, sess.Nickname)
		return
	}

	sess.Username = m.Get("user")
	sess.Realname = m.Get("realname")
	sess.Type = SessionUser

	p.welcomeUser(c, sess)

	// Tell the network. A local user is zero hops from here; the
	// broadcast adds the link each copy crosses.
	p.broadcastServerEvent(irc.Message{
		Command: "NICK",
		Params: []irc.Param{
			{Name: "nick", Value: sess.Nickname},
			{Name: "hops", Value: "0"},
		},
	}, nil)
}

// welcomeUser sends the registration burst: 001 through 004, the LUSERS
// counts, and the MOTD.
func (p *Perch) welcomeUser(c *client, sess *SessionInfo) {
	p.reply(c, sess, irc.ReplyWelcome,
		fmt.Sprintf("Welcome to the Internet Relay Network %s!%s@%s",
			sess.Nickname, sess.Username, p.Config.ServerName))
	p.reply(c, sess, irc.ReplyYourHost,
		fmt.Sprintf("Your host is %s, running perch", p.Config.ServerName))
	p.reply(c, sess, irc.ReplyCreated,
		fmt.Sprintf("This server was created %s",
			p.StartTime.Format("Mon Jan 2 2006 at 15:04:05 MST")))
	p.reply(c, sess, irc.ReplyMyInfo, p.Config.ServerName, "perch", "o",
		"bko")

	p.lusersReply(c, sess)
	p.motdReply(c, sess)
}

func (p *Perch) lusersReply(c *client, sess *SessionInfo) {
	local, external := p.Users.CountUsers()
	servers := len(p.Users.ListServers()) + 1

	p.reply(c, sess, irc.ReplyLuserClient,
		fmt.Sprintf("There are %d users and 0 services on %d servers",
			local+external, servers))
	p.reply(c, sess, irc.ReplyLuserOp, "0", "operator(s) online")
	p.reply(c, sess, irc.ReplyLuserChannels,
		strconv.Itoa(p.Channels.Len()), "channels formed")
	p.reply(c, sess, irc.ReplyLuserMe,
		fmt.Sprintf("I have %d clients and %d servers", local, servers-1))
}

func (p *Perch) motdReply(c *client, sess *SessionInfo) {
	p.reply(c, sess, irc.ReplyMotdStart,
		fmt.Sprintf("- %s Message of the day - ", p.Config.ServerName))
	p.reply(c, sess, irc.ReplyMotd, fmt.Sprintf("- %s", p.Config.MOTD))
	p.reply(c, sess, irc.ReplyEndOfMotd)
}

func capCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	// Capability negotiation is not supported; clients that probe with
	// CAP fall back to plain registration.
}

func pingCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	// Answered even before registration so clients can keep their
	// connection alive during a slow handshake.
	c.maybeQueueMessage(irc.Message{
		Prefix:  irc.Prefix{Sender: p.Config.ServerName},
		Command: "PONG",
		Params:  []irc.Param{{Name: "token", Value: m.Get("token")}},
	})
}

func pongCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	// Activity bookkeeping happens in the event loop. Nothing else to
	// do.
}

func quitCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	reason := m.Get("message")
	if reason == "" {
		reason = "Client quit"
	}

	switch {
	case sess != nil && sess.Type == SessionUser:
		p.quitLocalUser(c, sess, reason)
	case sess != nil && sess.Type == SessionServer:
		// A prefixed QUIT from a peer is about a user somewhere behind
		// it, not about the link.
		if !m.Prefix.IsZero() &&
			canonicalize(m.Prefix.Sender) != canonicalize(sess.Nickname) {
			p.externalQuit(m.Prefix.Sender, reason, c)
			return
		}
		p.teardownPeer(c, sess, reason)
	default:
		p.Sessions.Remove(c.ID)
		p.destroyClient(c)
	}
}

func errorCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	if sess != nil && sess.Type == SessionServer {
		p.teardownPeer(c, sess, m.Get("text"))
		return
	}
	p.Sessions.Remove(c.ID)
	p.destroyClient(c)
}

// quitLocalUser removes a local user from everything it is part of and
// tells everyone who could see it: shared-channel members here, and the
// rest of the network through the peers.
func (p *Perch) quitLocalUser(c *client, sess *SessionInfo, reason string) {
	nick := sess.Nickname

	notice := irc.Message{
		Prefix:  irc.NewPrefix(nick, sess.Username, p.Config.ServerName),
		Command: "QUIT",
		Params:  []irc.Param{{Name: "message", Value: reason}},
	}

	told := map[*client]struct{}{c: {}}
	for _, remaining := range p.Channels.Quit(nick) {
		for _, member := range remaining {
			principal, exists := p.Users.GetUser(member)
			if !exists {
				continue
			}
			u, ok := principal.(*LocalUser)
			if !ok {
				continue
			}
			if _, done := told[u.Client]; done {
				continue
			}
			told[u.Client] = struct{}{}
			u.Client.maybeQueueMessage(notice)
		}
	}

	p.Users.Remove(nick)
	p.Sessions.Remove(c.ID)

	p.broadcastServerEvent(irc.Message{
		Prefix:  irc.Prefix{Sender: nick},
		Command: "QUIT",
		Params:  []irc.Param{{Name: "message", Value: reason}},
	}, nil)

	c.maybeQueueMessage(irc.Message{
		Prefix:  irc.Prefix{Sender: p.Config.ServerName},
		Command: "ERROR",
		Params: []irc.Param{{Name: "text",
			Value: fmt.Sprintf("Closing Link: %s", reason)}},
	})

	p.destroyClient(c)
}

// externalQuit handles a user elsewhere on the network going away.
func (p *Perch) externalQuit(nick, reason string, origin *client) {
	if _, exists := p.Users.GetUser(nick); !exists {
		return
	}
	p.Users.Remove(nick)

	notice := irc.Message{
		Prefix:  irc.Prefix{Sender: nick},
		Command: "QUIT",
		Params:  []irc.Param{{Name: "message", Value: reason}},
	}

	told := make(map[*client]struct{})
	for _, remaining := range p.Channels.Quit(nick) {
		for _, member := range remaining {
			principal, exists := p.Users.GetUser(member)
			if !exists {
				continue
			}
			if u, ok := principal.(*LocalUser); ok {
				if _, done := told[u.Client]; done {
					continue
				}
				told[u.Client] = struct{}{}
				u.Client.maybeQueueMessage(notice)
			}
		}
	}

	p.broadcastServerEvent(notice, origin)
}

// teardownPeer handles a direct peer link going away, for whatever
// reason. Everything reachable only through the link gets purged, and
// the remaining peers hear about each lost user and server.
func (p *Perch) teardownPeer(c *client, sess *SessionInfo, reason string) {
	peerName := sess.Nickname

	lostServers := p.Users.RemoveServer(peerName)
	lostUsers := p.Users.RemoveFromServer(peerName)

	for _, user := range lostUsers {
		notice := irc.Message{
			Prefix:  irc.Prefix{Sender: user.Nick},
			Command: "QUIT",
			Params: []irc.Param{{Name: "message",
				Value: fmt.Sprintf("%s split", peerName)}},
		}

		told := make(map[*client]struct{})
		for _, remaining := range p.Channels.Quit(user.Nick) {
			for _, member := range remaining {
				principal, exists := p.Users.GetUser(member)
				if !exists {
					continue
				}
				if u, ok := principal.(*LocalUser); ok {
					if _, done := told[u.Client]; done {
						continue
					}
					told[u.Client] = struct{}{}
					u.Client.maybeQueueMessage(notice)
				}
			}
		}

		p.broadcastServerEvent(notice, nil)
	}

	for _, server := range lostServers {
		p.broadcastServerEvent(irc.Message{
			Prefix:  irc.Prefix{Sender: p.Config.ServerName},
			Command: "SQUIT",
			Params: []irc.Param{
				{Name: "server", Value: server.Nick},
				{Name: "comment", Value: reason},
			},
		}, nil)
	}

	p.Sessions.Remove(c.ID)
	p.destroyClient(c)
}

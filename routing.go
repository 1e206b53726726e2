package main

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/perchirc/perch/irc"
)

// This file is the delivery plane: given a message and an addressing
// decision, pick the sockets to queue it on. The rules are:
//
//   - A message never goes back out the socket it arrived on.
//   - Channel traffic reaches each distinct socket at most once, no
//     matter how many members share it.
//   - Events relayed between servers have their hop count incremented
//     once per relay.

// reply queues a numeric reply for a local connection. The reply is
// stamped with our server name and addressed to the session's nickname,
// or "*" before one is known.
func (p *Perch) reply(c *client, sess *SessionInfo, code string,
	args ...string) {

	recipient := "*"
	if sess != nil && sess.Nickname != "" {
		recipient = sess.Nickname
	}

	m := irc.Numeric(code, recipient, args...)
	m.Prefix = irc.Prefix{Sender: p.Config.ServerName}
	c.maybeQueueMessage(m)
}

// socketForNick resolves a nickname to the socket that leads toward it:
// the user's own connection for a local user, or the direct peer link
// for an external one. It returns nil when the nick is unknown or its
// route is broken.
func (p *Perch) socketForNick(nick string) *client {
	principal, exists := p.Users.GetUser(nick)
	if !exists {
		return nil
	}

	switch u := principal.(type) {
	case *LocalUser:
		return u.Client
	case *ExternalUser:
		server, exists := p.Users.GetServer(u.Location)
		if !exists || server.Client == nil {
			p.log.Error().Str("nick", nick).Str("location", u.Location).
				Msg("external user has no route")
			return nil
		}
		return server.Client
	}

	return nil
}

// forwardToUser routes a message toward the named user, local or
// external. The caller maps the error to a numeric reply if it cares.
func (p *Perch) forwardToUser(nick string, m irc.Message) error {
	socket := p.socketForNick(nick)
	if socket == nil {
		return errNoSuchNick
	}

	socket.maybeQueueMessage(m)
	return nil
}

// sendToChannel delivers a message to a channel's members. Each
// distinct socket gets the message at most once, and the socket the
// message arrived on (senderSocket, may be nil) never gets it at all.
// Several external members reachable through the same peer link share
// one socket, so the peer decides further distribution.
func (p *Perch) sendToChannel(ch *Channel, m irc.Message,
	senderSocket *client) error {

	if m.Prefix.IsZero() {
		return errors.New("channel messages must carry a prefix")
	}
	if irc.IsNumeric(m.Command) {
		return errors.New("numeric replies cannot be sent to a channel")
	}

	sockets := make(map[*client]struct{})
	for nick := range ch.Users {
		socket := p.socketForNick(nick)
		if socket == nil || socket == senderSocket {
			continue
		}
		sockets[socket] = struct{}{}
	}

	for socket := range sockets {
		socket.maybeQueueMessage(m)
	}

	return nil
}

// notifyLocalMembers queues a message on the connection of every local
// member of the channel except the named one. Used for membership
// change notices where the actor gets its own copy separately (or none).
func (p *Perch) notifyLocalMembers(ch *Channel, m irc.Message,
	exceptNick string) {

	exceptCanon := canonicalize(exceptNick)
	for nick := range ch.Users {
		if nick == exceptCanon {
			continue
		}
		principal, exists := p.Users.GetUser(nick)
		if !exists {
			continue
		}
		if u, ok := principal.(*LocalUser); ok {
			u.Client.maybeQueueMessage(m)
		}
	}
}

// peerSockets returns the socket of every directly linked peer server.
func (p *Perch) peerSockets() []*client {
	var sockets []*client
	for _, s := range p.Users.ListServers() {
		if s.Client != nil {
			sockets = append(sockets, s.Client)
		}
	}
	return sockets
}

// broadcastServerEvent relays a state-change event to every direct peer
// except the one it arrived from (origin, nil for locally originated
// events). If the message carries a hops slot it is incremented once
// here, reflecting the extra link the copy crosses.
func (p *Perch) broadcastServerEvent(m irc.Message, origin *client) {
	if m.Has("hops") {
		// Copy the params so the increment does not reach back into the
		// caller's message.
		params := make([]irc.Param, len(m.Params))
		copy(params, m.Params)
		m.Params = params
		m.Set("hops", incrementHops(m.Get("hops")))
	}

	for _, socket := range p.peerSockets() {
		if socket == origin {
			continue
		}
		socket.maybeQueueMessage(m)
	}
}

// incrementHops adds one to a decimal hop count. A malformed count
// becomes "1", the value a freshly relayed event would carry.
func incrementHops(s string) string {
	hops, err := strconv.Atoi(s)
	if err != nil || hops < 0 {
		return "1"
	}
	return strconv.Itoa(hops + 1)
}

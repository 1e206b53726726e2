package main

import (
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/perchirc/perch/irc"
)

// Handlers for the commands users send once registered: messaging,
// channel membership, channel state, and operator actions. Each of
// these may also arrive prefixed over a peer link, in which case the
// prefix names the acting user and errors are logged rather than
// replied to.

// fromPeer reports whether the message arrived over a server link.
func fromPeer(sess *SessionInfo) bool {
	return sess.Type == SessionServer
}

// userPrefix builds the full nick!user@host prefix for a local user.
func (p *Perch) userPrefix(sess *SessionInfo) irc.Prefix {
	return irc.NewPrefix(sess.Nickname, sess.Username, p.Config.ServerName)
}

func privmsgCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	relayMessage(p, c, sess, m, "PRIVMSG", false)
}

func noticeCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	relayMessage(p, c, sess, m, "NOTICE", true)
}

// relayMessage delivers PRIVMSG/NOTICE to a channel or a single user.
// NOTICE deliberately never generates error replies.
func relayMessage(p *Perch, c *client, sess *SessionInfo, m irc.Message,
	verb string, silent bool) {

	target := m.Get("receiver")
	actor := messageActor(sess, m)

	out := irc.Message{
		Prefix:  m.Prefix,
		Command: verb,
		Params: []irc.Param{
			{Name: "receiver", Value: target},
			{Name: "text", Value: m.Get("text")},
		},
	}
	if !fromPeer(sess) {
		out.Prefix = p.userPrefix(sess)
	}

	if irc.IsValidChannel(target) {
		ch, exists := p.Channels.Get(target)
		if !exists {
			if !fromPeer(sess) && !silent {
				p.reply(c, sess, irc.ErrNoSuchChannel, target)
			}
			return
		}
		if !ch.IsMember(actor) {
			if !fromPeer(sess) && !silent {
				p.reply(c, sess, irc.ErrCannotSendToChan, target)
			}
			return
		}

		if err := p.sendToChannel(ch, out, c); err != nil {
			c.log.Error().Err(err).Str("channel", target).
				Msg("channel delivery failed")
		}
		return
	}

	if err := p.forwardToUser(target, out); err != nil {
		if fromPeer(sess) {
			c.log.Warn().Str("nick", target).Msg("dropping message for unknown user")
			return
		}
		if !silent {
			p.reply(c, sess, irc.ErrNoSuchNick, target)
		}
	}
}

func joinCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	name := m.Get("channel")
	key := m.Get("key")
	actor := messageActor(sess, m)

	ch, _, err := p.Channels.Join(name, actor, key)
	if err != nil {
		if fromPeer(sess) {
			c.log.Warn().Err(err).Str("channel", name).Str("nick", actor).
				Msg("dropping relayed join")
			return
		}
		switch err {
		case errBannedFromChan:
			p.reply(c, sess, irc.ErrBannedFromChan, name)
		case errBadChannelKey:
			p.reply(c, sess, irc.ErrBadChannelKey, name)
		case errAlreadyOnChannel:
			// RFC has no numeric for this. Silently ignore, like most
			// servers do.
		default:
			p.reply(c, sess, irc.ErrNoSuchChannel, name)
		}
		return
	}

	notice := irc.Message{
		Prefix:  m.Prefix,
		Command: "JOIN",
		Params:  []irc.Param{{Name: "channel", Value: ch.Name}},
	}
	if !fromPeer(sess) {
		notice.Prefix = p.userPrefix(sess)
	}

	p.notifyLocalMembers(ch, notice, actor)

	if !fromPeer(sess) {
		c.maybeQueueMessage(notice)

		topic := ch.Topic
		if topic == "" {
			p.reply(c, sess, irc.ReplyTopic, ch.Name)
		} else {
			p.reply(c, sess, irc.ReplyTopic, ch.Name, topic)
		}
		p.reply(c, sess, irc.ReplyNamReply, "@", ch.Name,
			strings.Join(ch.MemberNicks(), " "))
		p.reply(c, sess, irc.ReplyEndOfNames, ch.Name)
	}

	relay := notice
	if key != "" {
		relay.Params = []irc.Param{
			{Name: "channel", Value: ch.Name},
			{Name: "key", Value: key},
		}
	}
	p.broadcastServerEvent(relay, originSocket(sess, c))
}

func partCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	name := m.Get("channel")
	actor := messageActor(sess, m)

	ch, err := p.Channels.Part(name, actor)
	if err != nil {
		if fromPeer(sess) {
			c.log.Warn().Err(err).Str("channel", name).Str("nick", actor).
				Msg("dropping relayed part")
			return
		}
		if err == errNotOnChannel {
			p.reply(c, sess, irc.ErrNotOnChannel, name)
		} else {
			p.reply(c, sess, irc.ErrNoSuchChannel, name)
		}
		return
	}

	notice := irc.Message{
		Prefix:  m.Prefix,
		Command: "PART",
		Params:  []irc.Param{{Name: "channel", Value: ch.Name}},
	}
	if reason := m.Get("reason"); reason != "" {
		notice.Set("reason", reason)
	}
	if !fromPeer(sess) {
		notice.Prefix = p.userPrefix(sess)
		c.maybeQueueMessage(notice)
	}

	p.notifyLocalMembers(ch, notice, actor)

	p.broadcastServerEvent(notice, originSocket(sess, c))
}

func kickCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	name := m.Get("channel")
	target := m.Get("user")
	actor := messageActor(sess, m)

	ch, err := p.Channels.Kick(name, actor, target)
	if err != nil {
		if fromPeer(sess) {
			c.log.Warn().Err(err).Str("channel", name).Str("nick", actor).
				Msg("dropping relayed kick")
			return
		}
		switch err {
		case errNotOnChannel:
			p.reply(c, sess, irc.ErrNotOnChannel, name)
		case errChanopNeeded:
			p.reply(c, sess, irc.ErrChanOPrivsNeeded, name)
		case errUserNotInChannel:
			p.reply(c, sess, irc.ErrUserNotInChannel, target, name)
		default:
			p.reply(c, sess, irc.ErrNoSuchChannel, name)
		}
		return
	}

	notice := irc.Message{
		Prefix:  m.Prefix,
		Command: "KICK",
		Params: []irc.Param{
			{Name: "channel", Value: ch.Name},
			{Name: "user", Value: target},
		},
	}
	if comment := m.Get("comment"); comment != "" {
		notice.Set("comment", comment)
	}
	if !fromPeer(sess) {
		notice.Prefix = p.userPrefix(sess)
		c.maybeQueueMessage(notice)
	}

	// The kicked user is no longer a member, so tell it directly if it
	// is local.
	if principal, exists := p.Users.GetUser(target); exists {
		if u, ok := principal.(*LocalUser); ok {
			u.Client.maybeQueueMessage(notice)
		}
	}
	p.notifyLocalMembers(ch, notice, actor)

	p.broadcastServerEvent(notice, originSocket(sess, c))
}

func namesCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	// Lenient by intent: asking about a channel that does not exist
	// just ends the list.
	if name := m.Get("channel"); name != "" {
		if ch, exists := p.Channels.Get(name); exists {
			p.reply(c, sess, irc.ReplyNamReply, "@", ch.Name,
				strings.Join(ch.MemberNicks(), " "))
		}
		p.reply(c, sess, irc.ReplyEndOfNames, name)
		return
	}

	for _, ch := range p.Channels.All() {
		p.reply(c, sess, irc.ReplyNamReply, "@", ch.Name,
			strings.Join(ch.MemberNicks(), " "))
	}
	p.reply(c, sess, irc.ReplyEndOfNames, "*")
}

func topicCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	name := m.Get("channel")
	actor := messageActor(sess, m)

	ch, exists := p.Channels.Get(name)
	if !exists {
		if !fromPeer(sess) {
			p.reply(c, sess, irc.ErrNoSuchChannel, name)
		}
		return
	}

	// Query.
	if !m.Has("topic") {
		if ch.Topic == "" {
			p.reply(c, sess, irc.ReplyNoTopic, ch.Name)
		} else {
			p.reply(c, sess, irc.ReplyTopic, ch.Name, ch.Topic)
		}
		return
	}

	if !ch.IsMember(actor) {
		if !fromPeer(sess) {
			p.reply(c, sess, irc.ErrNotOnChannel, name)
		}
		return
	}

	topic := m.Get("topic")
	if err := p.Channels.SetTopic(name, topic); err != nil {
		return
	}

	notice := irc.Message{
		Prefix:  m.Prefix,
		Command: "TOPIC",
		Params: []irc.Param{
			{Name: "channel", Value: ch.Name},
			{Name: "topic", Value: topic},
		},
	}
	if !fromPeer(sess) {
		notice.Prefix = p.userPrefix(sess)
		c.maybeQueueMessage(notice)
	}
	p.notifyLocalMembers(ch, notice, actor)

	p.broadcastServerEvent(notice, originSocket(sess, c))
}

func modeCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	target := m.Get("target")
	actor := messageActor(sess, m)

	if !irc.IsValidChannel(target) {
		if !fromPeer(sess) {
			p.reply(c, sess, irc.ErrNoSuchChannel, target)
		}
		return
	}

	ch, exists := p.Channels.Get(target)
	if !exists {
		if !fromPeer(sess) {
			p.reply(c, sess, irc.ErrNoSuchChannel, target)
		}
		return
	}

	modes := m.Get("modes")

	// Query forms.
	if modes == "" {
		current := "+"
		if ch.Key != "" {
			current += "k"
		}
		p.reply(c, sess, irc.ReplyChannelModeIs, ch.Name, current)
		return
	}
	if (modes == "+b" || modes == "b") && m.Get("arg") == "" {
		for banned := range ch.Banned {
			p.reply(c, sess, irc.ReplyBanList, ch.Name, banned)
		}
		p.reply(c, sess, irc.ReplyEndOfBanList, ch.Name)
		return
	}

	if !fromPeer(sess) {
		if !ch.IsMember(actor) {
			p.reply(c, sess, irc.ErrNotOnChannel, target)
			return
		}
		if !ch.IsChanop(actor) {
			p.reply(c, sess, irc.ErrChanOPrivsNeeded, target)
			return
		}
	}

	arg := m.Get("arg")
	if !applyChannelMode(p, c, sess, ch, modes, arg) {
		return
	}

	notice := irc.Message{
		Prefix:  m.Prefix,
		Command: "MODE",
		Params: []irc.Param{
			{Name: "target", Value: ch.Name},
			{Name: "modes", Value: modes},
		},
	}
	if arg != "" {
		notice.Set("arg", arg)
	}
	if !fromPeer(sess) {
		notice.Prefix = p.userPrefix(sess)
		c.maybeQueueMessage(notice)
	}
	p.notifyLocalMembers(ch, notice, actor)

	p.broadcastServerEvent(notice, originSocket(sess, c))
}

// applyChannelMode mutates channel state for one mode change. It
// reports whether the change took effect and should be propagated.
func applyChannelMode(p *Perch, c *client, sess *SessionInfo, ch *Channel,
	modes, arg string) bool {

	if len(modes) != 2 || (modes[0] != '+' && modes[0] != '-') {
		if !fromPeer(sess) {
			p.reply(c, sess, irc.ErrUnknownMode, modes)
		}
		return false
	}

	err := p.Channels.ApplyMode(ch.Name, modes[0] == '+', modes[1], arg)
	if err == nil {
		return true
	}

	if fromPeer(sess) {
		c.log.Warn().Err(err).Str("channel", ch.Name).
			Msg("dropping relayed mode change")
		return false
	}

	switch err {
	case errUserNotInChannel:
		p.reply(c, sess, irc.ErrUserNotInChannel, arg, ch.Name)
	case errKeyAlreadySet:
		p.reply(c, sess, irc.ErrKeySet, ch.Name)
	case errUnknownMode:
		p.reply(c, sess, irc.ErrUnknownMode, string(modes[1]))
	default:
		p.reply(c, sess, irc.ErrNoSuchChannel, ch.Name)
	}
	return false
}

func operCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	if !p.ACL.ValidOperPassword(m.Get("user"), m.Get("password")) {
		p.reply(c, sess, irc.ErrPasswdMismatch)
		return
	}

	sess.IsOper = true
	_ = p.Users.AddOperPrivileges(sess.Nickname)
	p.reply(c, sess, irc.ReplyYoureOper)
}

func motdCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	p.motdReply(c, sess)
}

func lusersCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	p.lusersReply(c, sess)
}

func connectCommand(p *Perch, c *client, sess *SessionInfo, m irc.Message) {
	if !sess.IsOper {
		p.reply(c, sess, irc.ErrNoPrivileges)
		return
	}

	target := m.Get("target")
	if _, exists := p.ACL.OutboundPassword(target); !exists {
		p.reply(c, sess, irc.ErrNoSuchServer, target)
		return
	}

	port := m.Get("port")
	if port == "" {
		port = "6667"
	}

	if err := p.connectToServer(target, port); err != nil {
		c.log.Error().Err(err).Str("target", target).
			Msg("outbound server connection failed")
		p.reply(c, sess, irc.ErrNoSuchServer, target)
	}
}

// originSocket returns the socket an event arrived on, for echo
// suppression. Locally originated events have no origin.
func originSocket(sess *SessionInfo, c *client) *client {
	if fromPeer(sess) {
		return c
	}
	return nil
}

// connectToServer dials a peer and introduces ourselves. The rest of
// the handshake happens when the peer's PASS/SERVER arrive like any
// other messages.
func (p *Perch) connectToServer(host, port string) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port),
		5*time.Second)
	if err != nil {
		return errors.Wrapf(err, "error connecting to %s", host)
	}

	client := newClient(p, p.nextClientID(), NewConn(conn, p.Config.DeadTime))
	p.Clients[client.ID] = client

	p.WG.Add(1)
	go client.readLoop()
	p.WG.Add(1)
	go client.writeLoop()

	password, _ := p.ACL.OutboundPassword(host)
	client.maybeQueueMessage(irc.Message{
		Command: "PASS",
		Params:  []irc.Param{{Name: "password", Value: password}},
	})
	client.maybeQueueMessage(irc.Message{
		Command: "SERVER",
		Params: []irc.Param{
			{Name: "name", Value: p.Config.ServerName},
			{Name: "hops", Value: "1"},
			{Name: "info", Value: p.Config.ServerInfo},
		},
	})
	client.SentServerIntro = true

	return nil
}

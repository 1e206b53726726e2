package main

import (
	"github.com/perchirc/perch/irc"
)

// commandHandler binds a verb to its handler. Handlers marked
// mustRegister reject unregistered connections with ERR_NOTREGISTERED
// before the handler runs.
type commandHandler struct {
	fn func(p *Perch, c *client, sess *SessionInfo, m irc.Message)

	mustRegister bool
}

var commandHandlers = map[string]commandHandler{
	"PASS":   {fn: passCommand},
	"NICK":   {fn: nickCommand},
	"USER":   {fn: userCommand},
	"SERVER": {fn: serverCommand},
	"CAP":    {fn: capCommand},
	"QUIT":   {fn: quitCommand},
	"PING":   {fn: pingCommand},
	"PONG":   {fn: pongCommand},
	"ERROR":  {fn: errorCommand},

	"PRIVMSG": {fn: privmsgCommand, mustRegister: true},
	"NOTICE":  {fn: noticeCommand, mustRegister: true},
	"JOIN":    {fn: joinCommand, mustRegister: true},
	"PART":    {fn: partCommand, mustRegister: true},
	"KICK":    {fn: kickCommand, mustRegister: true},
	"NAMES":   {fn: namesCommand, mustRegister: true},
	"TOPIC":   {fn: topicCommand, mustRegister: true},
	"MODE":    {fn: modeCommand, mustRegister: true},
	"OPER":    {fn: operCommand, mustRegister: true},
	"MOTD":    {fn: motdCommand, mustRegister: true},
	"LUSERS":  {fn: lusersCommand, mustRegister: true},
	"CONNECT": {fn: connectCommand, mustRegister: true},
	"SQUIT":   {fn: squitCommand, mustRegister: true},
}

// handleMessage is the single entry point for every message a
// connection sends us. Only the dispatcher goroutine calls it.
func (p *Perch) handleMessage(c *client, m irc.Message, parseErr error) {
	sess := p.Sessions.Get(c.ID)

	// Numeric replies arriving from a peer are informational. We don't
	// act on them.
	if irc.IsNumeric(m.Command) {
		c.log.Debug().Str("command", m.Command).Msg("dropping numeric reply")
		return
	}

	handler, known := commandHandlers[m.Command]
	if !known {
		c.log.Warn().Str("command", m.Command).Msg("dropping unknown command")
		return
	}

	if parseErr != nil {
		// The reader only forwards missing-parameter errors; anything
		// else was dropped there.
		if m.Command == "NICK" {
			p.reply(c, sess, irc.ErrNoNicknameGiven)
			return
		}
		p.reply(c, sess, irc.ErrNeedMoreParams, m.Command)
		return
	}

	if handler.mustRegister && !sess.Registered() {
		p.reply(c, sess, irc.ErrNotRegistered)
		return
	}

	handler.fn(p, c, sess, m)
}

// messageActor resolves who a message is about. For a user connection
// that is the user itself. A peer server speaks for many principals: a
// prefixed message is about the prefix's sender, an unprefixed one is
// about the peer itself.
func messageActor(sess *SessionInfo, m irc.Message) string {
	if sess.Type == SessionServer && !m.Prefix.IsZero() {
		return m.Prefix.Sender
	}
	return sess.Nickname
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/perchirc/perch/irc"
)

// client holds state about one open connection. Every connection is a
// client regardless of what it registers as; the session table and the
// registries say whether it is a user or a peer server.
type client struct {
	// Conn is the transport to the remote side.
	Conn lineConn

	// Locally unique identifier.
	ID uint64

	// WriteChan is the channel to send to to write to the client.
	WriteChan chan irc.Message

	ConnectionStartTime time.Time

	// The last time we heard anything from the client. Only the
	// dispatcher goroutine touches these.
	LastActivityTime time.Time

	// The last time we sent the client a PING.
	LastPingTime time.Time

	// Set once we send our PASS/SERVER introduction on this connection,
	// so we do not introduce ourselves twice during a peering handshake.
	SentServerIntro bool

	// Track if we overflow our send queue. If we do, we'll kill the
	// client.
	SendQueueExceeded bool

	Perch *Perch

	log zerolog.Logger
}

func newClient(p *Perch, id uint64, conn lineConn) *client {
	now := time.Now()

	return &client{
		Conn: conn,
		ID:   id,

		// Buffered channel. We don't want to block sending to the client
		// from the server. The client may be stuck. Make the buffer large
		// enough that it should only max out in case of connection
		// issues.
		WriteChan: make(chan irc.Message, 32768),

		ConnectionStartTime: now,
		LastActivityTime:    now,
		LastPingTime:        now,
		Perch:               p,
		log: p.log.With().Uint64("client", id).
			Str("addr", conn.RemoteAddr().String()).Logger(),
	}
}

func (c *client) String() string {
	return fmt.Sprintf("%d %s", c.ID, c.Conn.RemoteAddr())
}

// maybeQueueMessage sends a message to the client by way of its write
// channel, which in turn leads to writing it to its socket.
//
// This function won't block. If the client's queue is full, we flag it
// as having a full send queue and it will be torn down on the next
// bookkeeping pass. Not blocking is important because the dispatcher
// sends every client its messages this way, and if we blocked on a
// problem client everything would grind to a halt.
func (c *client) maybeQueueMessage(m irc.Message) {
	if c.SendQueueExceeded {
		return
	}

	select {
	case c.WriteChan <- m:
		metricMessagesOut.Inc()
	default:
		c.SendQueueExceeded = true
	}
}

// readLoop endlessly reads from the client's connection. It parses each
// IRC protocol message and passes it to the server through the server's
// channel.
func (c *client) readLoop() {
	defer c.Perch.WG.Done()

	for {
		if c.Perch.isShuttingDown() {
			break
		}

		buf, err := c.Conn.Read()
		if err != nil {
			c.log.Debug().Err(err).Msg("read error")
			c.Perch.newEvent(Event{Type: DeadClientEvent, Client: c, Err: err})
			break
		}

		metricMessagesIn.Inc()

		message, err := irc.ParseMessage(buf)
		if err != nil {
			// A message missing required parameters still identifies its
			// command; the dispatcher turns it into a numeric reply. Other
			// malformed messages are dropped silently.
			if _, missing := err.(*irc.MissingParamsError); !missing {
				c.log.Warn().Err(err).
					Str("line", strings.TrimRight(buf, "\r\n")).
					Msg("invalid message")
				continue
			}
		}

		c.Perch.newEvent(Event{
			Type:    MessageFromClientEvent,
			Client:  c,
			Message: message,
			Err:     err,
		})
	}

	c.log.Debug().Msg("reader shutting down")
}

// writeLoop endlessly reads from the client's channel, encodes each
// message, and writes it to the client's connection.
//
// When the channel is closed, or if we have a write error, close the
// connection. This way we try to deliver messages to the client before
// closing its socket and giving up.
func (c *client) writeLoop() {
	defer c.Perch.WG.Done()

	// Ensure we also stop if the server is shutting down, so we do not
	// leak this goroutine when the server never saw the client and so
	// never closes its write channel.
Loop:
	for {
		select {
		case message, ok := <-c.WriteChan:
			if !ok {
				break Loop
			}

			if err := c.writeMessage(message); err != nil {
				c.log.Debug().Err(err).Msg("write error")
				c.Perch.newEvent(Event{Type: DeadClientEvent, Client: c, Err: err})
				break Loop
			}
		case <-c.Perch.ShutdownChan:
			break Loop
		}
	}

	if err := c.Conn.Close(); err != nil {
		c.log.Debug().Err(err).Msg("problem closing connection")
	}

	c.log.Debug().Msg("writer shutting down")
}

// writeMessage encodes and writes one message. A truncated encode still
// goes out; everything else unencodable is an error.
func (c *client) writeMessage(m irc.Message) error {
	buf, err := m.Encode()
	if err != nil && err != irc.ErrTruncated {
		return err
	}

	return c.Conn.Write(buf)
}

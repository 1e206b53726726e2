package main

import (
	"io"
	"net"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"
)

// wsConn adapts an upgraded WebSocket connection to lineConn. Each text
// frame carries one IRC line; the CRLF terminator is optional on the
// wire and repaired on read.
type wsConn struct {
	conn   net.Conn
	ioWait time.Duration
}

func newWSConn(conn net.Conn, ioWait time.Duration) wsConn {
	return wsConn{conn: conn, ioWait: ioWait}
}

func (c wsConn) Close() error {
	return c.conn.Close()
}

func (c wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Read reads one frame and returns its payload as a line.
func (c wsConn) Read() (string, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.ioWait))

	reader := wsutil.NewReader(c.conn, ws.StateServerSide)

	for {
		header, err := reader.NextFrame()
		if err != nil {
			return "", errors.Wrap(err, "error reading frame")
		}

		if header.OpCode == ws.OpClose {
			return "", errors.Wrap(net.ErrClosed, "close frame")
		}

		if header.OpCode == ws.OpPing {
			payload, err := io.ReadAll(reader)
			if err != nil {
				return "", errors.Wrap(err, "error reading ping payload")
			}
			if err := ws.WriteFrame(c.conn,
				ws.NewPongFrame(payload)); err != nil {
				return "", errors.Wrap(err, "error writing pong")
			}
			continue
		}

		payload, err := io.ReadAll(reader)
		if err != nil {
			return "", errors.Wrap(err, "error reading payload")
		}

		line := string(payload)
		if !strings.HasSuffix(line, "\n") {
			line += "\r\n"
		}

		return line, nil
	}
}

// Write sends the line as a single text frame, without the CRLF.
func (c wsConn) Write(s string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioWait)); err != nil {
		return errors.Wrap(err, "error setting write deadline")
	}

	s = strings.TrimRight(s, "\r\n")

	frame := ws.NewFrame(ws.OpText, true, []byte(s))
	if err := ws.WriteFrame(c.conn, frame); err != nil {
		return errors.Wrap(err, "error writing frame")
	}

	return nil
}

// acceptWS accepts WebSocket connections, performs the RFC 6455
// handshake, and hands the connection to the usual client pipeline.
func (p *Perch) acceptWS() {
	defer p.WG.Done()

	upgrader := ws.Upgrader{}

	for {
		if p.isShuttingDown() {
			break
		}

		conn, err := p.WSListener.Accept()
		if err != nil {
			if p.isShuttingDown() {
				break
			}
			p.log.Error().Err(err).Msg("failed to accept WebSocket connection")
			continue
		}

		if _, err := upgrader.Upgrade(conn); err != nil {
			p.log.Warn().Err(err).
				Str("addr", conn.RemoteAddr().String()).
				Msg("failed to upgrade WebSocket connection")
			_ = conn.Close()
			continue
		}

		metricConnections.Inc()

		client := newClient(p, p.nextClientID(),
			newWSConn(conn, p.Config.DeadTime))

		p.newEvent(Event{Type: NewClientEvent, Client: client})

		p.WG.Add(1)
		go client.readLoop()
		p.WG.Add(1)
		go client.writeLoop()
	}

	p.log.Info().Msg("WebSocket accepter shutting down")
}

package main

import (
	"bufio"
	"net"
	"time"

	"github.com/pkg/errors"
)

// lineConn is a connection carrying CRLF delimited protocol lines. The
// TCP and WebSocket transports both implement it, so everything past
// the accept loop treats them the same.
type lineConn interface {
	// Read reads one line, including its terminator.
	Read() (string, error)

	// Write writes a raw encoded line.
	Write(s string) error

	Close() error

	RemoteAddr() net.Addr
}

// Conn is a TCP connection to a client or a peer server.
type Conn struct {
	conn   net.Conn
	rw     *bufio.ReadWriter
	ioWait time.Duration
}

// NewConn initializes a Conn struct.
func NewConn(conn net.Conn, ioWait time.Duration) Conn {
	return Conn{
		conn:   conn,
		rw:     bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		ioWait: ioWait,
	}
}

// Close closes the underlying connection.
func (c Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote network address.
func (c Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Read reads a line from the connection.
func (c Conn) Read() (string, error) {
	// Do not treat a deadline error as fatal. There can be something
	// available to read in the buffer which we want to see.
	_ = c.conn.SetReadDeadline(time.Now().Add(c.ioWait))

	line, err := c.rw.ReadString('\n')
	if err != nil {
		// There may be something read even with error.
		return line, errors.Wrap(err, "error reading")
	}

	return line, nil
}

// Write writes a string to the connection.
func (c Conn) Write(s string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioWait)); err != nil {
		return errors.Wrap(err, "error setting write deadline")
	}

	sz, err := c.rw.WriteString(s)
	if err != nil {
		return errors.Wrap(err, "error writing")
	}

	if sz != len(s) {
		return errors.New("short write")
	}

	if err := c.rw.Flush(); err != nil {
		return errors.Wrap(err, "flush error")
	}

	return nil
}

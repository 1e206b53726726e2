// perch is an IRC daemon. Multiple instances link into a spanning tree
// and present one shared namespace of users and channels.
//
// Each connection gets a reader and a writer goroutine. Readers parse
// messages and pass them to the event loop, which is the only goroutine
// that mutates server state.
package main

import (
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/perchirc/perch/irc"
)

// Perch holds the state for one server instance.
type Perch struct {
	Config Config

	ACL *ACL

	// Clients maps connection ID to the client, whatever it registered
	// as. Only the event loop touches this map.
	Clients map[uint64]*client

	Sessions *SessionTable
	Users    *ClientRegistry
	Channels *ChannelRegistry

	// ToServerChan is the event loop's inbox.
	ToServerChan chan Event

	// ShutdownChan tells all goroutines to stop.
	ShutdownChan chan struct{}

	Listener   net.Listener
	WSListener net.Listener

	WG sync.WaitGroup

	StartTime time.Time

	clientID     uint64
	shutdownOnce sync.Once

	log zerolog.Logger
}

// EventType is a type of event we can tell the server about.
type EventType int

const (
	// NullEvent is a default event. This means the event was not
	// populated.
	NullEvent EventType = iota

	// NewClientEvent means a new client connected.
	NewClientEvent

	// DeadClientEvent means client died for some reason, or we are
	// killing it.
	DeadClientEvent

	// MessageFromClientEvent means a client sent a message.
	MessageFromClientEvent

	// WakeUpEvent means the server should wake up and do bookkeeping.
	WakeUpEvent
)

// Event holds a message containing something to tell the server.
type Event struct {
	Type EventType

	Client *client

	Message irc.Message

	// Err carries the reader's parse or I/O error, if any.
	Err error
}

func main() {
	startupLog := zerolog.New(os.Stderr)

	args, err := getArgs()
	if err != nil {
		startupLog.Error().Err(err).Msg("invalid arguments")
		os.Exit(1)
	}

	cfg, err := checkAndParseConfig(args.ConfigFile)
	if err != nil {
		startupLog.Error().Err(err).Msg("configuration problem")
		os.Exit(1)
	}
	cfg = args.apply(cfg)

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	acl := newACL()
	if cfg.ACLFile != "" {
		acl, err = loadACL(cfg.ACLFile)
		if err != nil {
			logger.Error().Err(err).Msg("ACL problem")
			os.Exit(1)
		}
	}

	serveMetrics(cfg.MetricsListen)

	p := newPerch(cfg, acl, logger)

	if err := p.listen(); err != nil {
		logger.Error().Err(err).Msg("unable to listen")
		os.Exit(1)
	}

	p.serve()
}

func newPerch(cfg Config, acl *ACL, logger zerolog.Logger) *Perch {
	return &Perch{
		Config:       cfg,
		ACL:          acl,
		Clients:      make(map[uint64]*client),
		Sessions:     newSessionTable(),
		Users:        newClientRegistry(cfg.ServerName),
		Channels:     newChannelRegistry(),
		ToServerChan: make(chan Event),
		ShutdownChan: make(chan struct{}),
		StartTime:    time.Now(),
		log:          logger,
	}
}

// listen binds the TCP listener, and the WebSocket listener if one is
// configured. Split from serve so callers can learn the bound address
// before any traffic flows.
func (p *Perch) listen() error {
	ln, err := net.Listen("tcp",
		net.JoinHostPort(p.Config.ListenHost, p.Config.ListenPort))
	if err != nil {
		return err
	}
	p.Listener = ln

	if p.Config.WSListen != "" {
		wsln, err := net.Listen("tcp", p.Config.WSListen)
		if err != nil {
			_ = p.Listener.Close()
			return err
		}
		p.WSListener = wsln
	}

	return nil
}

// serve runs the server until shutdown: the accepters, the alarm, and
// the event loop.
func (p *Perch) serve() {
	p.log.Info().Str("name", p.Config.ServerName).
		Str("addr", p.Listener.Addr().String()).Msg("listening")

	p.WG.Add(1)
	go p.acceptConnections()

	if p.WSListener != nil {
		p.WG.Add(1)
		go p.acceptWS()
	}

	p.WG.Add(1)
	go p.alarm()

	p.eventLoop()

	p.WG.Wait()
	p.log.Info().Msg("server shut down")
}

// acceptConnections accepts TCP connections and tells the main server
// loop through a channel.
func (p *Perch) acceptConnections() {
	defer p.WG.Done()

	for {
		if p.isShuttingDown() {
			break
		}

		conn, err := p.Listener.Accept()
		if err != nil {
			if p.isShuttingDown() {
				break
			}
			p.log.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		metricConnections.Inc()

		client := newClient(p, p.nextClientID(),
			NewConn(conn, p.Config.DeadTime))

		p.newEvent(Event{Type: NewClientEvent, Client: client})

		p.WG.Add(1)
		go client.readLoop()
		p.WG.Add(1)
		go client.writeLoop()
	}

	p.log.Info().Msg("accepter shutting down")
}

// eventLoop processes events from all other goroutines. It is the only
// goroutine that changes server state.
func (p *Perch) eventLoop() {
	for {
		select {
		case ev := <-p.ToServerChan:
			p.handleEvent(ev)
		case <-p.ShutdownChan:
			return
		}
	}
}

func (p *Perch) handleEvent(ev Event) {
	switch ev.Type {
	case NewClientEvent:
		p.Clients[ev.Client.ID] = ev.Client

	case DeadClientEvent:
		// May arrive twice, once from the reader and once from the
		// writer.
		if _, exists := p.Clients[ev.Client.ID]; !exists {
			return
		}
		p.cleanUpDeadClient(ev.Client, ev.Err)

	case MessageFromClientEvent:
		if _, exists := p.Clients[ev.Client.ID]; !exists {
			return
		}
		ev.Client.LastActivityTime = time.Now()
		p.handleMessage(ev.Client, ev.Message, ev.Err)

	case WakeUpEvent:
		p.checkAndPingClients()
		p.updateGauges()
	}
}

// cleanUpDeadClient tears down a client whose connection failed,
// according to what it was: a user's death reaches its channels and the
// network, a peer's death splits the tree.
func (p *Perch) cleanUpDeadClient(c *client, err error) {
	reason := errorToQuitMessage(err, p.Config.DeadTime)

	sess := p.Sessions.Get(c.ID)
	switch {
	case sess != nil && sess.Type == SessionUser:
		p.quitLocalUser(c, sess, reason)
	case sess != nil && sess.Type == SessionServer:
		p.teardownPeer(c, sess, reason)
	default:
		p.Sessions.Remove(c.ID)
		p.destroyClient(c)
	}
}

// destroyClient stops tracking a client and closes its write channel,
// which makes the writer flush and close the socket. Safe to call more
// than once.
func (p *Perch) destroyClient(c *client) {
	if _, exists := p.Clients[c.ID]; !exists {
		return
	}
	delete(p.Clients, c.ID)

	// Stop anything else queueing before the channel closes.
	c.SendQueueExceeded = true
	close(c.WriteChan)
}

// alarm sends a wakeup event to the event loop at regular intervals.
func (p *Perch) alarm() {
	defer p.WG.Done()

	ticker := time.NewTicker(p.Config.WakeupTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.newEvent(Event{Type: WakeUpEvent})
		case <-p.ShutdownChan:
			return
		}
	}
}

// checkAndPingClients looks for clients to ping and those that are
// dead or stuck.
func (p *Perch) checkAndPingClients() {
	now := time.Now()

	for _, c := range p.Clients {
		if c.SendQueueExceeded {
			p.cleanUpDeadClient(c, errSendQueueExceeded)
			continue
		}

		idle := now.Sub(c.LastActivityTime)
		if idle >= p.Config.DeadTime {
			p.cleanUpDeadClient(c, errPingTimeout)
			continue
		}

		if idle >= p.Config.PingTime &&
			now.Sub(c.LastPingTime) >= p.Config.PingTime {
			c.LastPingTime = now
			c.maybeQueueMessage(irc.Message{
				Command: "PING",
				Params:  []irc.Param{{Name: "token", Value: p.Config.ServerName}},
			})
		}
	}
}

func (p *Perch) updateGauges() {
	local, _ := p.Users.CountUsers()
	metricLocalUsers.Set(float64(local))
	metricChannels.Set(float64(p.Channels.Len()))

	links := 0
	for _, s := range p.Users.ListServers() {
		if s.Client != nil {
			links++
		}
	}
	metricPeerLinks.Set(float64(links))
}

// newEvent tells the server something happened. It must not block
// during shutdown, when nothing reads events any more.
func (p *Perch) newEvent(ev Event) {
	select {
	case p.ToServerChan <- ev:
	case <-p.ShutdownChan:
	}
}

func (p *Perch) isShuttingDown() bool {
	select {
	case <-p.ShutdownChan:
		return true
	default:
		return false
	}
}

// shutdown starts server teardown. Idempotent.
func (p *Perch) shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.ShutdownChan)
		if p.Listener != nil {
			_ = p.Listener.Close()
		}
		if p.WSListener != nil {
			_ = p.WSListener.Close()
		}
	})
}

func (p *Perch) nextClientID() uint64 {
	return atomic.AddUint64(&p.clientID, 1)
}

var (
	errPingTimeout       = errTimeout{}
	errSendQueueExceeded = errSendQueue{}
)

type errTimeout struct{}

func (errTimeout) Error() string { return "i/o timeout" }

type errSendQueue struct{}

func (errSendQueue) Error() string { return "send queue exceeded" }

// errorToQuitMessage turns a connection error into a human readable
// quit reason.
func errorToQuitMessage(err error, deadTime time.Duration) string {
	if err == nil {
		return "I/O error"
	}

	text := err.Error()
	switch {
	case strings.Contains(text, "i/o timeout"):
		return "Ping timeout: " + deadTime.String()
	case strings.Contains(text, "connection reset"):
		return "Connection reset by peer"
	case text != "":
		return text
	}
	return "I/O error"
}

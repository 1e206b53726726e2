package main

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Sentinel errors from the registries. Handlers translate these into
// numeric replies.
var (
	errNickInUse        = errors.New("nickname is already in use")
	errNoSuchNick       = errors.New("no such nick")
	errNoSuchServer     = errors.New("no such server")
	errBadHopCount      = errors.New("hop count must be at least 1")
	errNoSuchChannel    = errors.New("no such channel")
	errNotOnChannel     = errors.New("not on that channel")
	errUserNotInChannel = errors.New("they aren't on that channel")
	errAlreadyOnChannel = errors.New("already on that channel")
	errBannedFromChan   = errors.New("banned from channel")
	errBadChannelKey    = errors.New("bad channel key")
	errChanopNeeded     = errors.New("channel operator privileges needed")
	errKeyAlreadySet    = errors.New("channel key already set")
	errUnknownMode      = errors.New("unknown mode character")
)

// canonicalize converts a nickname or channel name to its canonical
// form for map keys. Nicknames are case insensitive.
func canonicalize(s string) string {
	return strings.ToLower(s)
}

// Principal is a known identity: a local user, an external user, or a
// peer server. Routing dispatches on the concrete type.
type Principal interface {
	principalNick() string
}

// LocalUser owns an open connection on this node.
type LocalUser struct {
	Nick   string
	Client *client
	IsOper bool
}

func (u *LocalUser) principalNick() string { return u.Nick }

// ExternalUser is a user registered on another server. Location names
// the directly connected peer whose socket is the next hop toward it.
type ExternalUser struct {
	Nick     string
	Hops     int
	Location string
}

func (u *ExternalUser) principalNick() string { return u.Nick }

// Server is a peer in the spanning tree. Client is non-nil only for
// directly linked peers. Via names the direct peer we learned a remote
// server through; it is empty for direct links.
type Server struct {
	Nick string
	Hops int
	Via  string

	Client *client

	Info string
}

func (s *Server) principalNick() string { return s.Nick }

// ClientRegistry is the directory of every principal this node knows
// about. Nicknames form one flat namespace across users and servers;
// the local server's own name is reserved.
type ClientRegistry struct {
	mu sync.Mutex

	// Local server name (reserved in the namespace).
	serverName string

	// Canonical nick to user principal (LocalUser or ExternalUser).
	users map[string]Principal

	// Canonical name to peer server.
	servers map[string]*Server
}

func newClientRegistry(serverName string) *ClientRegistry {
	return &ClientRegistry{
		serverName: serverName,
		users:      make(map[string]Principal),
		servers:    make(map[string]*Server),
	}
}

// nickTaken reports whether the nick collides with any user, server, or
// the local server's own name. Callers must hold the lock.
func (r *ClientRegistry) nickTaken(canon string) bool {
	if canon == canonicalize(r.serverName) {
		return true
	}
	if _, exists := r.users[canon]; exists {
		return true
	}
	_, exists := r.servers[canon]
	return exists
}

// AddLocal registers a user who owns an open connection.
func (r *ClientRegistry) AddLocal(nick string, c *client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	canon := canonicalize(nick)
	if r.nickTaken(canon) {
		return errNickInUse
	}

	r.users[canon] = &LocalUser{Nick: nick, Client: c}
	return nil
}

// AddExternal registers a user living on another server, reachable
// through the named peer.
func (r *ClientRegistry) AddExternal(nick string, hops int,
	location string) error {

	if hops < 1 {
		return errBadHopCount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	canon := canonicalize(nick)
	if r.nickTaken(canon) {
		return errNickInUse
	}

	r.users[canon] = &ExternalUser{Nick: nick, Hops: hops, Location: location}
	return nil
}

// AddServer registers a peer server. via is empty and c non-nil for a
// direct link; the reverse for a server learned through a relay.
func (r *ClientRegistry) AddServer(nick string, hops int, via string,
	c *client, info string) error {

	if hops < 1 {
		return errBadHopCount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	canon := canonicalize(nick)
	if r.nickTaken(canon) {
		return errNickInUse
	}

	r.servers[canon] = &Server{Nick: nick, Hops: hops, Via: via, Client: c,
		Info: info}
	return nil
}

// GetUser looks up a user principal by nick.
func (r *ClientRegistry) GetUser(nick string) (Principal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.users[canonicalize(nick)]
	return p, exists
}

// GetServer looks up a peer server by name.
func (r *ClientRegistry) GetServer(nick string) (*Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.servers[canonicalize(nick)]
	return s, exists
}

// Remove drops a user from the registry. Removing an unknown nick is a
// no-op.
func (r *ClientRegistry) Remove(nick string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, canonicalize(nick))
}

// Rename moves a user to a new nickname, keeping its principal intact.
func (r *ClientRegistry) Rename(oldNick, newNick string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldCanon := canonicalize(oldNick)
	newCanon := canonicalize(newNick)

	p, exists := r.users[oldCanon]
	if !exists {
		return errNoSuchNick
	}

	if newCanon != oldCanon && r.nickTaken(newCanon) {
		return errNickInUse
	}

	delete(r.users, oldCanon)

	switch u := p.(type) {
	case *LocalUser:
		u.Nick = newNick
	case *ExternalUser:
		u.Nick = newNick
	}
	r.users[newCanon] = p

	return nil
}

// RemoveFromServer atomically removes every external user whose next
// hop is the named peer and returns the removed set.
func (r *ClientRegistry) RemoveFromServer(peer string) []*ExternalUser {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonPeer := canonicalize(peer)

	var removed []*ExternalUser
	for canon, p := range r.users {
		ext, ok := p.(*ExternalUser)
		if !ok {
			continue
		}
		if canonicalize(ext.Location) != canonPeer {
			continue
		}
		removed = append(removed, ext)
		delete(r.users, canon)
	}

	return removed
}

// RemoveServer removes a peer together with every server whose route
// passes through it, and returns the removed servers. The direct peer
// comes first.
func (r *ClientRegistry) RemoveServer(peer string) []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonPeer := canonicalize(peer)

	direct, exists := r.servers[canonPeer]
	if !exists {
		return nil
	}

	removed := []*Server{direct}
	lost := map[string]struct{}{canonPeer: {}}
	delete(r.servers, canonPeer)

	// Chase Via chains until nothing new is behind the lost link.
	for {
		found := false
		for canon, s := range r.servers {
			if _, gone := lost[canonicalize(s.Via)]; !gone {
				continue
			}
			removed = append(removed, s)
			lost[canon] = struct{}{}
			delete(r.servers, canon)
			found = true
		}
		if !found {
			break
		}
	}

	return removed
}

// ListUsers returns a snapshot of all user principals.
func (r *ClientRegistry) ListUsers() []Principal {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]Principal, 0, len(r.users))
	for _, p := range r.users {
		users = append(users, p)
	}
	return users
}

// ListServers returns a snapshot of all known peer servers.
func (r *ClientRegistry) ListServers() []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()

	servers := make([]*Server, 0, len(r.servers))
	for _, s := range r.servers {
		servers = append(servers, s)
	}
	return servers
}

// AddOperPrivileges flags a local user as an operator.
func (r *ClientRegistry) AddOperPrivileges(nick string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.users[canonicalize(nick)]
	if !exists {
		return errNoSuchNick
	}

	if u, ok := p.(*LocalUser); ok {
		u.IsOper = true
	}
	return nil
}

// HasOperPrivileges reports whether the nick is a local user with
// operator privileges.
func (r *ClientRegistry) HasOperPrivileges(nick string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.users[canonicalize(nick)]
	if !exists {
		return false
	}

	u, ok := p.(*LocalUser)
	return ok && u.IsOper
}

// CountUsers returns the number of known users, local plus external.
func (r *ClientRegistry) CountUsers() (local, external int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.users {
		if _, ok := p.(*LocalUser); ok {
			local++
		} else {
			external++
		}
	}
	return local, external
}

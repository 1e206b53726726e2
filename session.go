package main

import "sync"

// SessionType says what a connection registered as.
type SessionType int

const (
	// SessionUnknown is a connection that has not registered yet.
	SessionUnknown SessionType = iota

	// SessionUser is a local user connection.
	SessionUser

	// SessionExternalUser marks a session slot describing a user on
	// another server. No open connection of ours is ever in this state;
	// it exists so session records relayed from peers can be described
	// uniformly.
	SessionExternalUser

	// SessionServer is a peer server link.
	SessionServer
)

func (t SessionType) String() string {
	switch t {
	case SessionUser:
		return "USER"
	case SessionExternalUser:
		return "EXTERNAL_USER"
	case SessionServer:
		return "SERVER"
	}
	return "UNKNOWN"
}

// SessionInfo holds what we know about one open connection: anything
// sent before registration completes, and the registered identity
// afterwards.
type SessionInfo struct {
	// Password captured from a PASS command, if any, before
	// registration.
	Password string

	Nickname string
	Username string
	Realname string

	// Hops is 0 for a local connection.
	Hops int

	Type SessionType

	IsOper bool
}

// Registered reports whether the connection completed registration.
func (s *SessionInfo) Registered() bool {
	return s != nil && s.Nickname != "" && s.Type != SessionUnknown
}

// SessionTable maps open connections to their SessionInfo. The
// dispatcher is the only writer; the mutex is there because other
// goroutines (liveness checks, reader teardown) look sessions up.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[uint64]*SessionInfo
}

func newSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[uint64]*SessionInfo)}
}

// Get looks up the session for a connection. It returns nil if the
// connection never sent a registration command.
func (t *SessionTable) Get(id uint64) *SessionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

// Create makes a session for the connection if one does not exist yet
// and returns it. The password is only applied on creation.
func (t *SessionTable) Create(id uint64, password string) *SessionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sess, exists := t.sessions[id]; exists {
		return sess
	}

	sess := &SessionInfo{Password: password}
	t.sessions[id] = sess
	return sess
}

// Remove drops the connection's session.
func (t *SessionTable) Remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// Len returns the number of tracked sessions.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionTable(t *testing.T) {
	table := newSessionTable()

	assert.Nil(t, table.Get(1))

	sess := table.Create(1, "secret")
	assert.Equal(t, "secret", sess.Password)
	assert.Equal(t, SessionUnknown, sess.Type)

	// Creating again returns the existing session untouched.
	again := table.Create(1, "other")
	assert.Same(t, sess, again)
	assert.Equal(t, "secret", again.Password)

	assert.Equal(t, 1, table.Len())

	table.Remove(1)
	assert.Nil(t, table.Get(1))
	assert.Equal(t, 0, table.Len())
}

func TestSessionRegistered(t *testing.T) {
	var sess *SessionInfo
	assert.False(t, sess.Registered())

	sess = &SessionInfo{}
	assert.False(t, sess.Registered())

	sess.Nickname = "alice"
	assert.False(t, sess.Registered())

	sess.Type = SessionUser
	assert.True(t, sess.Registered())
}

func TestSessionTypeString(t *testing.T) {
	assert.Equal(t, "UNKNOWN", SessionUnknown.String())
	assert.Equal(t, "USER", SessionUser.String())
	assert.Equal(t, "EXTERNAL_USER", SessionExternalUser.String())
	assert.Equal(t, "SERVER", SessionServer.String())
}

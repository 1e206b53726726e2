package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseACL(t *testing.T) {
	input := `
# comment line
I:*@192.168.1.*:secret
I:alice@*.example.com:
C:peer.example.com:linkpass
N:south.example.com:linkpass
O:root:operpass

this line is malformed
X:unknown:kind
I:missing-at:oops
`

	acl, err := parseACL(strings.NewReader(input))
	require.NoError(t, err)

	assert.Len(t, acl.admit, 2)
	assert.Len(t, acl.outbound, 1)
	assert.Len(t, acl.inbound, 1)
	assert.Len(t, acl.opers, 1)
}

func TestValidUserPassword(t *testing.T) {
	acl, err := parseACL(strings.NewReader(`
I:*@192.168.1.*:secret
I:alice@10.0.*.*:
I:bob@host.example.com:hunter2
`))
	require.NoError(t, err)

	tests := []struct {
		userHost string
		password string
		want     bool
	}{
		// Component wildcards are positional; counts must agree.
		{"carol@192.168.1.7", "secret", true},
		{"carol@192.168.1.7", "wrong", false},
		{"carol@192.168.2.7", "secret", false},
		{"carol@192.168.1", "secret", false},
		{"carol@192.168.1.7.8", "secret", false},

		// Blank rule password accepts anything, user token must match.
		{"alice@10.0.3.4", "", true},
		{"alice@10.0.3.4", "whatever", true},
		{"carol@10.0.3.4", "", false},

		// Exact host, exact user, case insensitive host.
		{"bob@HOST.example.com", "hunter2", true},
		{"bob@host.example.com", "", false},

		// No @ separator at all.
		{"nonsense", "secret", false},
	}

	for _, test := range tests {
		got := acl.ValidUserPassword(test.userHost, test.password)
		assert.Equal(t, test.want, got, "%s / %q", test.userHost, test.password)
	}
}

func TestValidUserPasswordOpenServer(t *testing.T) {
	// No I rules at all admits everyone.
	acl := newACL()
	assert.True(t, acl.ValidUserPassword("anyone@anywhere.example.com", ""))
}

func TestServerPasswords(t *testing.T) {
	acl, err := parseACL(strings.NewReader(`
C:south.example.com:dialout
N:south.example.com:dialin
N:open.example.com:
`))
	require.NoError(t, err)

	assert.True(t, acl.ValidServerPassword("south.example.com", "dialin"))
	assert.True(t, acl.ValidServerPassword("SOUTH.example.com", "dialin"))
	assert.False(t, acl.ValidServerPassword("south.example.com", "dialout"))
	assert.False(t, acl.ValidServerPassword("unknown.example.com", "dialin"))

	// Blank N password accepts anything.
	assert.True(t, acl.ValidServerPassword("open.example.com", "x"))

	password, exists := acl.OutboundPassword("south.example.com")
	assert.True(t, exists)
	assert.Equal(t, "dialout", password)

	_, exists = acl.OutboundPassword("unknown.example.com")
	assert.False(t, exists)
}

func TestValidOperPassword(t *testing.T) {
	acl, err := parseACL(strings.NewReader("O:root:operpass\n"))
	require.NoError(t, err)

	assert.True(t, acl.ValidOperPassword("root", "operpass"))
	assert.False(t, acl.ValidOperPassword("root", "wrong"))
	assert.False(t, acl.ValidOperPassword("other", "operpass"))
}

package irc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		input string
		want  Message
	}{
		{
			"PRIVMSG bob :hello there\r\n",
			Message{
				Command: "PRIVMSG",
				Params: []Param{
					{Name: "receiver", Value: "bob"},
					{Name: "text", Value: "hello there"},
				},
			},
		},
		{
			// Trailing marker omitted on a one word argument.
			"PRIVMSG bob hi\r\n",
			Message{
				Command: "PRIVMSG",
				Params: []Param{
					{Name: "receiver", Value: "bob"},
					{Name: "text", Value: "hi"},
				},
			},
		},
		{
			":alice!a@irc.example.com PRIVMSG #chan :hi all\r\n",
			Message{
				Prefix:  Prefix{Sender: "alice", User: "a", Host: "irc.example.com"},
				Command: "PRIVMSG",
				Params: []Param{
					{Name: "receiver", Value: "#chan"},
					{Name: "text", Value: "hi all"},
				},
			},
		},
		{
			// Bare LF is repaired.
			"PING :irc.example.com\n",
			Message{
				Command: "PING",
				Params:  []Param{{Name: "token", Value: "irc.example.com"}},
			},
		},
		{
			// Lowercase verbs are normalized.
			"nick alice\r\n",
			Message{
				Command: "NICK",
				Params:  []Param{{Name: "nick", Value: "alice"}},
			},
		},
		{
			"NICK alice 2\r\n",
			Message{
				Command: "NICK",
				Params: []Param{
					{Name: "nick", Value: "alice"},
					{Name: "hops", Value: "2"},
				},
			},
		},
		{
			"USER alice localhost * :Alice A\r\n",
			Message{
				Command: "USER",
				Params: []Param{
					{Name: "user", Value: "alice"},
					{Name: "host", Value: "localhost"},
					{Name: "server", Value: "*"},
					{Name: "realname", Value: "Alice A"},
				},
			},
		},
		{
			"SERVER south.example.com 1 :southern node\r\n",
			Message{
				Command: "SERVER",
				Params: []Param{
					{Name: "name", Value: "south.example.com"},
					{Name: "hops", Value: "1"},
					{Name: "info", Value: "southern node"},
				},
			},
		},
		{
			// Numerics bind the recipient then their schema. A short code
			// is zero padded.
			":irc.example.com 1 alice :Welcome\r\n",
			Message{
				Prefix:    Prefix{Sender: "irc.example.com"},
				Command:   "001",
				Recipient: "alice",
				Params:    []Param{{Name: "text", Value: "Welcome"}},
			},
		},
		{
			// Empty trailing survives, e.g. clearing a topic.
			"TOPIC #chan :\r\n",
			Message{
				Command: "TOPIC",
				Params: []Param{
					{Name: "channel", Value: "#chan"},
					{Name: "topic", Value: ""},
				},
			},
		},
		{
			// Unknown verbs fall back to positional slots.
			"WHOWAS alice\r\n",
			Message{
				Command: "WHOWAS",
				Params:  []Param{{Name: "param0", Value: "alice"}},
			},
		},
		{
			// Stray spaces before CRLF are tolerated.
			"NICK alice  \r\n",
			Message{
				Command: "NICK",
				Params:  []Param{{Name: "nick", Value: "alice"}},
			},
		},
	}

	for _, test := range tests {
		m, err := ParseMessage(test.input)
		require.NoError(t, err, "input %q", test.input)
		assert.Equal(t, test.want, m, "input %q", test.input)
	}
}

func TestParseMessageMissingParams(t *testing.T) {
	tests := []struct {
		input   string
		command string
		slot    string
	}{
		{"NICK\r\n", "NICK", "nick"},
		{"USER alice\r\n", "USER", "host"},
		{"JOIN\r\n", "JOIN", "channel"},
		{"PRIVMSG bob\r\n", "PRIVMSG", "text"},
		{"SERVER name 1\r\n", "SERVER", "info"},
	}

	for _, test := range tests {
		m, err := ParseMessage(test.input)
		require.Error(t, err, "input %q", test.input)

		missing, ok := err.(*MissingParamsError)
		require.True(t, ok, "input %q: error type %T", test.input, err)
		assert.Equal(t, test.command, missing.Command)
		assert.Equal(t, test.slot, missing.Slot)

		// The command survives so the caller can reply 461.
		assert.Equal(t, test.command, m.Command)
	}
}

func TestParseMessageErrors(t *testing.T) {
	tests := []string{
		"",
		"NICK alice",
		":prefixonly\r\n",
		"NICK al\x00ice\r\n",
	}

	for _, input := range tests {
		_, err := ParseMessage(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestParseMessageLineLength(t *testing.T) {
	// Exactly MaxLineLength parses.
	line := "PRIVMSG bob :" + strings.Repeat("x", MaxLineLength-13-2) + "\r\n"
	require.Len(t, line, MaxLineLength)
	_, err := ParseMessage(line)
	assert.NoError(t, err)

	// One more byte does not.
	line = "PRIVMSG bob :" + strings.Repeat("x", MaxLineLength-13-1) + "\r\n"
	require.Len(t, line, MaxLineLength+1)
	_, err = ParseMessage(line)
	assert.Equal(t, ErrLineTooLong, err)
}

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		input string
		want  Prefix
	}{
		{"alice", Prefix{Sender: "alice"}},
		{"irc.example.com", Prefix{Sender: "irc.example.com"}},
		{"alice!a@HOST.example.com",
			Prefix{Sender: "alice", User: "a", Host: "host.example.com"}},
		{"alice!a", Prefix{Sender: "alice", User: "a"}},
		{"alice@host", Prefix{Sender: "alice", Host: "host"}},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, ParsePrefix(test.input), "input %q",
			test.input)
	}
}

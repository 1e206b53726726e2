// Package irc provides encoding and decoding of IRC protocol messages
// with named, schema-driven parameters. It is useful for implementing
// servers that need to address message parameters by role rather than
// by position.
package irc

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxLineLength is the maximum protocol message line length. It includes
	// CRLF.
	MaxLineLength = 512

	// MaxParams is the maximum number of parameters in a single message.
	// Both RFC 1459 and RFC 2812 fix this at 15.
	MaxParams = 15
)

// Numeric reply codes. Replies are 0xx-3xx, errors 4xx-5xx.
const (
	ReplyWelcome       = "001"
	ReplyYourHost      = "002"
	ReplyCreated       = "003"
	ReplyMyInfo        = "004"
	ReplyLuserClient   = "251"
	ReplyLuserOp       = "252"
	ReplyLuserChannels = "254"
	ReplyLuserMe       = "255"
	ReplyChannelModeIs = "324"
	ReplyNoTopic       = "331"
	ReplyTopic         = "332"
	ReplyNamReply      = "353"
	ReplyEndOfNames    = "366"
	ReplyBanList       = "367"
	ReplyEndOfBanList  = "368"
	ReplyMotd          = "372"
	ReplyMotdStart     = "375"
	ReplyEndOfMotd     = "376"
	ReplyYoureOper     = "381"

	ErrNoSuchNick       = "401"
	ErrNoSuchServer     = "402"
	ErrNoSuchChannel    = "403"
	ErrCannotSendToChan = "404"
	ErrNoNicknameGiven  = "431"
	ErrErroneousNick    = "432"
	ErrNickCollision    = "436"
	ErrUserNotInChannel = "441"
	ErrNotOnChannel     = "442"
	ErrNotRegistered    = "451"
	ErrNeedMoreParams   = "461"
	ErrAlreadyRegistred = "462"
	ErrPasswdMismatch   = "464"
	ErrKeySet           = "467"
	ErrUnknownMode      = "472"
	ErrBannedFromChan   = "474"
	ErrBadChannelKey    = "475"
	ErrNoPrivileges     = "481"
	ErrChanOPrivsNeeded = "482"
)

// ErrTruncated is the error returned by Encode if the message gets truncated
// due to encoding to more than MaxLineLength bytes.
var ErrTruncated = errors.New("message truncated")

// ErrLineTooLong is the error returned by ParseMessage for a line longer
// than MaxLineLength bytes.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// It is not always valid for there to be a parameter with zero characters. If
// there is one, it should have a ':' prefix.
var errEmptyParam = errors.New("parameter with zero characters")

// MissingParamsError reports a message that does not fill every required
// slot of its command's schema. Dispatchers translate it to
// ERR_NEEDMOREPARAMS.
type MissingParamsError struct {
	Command string
	Slot    string
}

func (e *MissingParamsError) Error() string {
	return fmt.Sprintf("%s is missing the %s parameter", e.Command, e.Slot)
}

// Prefix is the optional origin of a message. It renders as
// sender[!user[@host]]. Hosts are lowercased on construction so
// comparisons are case-insensitive.
type Prefix struct {
	Sender string
	User   string
	Host   string
}

// NewPrefix builds a Prefix, lowercasing the host.
func NewPrefix(sender, user, host string) Prefix {
	return Prefix{Sender: sender, User: user, Host: strings.ToLower(host)}
}

// ParsePrefix splits a raw prefix token on the first '!' and the
// following '@'. A token without separators is a bare sender (a server
// name or a nickname).
func ParsePrefix(raw string) Prefix {
	p := Prefix{Sender: raw}

	if i := strings.IndexByte(raw, '!'); i != -1 {
		p.Sender = raw[:i]
		rest := raw[i+1:]
		if j := strings.IndexByte(rest, '@'); j != -1 {
			p.User = rest[:j]
			p.Host = strings.ToLower(rest[j+1:])
		} else {
			p.User = rest
		}
		return p
	}

	// No user part. A '@' may still separate sender from host.
	if i := strings.IndexByte(raw, '@'); i != -1 {
		p.Sender = raw[:i]
		p.Host = strings.ToLower(raw[i+1:])
	}

	return p
}

func (p Prefix) String() string {
	s := p.Sender
	if p.User != "" {
		s += "!" + p.User
	}
	if p.Host != "" {
		s += "@" + p.Host
	}
	return s
}

// IsZero reports whether the prefix is absent.
func (p Prefix) IsZero() bool {
	return p.Sender == "" && p.User == "" && p.Host == ""
}

// Param is one named message parameter. Slot names come from the
// command's schema. The slot named by its schema as trailing is the
// only one whose value may contain spaces.
type Param struct {
	Name  string
	Value string
}

// Message holds a protocol message. See section 2.3.1 in RFC 1459/2812.
//
// Params are ordered named slots. Numeric replies additionally carry a
// Recipient, the nickname the reply is addressed to, which serializes
// as the first parameter.
type Message struct {
	// Prefix may be zero. It's optional.
	Prefix Prefix

	// Command is either an uppercase verb or a zero-padded 3-digit
	// numeric reply code.
	Command string

	// Recipient is only set on numeric replies.
	Recipient string

	Params []Param
}

func (m Message) String() string {
	return fmt.Sprintf("Prefix [%s] Command [%s] Recipient [%s] Params %v",
		m.Prefix, m.Command, m.Recipient, m.Params)
}

// Get returns the value of the named slot, or "" if the slot is absent.
func (m Message) Get(name string) string {
	for _, p := range m.Params {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// Has reports whether the named slot is present. A slot may be present
// with an empty value (e.g. TOPIC #c : clears the topic).
func (m Message) Has(name string) bool {
	for _, p := range m.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Set replaces the named slot's value, appending the slot if absent.
func (m *Message) Set(name, value string) {
	for i := range m.Params {
		if m.Params[i].Name == name {
			m.Params[i].Value = value
			return
		}
	}
	m.Params = append(m.Params, Param{Name: name, Value: value})
}

// IsNumeric reports whether the command is a numeric reply code.
func IsNumeric(command string) bool {
	if len(command) != 3 {
		return false
	}
	for i := 0; i < len(command); i++ {
		if command[i] < '0' || command[i] > '9' {
			return false
		}
	}
	return true
}

// slot describes one schema position for a command's parameters.
type slot struct {
	name string

	// optional slots may be left unfilled without error.
	optional bool

	// The trailing slot always serializes with a ':' marker and is the
	// only slot whose value may contain spaces. At most one per schema,
	// always last.
	trailing bool
}

// commandParams maps each verb to its ordered parameter schema.
// Parsing fills slots left to right; a trailing token fills the
// trailing slot. Verbs not listed here parse with positional slot
// names (param0, param1, ...).
var commandParams = map[string][]slot{
	"PASS":    {{name: "password"}},
	"NICK":    {{name: "nick"}, {name: "hops", optional: true}},
	"USER":    {{name: "user"}, {name: "host"}, {name: "server"}, {name: "realname", trailing: true}},
	"SERVER":  {{name: "name"}, {name: "hops"}, {name: "info", trailing: true}},
	"OPER":    {{name: "user"}, {name: "password"}},
	"QUIT":    {{name: "message", optional: true, trailing: true}},
	"SQUIT":   {{name: "server"}, {name: "comment", optional: true, trailing: true}},
	"PRIVMSG": {{name: "receiver"}, {name: "text", trailing: true}},
	"NOTICE":  {{name: "receiver"}, {name: "text", trailing: true}},
	"PING":    {{name: "token", trailing: true}},
	"PONG":    {{name: "token", optional: true, trailing: true}},
	"JOIN":    {{name: "channel"}, {name: "key", optional: true}},
	"PART":    {{name: "channel"}, {name: "reason", optional: true, trailing: true}},
	"KICK":    {{name: "channel"}, {name: "user"}, {name: "comment", optional: true, trailing: true}},
	"NAMES":   {{name: "channel", optional: true}},
	"TOPIC":   {{name: "channel"}, {name: "topic", optional: true, trailing: true}},
	"MODE":    {{name: "target"}, {name: "modes", optional: true}, {name: "arg", optional: true}},
	"CONNECT": {{name: "target"}, {name: "port", optional: true}},
	"CAP":     {{name: "subcommand"}, {name: "caps", optional: true, trailing: true}},
	"MOTD":    {},
	"LUSERS":  {},
	"ERROR":   {{name: "text", trailing: true}},
}

// numericParams maps numeric reply codes to their schema, excluding the
// recipient slot which every numeric carries implicitly.
var numericParams = map[string][]slot{
	ReplyWelcome:       {{name: "text", trailing: true}},
	ReplyYourHost:      {{name: "text", trailing: true}},
	ReplyCreated:       {{name: "text", trailing: true}},
	ReplyMyInfo:        {{name: "server"}, {name: "version"}, {name: "umodes"}, {name: "cmodes"}},
	ReplyLuserClient:   {{name: "text", trailing: true}},
	ReplyLuserOp:       {{name: "count"}, {name: "text", trailing: true}},
	ReplyLuserChannels: {{name: "count"}, {name: "text", trailing: true}},
	ReplyLuserMe:       {{name: "text", trailing: true}},
	ReplyChannelModeIs: {{name: "channel"}, {name: "modes"}, {name: "arg", optional: true}},
	ReplyNoTopic:       {{name: "channel"}, {name: "text", trailing: true}},
	ReplyTopic:         {{name: "channel"}, {name: "text", trailing: true}},
	ReplyNamReply:      {{name: "symbol"}, {name: "channel"}, {name: "names", trailing: true}},
	ReplyEndOfNames:    {{name: "channel"}, {name: "text", trailing: true}},
	ReplyBanList:       {{name: "channel"}, {name: "mask"}},
	ReplyEndOfBanList:  {{name: "channel"}, {name: "text", trailing: true}},
	ReplyMotd:          {{name: "text", trailing: true}},
	ReplyMotdStart:     {{name: "text", trailing: true}},
	ReplyEndOfMotd:     {{name: "text", trailing: true}},
	ReplyYoureOper:     {{name: "text", trailing: true}},

	ErrNoSuchNick:       {{name: "nick"}, {name: "text", trailing: true}},
	ErrNoSuchServer:     {{name: "server"}, {name: "text", trailing: true}},
	ErrNoSuchChannel:    {{name: "channel"}, {name: "text", trailing: true}},
	ErrCannotSendToChan: {{name: "channel"}, {name: "text", trailing: true}},
	ErrNoNicknameGiven:  {{name: "text", trailing: true}},
	ErrErroneousNick:    {{name: "nick"}, {name: "text", trailing: true}},
	ErrNickCollision:    {{name: "nick"}, {name: "text", trailing: true}},
	ErrUserNotInChannel: {{name: "nick"}, {name: "channel"}, {name: "text", trailing: true}},
	ErrNotOnChannel:     {{name: "channel"}, {name: "text", trailing: true}},
	ErrNotRegistered:    {{name: "text", trailing: true}},
	ErrNeedMoreParams:   {{name: "command"}, {name: "text", trailing: true}},
	ErrAlreadyRegistred: {{name: "text", trailing: true}},
	ErrPasswdMismatch:   {{name: "text", trailing: true}},
	ErrKeySet:           {{name: "channel"}, {name: "text", trailing: true}},
	ErrUnknownMode:      {{name: "char"}, {name: "text", trailing: true}},
	ErrBannedFromChan:   {{name: "channel"}, {name: "text", trailing: true}},
	ErrBadChannelKey:    {{name: "channel"}, {name: "text", trailing: true}},
	ErrNoPrivileges:     {{name: "text", trailing: true}},
	ErrChanOPrivsNeeded: {{name: "channel"}, {name: "text", trailing: true}},
}

// numericText holds the default trailing text per numeric. Callers of
// Numeric may omit the text slot and get these.
var numericText = map[string]string{
	ReplyNoTopic:        "No topic is set",
	ReplyTopic:          "No topic yet",
	ReplyEndOfNames:     "End of /NAMES list",
	ReplyEndOfBanList:   "End of channel ban list",
	ReplyEndOfMotd:      "End of /MOTD command",
	ReplyYoureOper:      "You are now an IRC operator",
	ErrNoSuchNick:       "No such nick/channel",
	ErrNoSuchServer:     "No such server",
	ErrNoSuchChannel:    "No such channel",
	ErrCannotSendToChan: "Cannot send to channel",
	ErrNoNicknameGiven:  "No nickname given",
	ErrErroneousNick:    "Erroneous nickname",
	ErrNickCollision:    "Nickname collision KILL",
	ErrUserNotInChannel: "They aren't on that channel",
	ErrNotOnChannel:     "You're not on that channel",
	ErrNotRegistered:    "You have not registered",
	ErrNeedMoreParams:   "Not enough parameters",
	ErrAlreadyRegistred: "Unauthorized command (already registered)",
	ErrPasswdMismatch:   "Password incorrect",
	ErrKeySet:           "Channel key already set",
	ErrUnknownMode:      "is unknown mode char to me",
	ErrBannedFromChan:   "Cannot join channel (+b)",
	ErrBadChannelKey:    "Cannot join channel (+k)",
	ErrNoPrivileges:     "Permission Denied- You're not an IRC operator",
	ErrChanOPrivsNeeded: "You're not channel operator",
}

// Numeric builds a numeric reply addressed to recipient. args fill the
// code's schema slots in order. If the trailing text slot is left
// unfilled and the code has a default text, the default is used.
func Numeric(code, recipient string, args ...string) Message {
	m := Message{Command: code, Recipient: recipient}

	schema := numericParams[code]
	for i, s := range schema {
		if i < len(args) {
			m.Params = append(m.Params, Param{Name: s.name, Value: args[i]})
			continue
		}
		if s.trailing {
			if text, ok := numericText[code]; ok {
				m.Params = append(m.Params, Param{Name: s.name, Value: text})
			}
		}
	}

	// Codes with no schema: treat every arg as positional.
	if schema == nil {
		for i, a := range args {
			m.Params = append(m.Params, Param{Name: positionalName(i), Value: a})
		}
	}

	return m
}

func positionalName(i int) string {
	return fmt.Sprintf("param%d", i)
}

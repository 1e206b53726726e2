package irc

import "regexp"

// Namespace rules. Nicknames are at most 9 characters and start with a
// letter. Hosts are RFC 952 style names. Channel names start with '#'
// or '&' and exclude NUL, BEL, CR, LF, space, comma and colon.
var (
	nickRegexp = regexp.MustCompile(
		"^[A-Za-z][A-Za-z0-9\\-\\[\\]\\\\`^{}]{0,8}$")

	hostRegexp = regexp.MustCompile(
		`^[A-Za-z][A-Za-z0-9-]{0,22}[A-Za-z0-9](\.[A-Za-z][A-Za-z0-9-]{0,21}[A-Za-z0-9])*$`)

	channelRegexp = regexp.MustCompile(
		"^[#&][^\x00\x07\x0A\x0D ,:]{1,49}$")
)

// IsValidNick reports whether the nickname is well formed.
func IsValidNick(nick string) bool {
	return nickRegexp.MatchString(nick)
}

// IsValidHost reports whether the hostname is a well formed RFC 952
// style name.
func IsValidHost(host string) bool {
	return hostRegexp.MatchString(host)
}

// IsValidChannel reports whether the channel name is well formed.
func IsValidChannel(channel string) bool {
	return channelRegexp.MatchString(channel)
}

// IsValidUser reports whether the username token from a USER command is
// well formed. There is no RFC grammar for it beyond being a middle
// parameter; we additionally exclude the characters that would corrupt
// a user@host pattern or a message prefix.
func IsValidUser(user string) bool {
	if len(user) == 0 || len(user) > 10 {
		return false
	}
	for i := 0; i < len(user); i++ {
		switch user[i] {
		case ' ', '\x00', '\r', '\n', '@', '!', ':':
			return false
		}
	}
	return true
}

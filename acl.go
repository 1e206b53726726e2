package main

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// admitRule is one I: line. User is an exact user token or "*". Host is
// a dotted pattern whose components may be "*". A blank password
// accepts any password.
type admitRule struct {
	User     string
	Host     string
	Password string
}

// ACL answers yes/no for client admission, server peering credentials,
// and operator login. It is built from a line oriented file:
//
//	I:<user>@<host-pattern>:<password>   client admission
//	C:<peer-host>:<password>             what we send when we dial a peer
//	N:<peer-host>:<password>             what we accept from a peer
//	O:<user>:<password>                  operator credentials
//
// '#' starts a comment. Malformed lines are skipped with a warning.
type ACL struct {
	admit    []admitRule
	outbound map[string]string
	inbound  map[string]string
	opers    map[string]string
}

func newACL() *ACL {
	return &ACL{
		outbound: make(map[string]string),
		inbound:  make(map[string]string),
		opers:    make(map[string]string),
	}
}

// loadACL reads the ACL file at the given path.
func loadACL(path string) (*ACL, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening ACL file")
	}
	defer func() {
		_ = fh.Close()
	}()

	acl, err := parseACL(fh)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing ACL file %s", path)
	}
	return acl, nil
}

// parseACL reads I/C/N/O rules.
func parseACL(r io.Reader) (*ACL, error) {
	acl := newACL()

	scanner := bufio.NewScanner(r)
	lineno := 0

	for scanner.Scan() {
		lineno++

		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i != -1 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if len(line) < 2 || line[1] != ':' {
			log.Warn().Int("line", lineno).Msg("skipping malformed ACL line")
			continue
		}

		kind := line[0]
		fields := strings.Split(line[2:], ":")

		switch kind {
		case 'I':
			if len(fields) != 2 || !strings.Contains(fields[0], "@") {
				log.Warn().Int("line", lineno).Msg("skipping malformed I rule")
				continue
			}
			at := strings.Index(fields[0], "@")
			acl.admit = append(acl.admit, admitRule{
				User:     fields[0][:at],
				Host:     strings.ToLower(fields[0][at+1:]),
				Password: fields[1],
			})
		case 'C':
			if len(fields) != 2 || fields[0] == "" {
				log.Warn().Int("line", lineno).Msg("skipping malformed C rule")
				continue
			}
			acl.outbound[strings.ToLower(fields[0])] = fields[1]
		case 'N':
			if len(fields) != 2 || fields[0] == "" {
				log.Warn().Int("line", lineno).Msg("skipping malformed N rule")
				continue
			}
			acl.inbound[strings.ToLower(fields[0])] = fields[1]
		case 'O':
			if len(fields) != 2 || fields[0] == "" {
				log.Warn().Int("line", lineno).Msg("skipping malformed O rule")
				continue
			}
			acl.opers[fields[0]] = fields[1]
		default:
			log.Warn().Int("line", lineno).
				Str("kind", string(kind)).
				Msg("skipping ACL line with unknown type")
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading ACL")
	}

	return acl, nil
}

// ValidUserPassword decides whether a client presenting user@host and a
// password may register. The host components match the rule's pattern
// element-wise; '*' is a free wildcard per component, and the component
// counts must agree. A matching rule with a blank password accepts any
// password.
//
// With no I rules configured at all the server is open.
func (a *ACL) ValidUserPassword(userHost, password string) bool {
	if len(a.admit) == 0 {
		return true
	}

	at := strings.Index(userHost, "@")
	if at == -1 {
		return false
	}
	user := userHost[:at]
	host := strings.ToLower(userHost[at+1:])
	hostParts := strings.Split(host, ".")

	for _, rule := range a.admit {
		ruleParts := strings.Split(rule.Host, ".")
		if len(ruleParts) != len(hostParts) {
			continue
		}

		matched := true
		for i, part := range ruleParts {
			if part != "*" && part != hostParts[i] {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		if rule.User != "*" && rule.User != user {
			continue
		}

		return rule.Password == "" || rule.Password == password
	}

	return false
}

// ValidServerPassword checks an inbound peer's credentials against the
// N rules for its advertised name.
func (a *ACL) ValidServerPassword(host, password string) bool {
	want, exists := a.inbound[strings.ToLower(host)]
	if !exists {
		return false
	}
	return want == "" || want == password
}

// OutboundPassword returns the password we present when we originate a
// connection to the named peer.
func (a *ACL) OutboundPassword(host string) (string, bool) {
	pass, exists := a.outbound[strings.ToLower(host)]
	return pass, exists
}

// ValidOperPassword checks operator credentials for OPER.
func (a *ACL) ValidOperPassword(user, password string) bool {
	want, exists := a.opers[user]
	if !exists {
		return false
	}
	return want == password
}

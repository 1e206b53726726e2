package irc

import (
	"fmt"
	"strings"
)

// Encode encodes the Message into a raw protocol message string.
//
// The resulting string has a trailing CRLF.
//
// The slot its schema marks as trailing always serializes with a ':'
// marker, so ParseMessage(Encode(m)) reproduces m for any message whose
// slots follow its command's schema.
//
// If encoding the message would exceed MaxLineLength bytes, we truncate,
// return as much as we can, and return ErrTruncated. The truncated
// message may still be usable.
func (m Message) Encode() (string, error) {
	s := ""

	if !m.Prefix.IsZero() {
		s += ":" + m.Prefix.String() + " "
	}

	s += m.Command

	if len(s)+2 > MaxLineLength {
		return "", fmt.Errorf("message with only prefix/command is too long")
	}

	params := m.Params
	paramCount := len(params)
	if m.Recipient != "" {
		paramCount++
	}
	if paramCount > MaxParams {
		return "", fmt.Errorf("too many parameters")
	}

	if m.Recipient != "" {
		if strings.ContainsAny(m.Recipient, " ") {
			return "", fmt.Errorf("recipient contains a space")
		}
		if len(s)+1+len(m.Recipient)+2 > MaxLineLength {
			return "", fmt.Errorf("message too long for recipient")
		}
		s += " " + m.Recipient
	}

	truncated := false

	for i, p := range params {
		value := p.Value

		// A slot renders as trailing when its schema says so, or when the
		// value forces it: a space in the value, a leading ':', or an
		// empty value (which must stay visible, e.g. a TOPIC unset).
		trail := m.isTrailingSlot(p.Name) ||
			strings.ContainsAny(value, " ") ||
			value == "" ||
			value[0] == ':'

		if trail {
			// There can only be one <trailing> and it must be last.
			if i+1 != len(params) {
				return "", fmt.Errorf(
					"parameter problem: ':' or ' ' outside last parameter")
			}
			value = ":" + value
		}

		// If we add the parameter as is, do we exceed the maximum length?
		if len(s)+1+len(value)+2 > MaxLineLength {
			// Either we can truncate the parameter and include a portion
			// of it, or it is too short to include at all.
			lengthUsed := len(s) + 1 + 2
			lengthAvailable := MaxLineLength - lengthUsed

			if lengthAvailable > 0 {
				s += " " + value[0:lengthAvailable]
			}

			truncated = true
			break
		}

		s += " " + value
	}

	s += "\r\n"

	if truncated {
		return s, ErrTruncated
	}

	return s, nil
}

// isTrailingSlot reports whether the named slot is the trailing slot of
// this message's command schema.
func (m Message) isTrailingSlot(name string) bool {
	var schema []slot
	if IsNumeric(m.Command) {
		schema = numericParams[m.Command]
	} else {
		schema = commandParams[m.Command]
	}

	for _, s := range schema {
		if s.name == name {
			return s.trailing
		}
	}
	return false
}

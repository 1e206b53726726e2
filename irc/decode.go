package irc

import (
	"fmt"
	"strings"
)

// ParseMessage parses a protocol message. The message should include the
// trailing CRLF; a bare LF is tolerated and repaired.
//
// Parameters are bound to named slots using the command's schema. If a
// required slot is unfilled, the partially parsed message is returned
// together with a *MissingParamsError so the caller can still see the
// command when building ERR_NEEDMOREPARAMS.
//
// See RFC 1459/2812 section 2.3.1 for the grammar.
func ParseMessage(line string) (Message, error) {
	line, err := fixLineEnding(line)
	if err != nil {
		return Message{}, fmt.Errorf("line does not have a valid ending: %q", line)
	}

	if len(line) > MaxLineLength {
		return Message{}, ErrLineTooLong
	}

	message := Message{}
	index := 0

	// It is optional to have a prefix.
	if line[0] == ':' {
		prefix, prefixIndex, err := parsePrefixToken(line)
		if err != nil {
			return Message{}, fmt.Errorf("problem parsing prefix: %s", err)
		}
		index = prefixIndex

		message.Prefix = ParsePrefix(prefix)

		if index >= len(line) {
			return Message{}, fmt.Errorf("malformed message, prefix only")
		}
	}

	command, index, err := parseCommand(line, index)
	if err != nil {
		return Message{}, fmt.Errorf("problem parsing command: %s", err)
	}

	message.Command = command

	tokens, index, err := parseTokens(line, index)
	if err != nil {
		return Message{}, fmt.Errorf("problem parsing params: %s", err)
	}

	if len(tokens) > MaxParams {
		return Message{}, fmt.Errorf("too many parameters")
	}

	// index should be pointing at the CR after parsing params.
	if index != len(line)-2 || line[index] != '\r' || line[index+1] != '\n' {
		return Message{}, fmt.Errorf("malformed message, no CRLF found")
	}

	return bindParams(message, tokens)
}

// bindParams assigns the raw parameter tokens to the named slots of the
// command's schema.
func bindParams(m Message, tokens []string) (Message, error) {
	if IsNumeric(m.Command) {
		if len(tokens) > 0 {
			m.Recipient = tokens[0]
			tokens = tokens[1:]
		}
		schema, ok := numericParams[m.Command]
		if !ok {
			bindPositional(&m, tokens)
			return m, nil
		}
		return bindSchema(m, schema, tokens)
	}

	schema, ok := commandParams[m.Command]
	if !ok {
		// Unknown verb. It still parses; the dispatcher decides what to
		// do with it.
		bindPositional(&m, tokens)
		return m, nil
	}
	return bindSchema(m, schema, tokens)
}

func bindSchema(m Message, schema []slot, tokens []string) (Message, error) {
	for i, s := range schema {
		if i >= len(tokens) {
			if s.optional {
				continue
			}
			return m, &MissingParamsError{Command: m.Command, Slot: s.name}
		}

		value := tokens[i]

		// Clients commonly omit the ':' marker on a one-word trailing
		// argument, or send extra middles where a trailing was meant.
		// Fold any leftover tokens into the trailing slot.
		if s.trailing && i < len(tokens)-1 {
			value = strings.Join(tokens[i:], " ")
		}

		m.Params = append(m.Params, Param{Name: s.name, Value: value})
	}

	return m, nil
}

func bindPositional(m *Message, tokens []string) {
	for i, t := range tokens {
		m.Params = append(m.Params, Param{Name: positionalName(i), Value: t})
	}
}

// fixLineEnding tries to ensure the line ends with CRLF.
//
// If it ends with only LF, add a CR.
func fixLineEnding(line string) (string, error) {
	if len(line) == 0 {
		return "", fmt.Errorf("line is blank")
	}

	if len(line) == 1 {
		if line[0] == '\n' {
			return "\r\n", nil
		}
		return "", fmt.Errorf("line does not end with LF")
	}

	lastIndex := len(line) - 1
	secondLastIndex := lastIndex - 1

	if line[secondLastIndex] == '\r' && line[lastIndex] == '\n' {
		return line, nil
	}

	if line[lastIndex] == '\n' {
		return line[:lastIndex] + "\r\n", nil
	}

	return "", fmt.Errorf("line has no ending CRLF or LF")
}

// parsePrefixToken parses out the prefix portion of a string.
//
// line begins with : and ends with \n.
//
// If there is no error we return the prefix token and the position
// after the SPACE, i.e. the first character of the command in a well
// formed message.
func parsePrefixToken(line string) (string, int, error) {
	pos := 0

	if line[pos] != ':' {
		return "", -1, fmt.Errorf("line does not start with ':'")
	}

	for pos < len(line) {
		if line[pos] == ' ' {
			break
		}

		if line[pos] == '\x00' || line[pos] == '\n' || line[pos] == '\r' {
			return "", -1, fmt.Errorf("invalid character found: %q", line[pos])
		}

		pos++
	}

	if pos == len(line) {
		return "", -1, fmt.Errorf("no space found")
	}

	if pos == 1 {
		return "", -1, fmt.Errorf("prefix is zero length")
	}

	return line[1:pos], pos + 1, nil
}

// parseCommand parses the command portion of a message.
//
// The command is either a run of letters or of digits. A digit run is
// normalized to a zero-padded 3-digit code; letters are uppercased.
func parseCommand(line string, index int) (string, int, error) {
	newIndex := index

	for newIndex < len(line) {
		if line[newIndex] >= '0' && line[newIndex] <= '9' {
			newIndex++
			continue
		}

		if (line[newIndex] >= 'A' && line[newIndex] <= 'Z') ||
			(line[newIndex] >= 'a' && line[newIndex] <= 'z') {
			newIndex++
			continue
		}

		if line[newIndex] != ' ' && line[newIndex] != '\r' {
			return "", -1, fmt.Errorf("unexpected character after command: %q",
				line[newIndex])
		}
		break
	}

	if newIndex == index {
		return "", -1, fmt.Errorf("0 length command found")
	}

	command := strings.ToUpper(line[index:newIndex])

	if isDigits(command) {
		for len(command) < 3 {
			command = "0" + command
		}
	}

	return command, newIndex, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// parseTokens parses the raw parameter tokens of a message.
//
// The given index points at the first character after the command. We
// return each token (stripped of ':' in the case of trailing) and the
// index after the params end. An empty token can only have come from an
// empty trailing ("... :").
func parseTokens(line string, index int) ([]string, int, error) {
	newIndex := index
	var tokens []string

	for newIndex < len(line) {
		if line[newIndex] != ' ' {
			return tokens, newIndex, nil
		}

		token, tokenIndex, err := parseToken(line, newIndex)
		if err != nil {
			// It is common in the wild (ratbox, quassel) for there to be
			// stray spaces before the CRLF. Permit this despite it
			// arguably being invalid.
			if err == errEmptyParam {
				crIndex := isTrailingSpace(line, newIndex)
				if crIndex != -1 {
					return tokens, crIndex, nil
				}
			}

			return nil, -1, fmt.Errorf("problem parsing parameter: %s", err)
		}

		newIndex = tokenIndex
		tokens = append(tokens, token)
	}

	return nil, -1, fmt.Errorf("malformed params, not terminated properly")
}

// parseToken parses out a single parameter term.
//
// index points to a space. We return the token and the index after it
// ends.
func parseToken(line string, index int) (string, int, error) {
	newIndex := index

	if line[newIndex] != ' ' {
		return "", -1, fmt.Errorf("malformed param, no leading space")
	}

	newIndex++

	if len(line) == newIndex {
		return "", -1, fmt.Errorf("malformed parameter, end of string after space")
	}

	// SPACE ":" trailing
	if line[newIndex] == ':' {
		newIndex++

		if len(line) == newIndex {
			return "", -1, fmt.Errorf("malformed parameter, end of string after ':'")
		}

		// It is valid for there to be no characters. Because:
		// trailing = *( ":" / " " / nospcrlfcl )
		tokenIndexStart := newIndex

		for newIndex < len(line) {
			if line[newIndex] == '\x00' || line[newIndex] == '\r' ||
				line[newIndex] == '\n' {
				break
			}
			newIndex++
		}

		return line[tokenIndexStart:newIndex], newIndex, nil
	}

	// We are parsing a <middle>: any character except NUL, CR, LF, or
	// space.
	tokenIndexStart := newIndex

	for newIndex < len(line) {
		if line[newIndex] == '\x00' || line[newIndex] == '\r' ||
			line[newIndex] == '\n' || line[newIndex] == ' ' {
			break
		}
		newIndex++
	}

	// Must have at least one character in this case. See grammar for
	// 'middle'.
	if tokenIndexStart == newIndex {
		return "", -1, errEmptyParam
	}

	return line[tokenIndexStart:newIndex], newIndex, nil
}

// If the string from the given position to the end contains nothing but
// spaces until we reach CRLF, return the position of CR.
func isTrailingSpace(line string, index int) int {
	for i := index; i < len(line); i++ {
		if line[i] == ' ' {
			continue
		}

		if line[i] == '\r' {
			return i
		}

		return -1
	}

	return -1
}

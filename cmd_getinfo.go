package torctl

import "strings"

// GetInfoCommand builds a GETINFO or GETCONF request for one or more keys
// and collects the reply into a multimap, since GETCONF may return several
// values for a repeatable configuration option.
type GetInfoCommand struct {
	verb    string // "GETINFO" or "GETCONF"
	keys    []string
	pending *PendingOperation[map[string][]string]
	result  map[string][]string
}

// NewGetInfoCommand builds a GETINFO request for keys.
func NewGetInfoCommand(keys ...string) *GetInfoCommand {
	return newKeyValueCommand("GETINFO", keys)
}

// NewGetConfCommand builds a GETCONF request for keys.
func NewGetConfCommand(keys ...string) *GetInfoCommand {
	return newKeyValueCommand("GETCONF", keys)
}

func newKeyValueCommand(verb string, keys []string) *GetInfoCommand {
	return &GetInfoCommand{
		verb:    verb,
		keys:    keys,
		pending: NewPendingOperation[map[string][]string](),
		result:  make(map[string][]string),
	}
}

// Wait returns the future result of this command.
func (c *GetInfoCommand) Wait() *PendingOperation[map[string][]string] {
	return c.pending
}

// Build implements Command.
func (c *GetInfoCommand) Build() []byte {
	return []byte(c.verb + " " + strings.Join(c.keys, " ") + "\r\n")
}

// OnReplyLine implements Command.
func (c *GetInfoCommand) OnReplyLine(code int, sep byte, payload []byte) bool {
	switch sep {
	case '-':
		c.addLine(string(payload))
	case '+':
		c.addMultiline(string(payload))
	case ' ':
		if code == 250 {
			c.addLine(string(payload))
			c.pending.Resolve(c.result)
		} else {
			c.pending.Reject(newError(ErrProtocolError, c.verb, "non-250 terminal reply", nil))
		}
		return true
	}
	return false
}

// addLine parses a single "KEY=VALUE" reply line into the result map.
func (c *GetInfoCommand) addLine(text string) {
	if text == "" || text == "OK" {
		return
	}
	key, value, ok := strings.Cut(text, "=")
	if !ok {
		return
	}
	if unquoted, err := unquoteString(value); err == nil {
		value = unquoted
	}
	c.result[key] = append(c.result[key], value)
}

// addMultiline parses a CmdData block whose header line is "KEY=" and
// whose body is one value per line, joined by "\n" per joinLines.
func (c *GetInfoCommand) addMultiline(joined string) {
	header, body, _ := strings.Cut(joined, "\n")
	key := strings.TrimSuffix(header, "=")
	if key == "" {
		return
	}
	if body == "" {
		c.result[key] = append(c.result[key], "")
		return
	}
	for _, line := range strings.Split(body, "\n") {
		c.result[key] = append(c.result[key], line)
	}
}

// Fail implements Command.
func (c *GetInfoCommand) Fail(err error) {
	if !c.pending.Settled() {
		c.pending.Reject(err)
	}
}

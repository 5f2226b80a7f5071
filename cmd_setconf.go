package torctl

import "strings"

// SetConfCommand builds SETCONF (or RESETCONF, when Reset is true) for one
// or more key/value pairs, quoting values that contain whitespace or
// quotes per §6.
type SetConfCommand struct {
	pairs   []KeyValue
	Reset   bool
	pending *PendingOperation[struct{}]
}

// KeyValue is one SETCONF/RESETCONF argument. AlwaysQuote forces double
// quoting even when Value contains no whitespace, for directives Tor
// itself always quotes on the wire (e.g. HiddenServiceDir).
type KeyValue struct {
	Key         string
	Value       string
	AlwaysQuote bool
}

// NewSetConfCommand builds a SETCONF request for pairs.
func NewSetConfCommand(pairs ...KeyValue) *SetConfCommand {
	return &SetConfCommand{pairs: pairs, pending: NewPendingOperation[struct{}]()}
}

// Wait returns the future result of this command.
func (c *SetConfCommand) Wait() *PendingOperation[struct{}] {
	return c.pending
}

// Build implements Command.
func (c *SetConfCommand) Build() []byte {
	verb := "SETCONF"
	if c.Reset {
		verb = "RESETCONF"
	}
	var b strings.Builder
	b.WriteString(verb)
	for _, kv := range c.pairs {
		b.WriteByte(' ')
		b.WriteString(kv.Key)
		if kv.Value != "" || !c.Reset {
			b.WriteByte('=')
			if kv.AlwaysQuote {
				b.WriteString(quoteString(kv.Value))
			} else {
				b.WriteString(quoteIfNeeded(kv.Value))
			}
		}
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// OnReplyLine implements Command.
func (c *SetConfCommand) OnReplyLine(code int, sep byte, payload []byte) bool {
	if sep != ' ' {
		return false
	}
	if code == 250 {
		c.pending.Resolve(struct{}{})
	} else {
		c.pending.Reject(newError(ErrPublicationFailed, "SETCONF", string(payload), nil))
	}
	return true
}

// Fail implements Command.
func (c *SetConfCommand) Fail(err error) {
	if !c.pending.Settled() {
		c.pending.Reject(err)
	}
}

package torctl

import (
	"strconv"
	"strings"
)

// AuthMethod is a bitset of authentication methods a Tor daemon offers, as
// reported in PROTOCOLINFO's "AUTH METHODS=" line.
type AuthMethod uint8

// AuthMethod bit values, matching the METHODS names Tor emits.
const (
	AuthNull AuthMethod = 1 << iota
	AuthHashedPassword
	AuthCookie
	AuthSafeCookie
)

// Has reports whether m includes method.
func (m AuthMethod) Has(method AuthMethod) bool {
	return m&method != 0
}

// ProtocolInfoResult is the parsed outcome of a PROTOCOLINFO command.
type ProtocolInfoResult struct {
	Methods    AuthMethod
	CookiePath string
	TorVersion string
}

// ProtocolInfoCommand sends "PROTOCOLINFO 1" and parses the AUTH and
// VERSION lines Tor returns.
type ProtocolInfoCommand struct {
	pending *PendingOperation[ProtocolInfoResult]
	result  ProtocolInfoResult
}

// NewProtocolInfoCommand constructs an unsent PROTOCOLINFO command.
func NewProtocolInfoCommand() *ProtocolInfoCommand {
	return &ProtocolInfoCommand{pending: NewPendingOperation[ProtocolInfoResult]()}
}

// Wait returns the future result of this command.
func (c *ProtocolInfoCommand) Wait() *PendingOperation[ProtocolInfoResult] {
	return c.pending
}

// Build implements Command.
func (c *ProtocolInfoCommand) Build() []byte {
	return []byte("PROTOCOLINFO 1\r\n")
}

// OnReplyLine implements Command.
func (c *ProtocolInfoCommand) OnReplyLine(code int, sep byte, payload []byte) bool {
	text := string(payload)
	switch {
	case strings.HasPrefix(text, "PROTOCOLINFO"):
		// nothing to extract, just acknowledges the protocol version echo
	case strings.HasPrefix(text, "AUTH "):
		parseAuthLine(text, &c.result)
	case strings.HasPrefix(text, "VERSION "):
		parseVersionLine(text, &c.result)
	}
	if sep == ' ' {
		if code == 250 {
			c.pending.Resolve(c.result)
		} else {
			c.pending.Reject(newError(ErrProtocolError, "PROTOCOLINFO", "non-250 terminal reply", nil))
		}
		return true
	}
	return false
}

// Fail implements Command.
func (c *ProtocolInfoCommand) Fail(err error) {
	if !c.pending.Settled() {
		c.pending.Reject(err)
	}
}

func parseAuthLine(text string, out *ProtocolInfoResult) {
	for _, field := range splitQuotedFields(text) {
		switch {
		case strings.HasPrefix(field, "METHODS="):
			for _, name := range strings.Split(strings.TrimPrefix(field, "METHODS="), ",") {
				switch name {
				case "NULL":
					out.Methods |= AuthNull
				case "HASHEDPASSWORD":
					out.Methods |= AuthHashedPassword
				case "COOKIE":
					out.Methods |= AuthCookie
				case "SAFECOOKIE":
					out.Methods |= AuthSafeCookie
				}
			}
		case strings.HasPrefix(field, "COOKIEFILE="):
			raw := strings.TrimPrefix(field, "COOKIEFILE=")
			if unquoted, err := unquoteString(raw); err == nil {
				out.CookiePath = unquoted
			} else {
				out.CookiePath = raw
			}
		}
	}
}

func parseVersionLine(text string, out *ProtocolInfoResult) {
	const prefix = "VERSION Tor="
	idx := strings.Index(text, prefix)
	if idx < 0 {
		return
	}
	rest := text[idx+len(prefix):]
	if unquoted, err := unquoteString(rest); err == nil {
		out.TorVersion = unquoted
		return
	}
	// Fall back to the first whitespace-delimited token if unquoting fails.
	if sp := strings.IndexAny(rest, " \t"); sp >= 0 {
		rest = rest[:sp]
	}
	out.TorVersion = strings.Trim(rest, "\"")
}

// socksEndpointFromListeners parses a `net/listeners/socks="host:port"`
// GETINFO value into host and port.
func socksEndpointFromListeners(value string) (host string, port int, ok bool) {
	unquoted, err := unquoteString(value)
	if err != nil {
		unquoted = strings.Trim(value, "\"")
	}
	fields := strings.Fields(unquoted)
	if len(fields) == 0 {
		return "", 0, false
	}
	h, p, err := splitHostPort(fields[0])
	if err != nil {
		return "", 0, false
	}
	return h, p, true
}

func splitHostPort(hostport string) (string, int, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return "", 0, newError(ErrProtocolError, "splitHostPort", "missing port in "+hostport, nil)
	}
	port, err := strconv.Atoi(hostport[idx+1:])
	if err != nil {
		return "", 0, err
	}
	return hostport[:idx], port, nil
}

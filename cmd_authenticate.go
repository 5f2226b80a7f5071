package torctl

import (
	"encoding/hex"
	"os"
)

// cookieLength is the fixed size of a Tor control-port auth cookie file.
// Any other length is refused so a misconfigured COOKIEFILE path can never
// be coerced into leaking an arbitrary file's contents hex-encoded to Tor.
const cookieLength = 32

// AuthenticateCommand sends AUTHENTICATE with data selected according to
// the methods PROTOCOLINFO offered: NULL first, then a 32-byte cookie
// file, then a hashed password, in that priority order.
type AuthenticateCommand struct {
	pending    *PendingOperation[struct{}]
	sentEmpty  bool
	cookiePath string
	methods    AuthMethod
	password   string
}

// NewAuthenticateCommand builds an AUTHENTICATE command that will pick the
// best available method from info given password (may be empty).
func NewAuthenticateCommand(info ProtocolInfoResult, password string) *AuthenticateCommand {
	return &AuthenticateCommand{
		pending:    NewPendingOperation[struct{}](),
		cookiePath: info.CookiePath,
		methods:    info.Methods,
		password:   password,
	}
}

// Wait returns the future result of this command.
func (c *AuthenticateCommand) Wait() *PendingOperation[struct{}] {
	return c.pending
}

// Build implements Command. It resolves selection errors (no usable
// method, unreadable/wrong-length cookie) synchronously rather than
// sending anything, so callers must check Wait() even before a reply
// arrives.
func (c *AuthenticateCommand) Build() []byte {
	token, err := c.selectToken()
	if err != nil {
		c.pending.Reject(err)
		return nil
	}
	if token == "" {
		c.sentEmpty = true
		return []byte("AUTHENTICATE\r\n")
	}
	return []byte("AUTHENTICATE " + token + "\r\n")
}

func (c *AuthenticateCommand) selectToken() (string, error) {
	if c.methods.Has(AuthNull) {
		return "", nil
	}
	if c.methods.Has(AuthCookie) || c.methods.Has(AuthSafeCookie) {
		cookie, err := readControlCookie(c.cookiePath)
		if err == nil {
			return hex.EncodeToString(cookie), nil
		}
		if !(c.methods.Has(AuthHashedPassword) && c.password != "") {
			return "", err
		}
		// Cookie unusable but a hashed-password fallback exists; fall
		// through instead of failing the whole AUTHENTICATE attempt.
	}
	if c.methods.Has(AuthHashedPassword) && c.password != "" {
		return hex.EncodeToString([]byte(c.password)), nil
	}
	return "", newError(ErrAuthUnavailable, "AUTHENTICATE", "no supported authentication method with usable credentials", nil)
}

// readControlCookie reads and validates a control-port auth cookie file,
// rejecting any file that is not exactly cookieLength bytes so a hostile
// or misconfigured COOKIEFILE cannot be used to exfiltrate arbitrary file
// contents through the hex-encoded AUTHENTICATE argument.
func readControlCookie(path string) ([]byte, error) {
	if path == "" {
		return nil, newError(ErrCookieUnreadable, "AUTHENTICATE", "no cookie file path advertised", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrCookieUnreadable, "AUTHENTICATE", "cookie file unreadable: "+path, err)
	}
	if len(data) != cookieLength {
		return nil, newError(ErrCookieUnreadable, "AUTHENTICATE", "cookie file has unexpected length", nil)
	}
	return data, nil
}

// OnReplyLine implements Command.
func (c *AuthenticateCommand) OnReplyLine(code int, sep byte, _ []byte) bool {
	if sep != ' ' {
		return false
	}
	if code == 250 {
		c.pending.Resolve(struct{}{})
	} else {
		c.pending.Reject(newError(ErrAuthRejected, "AUTHENTICATE", "Tor rejected authentication", nil))
	}
	return true
}

// Fail implements Command.
func (c *AuthenticateCommand) Fail(err error) {
	if !c.pending.Settled() {
		c.pending.Reject(err)
	}
}

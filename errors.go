package torctl

import "fmt"

// ErrorKind classifies torctl errors so callers can branch on error type
// without type-asserting a concrete struct for every failure mode.
type ErrorKind string

// ErrorKind values, one per failure mode surfaced across the module.
const (
	// ErrConnectFailed indicates the TCP dial or non-blocking socket setup failed.
	ErrConnectFailed ErrorKind = "connect_failed"
	// ErrProtocolError indicates an unparseable reply or unexpected terminal code.
	ErrProtocolError ErrorKind = "protocol_error"
	// ErrAuthUnavailable indicates no supported auth method was offered with usable credentials.
	ErrAuthUnavailable ErrorKind = "authentication_unavailable"
	// ErrAuthRejected indicates Tor rejected AUTHENTICATE.
	ErrAuthRejected ErrorKind = "authentication_rejected"
	// ErrCookieUnreadable indicates the cookie file was missing or the wrong length.
	ErrCookieUnreadable ErrorKind = "cookie_unreadable"
	// ErrPublicationFailed indicates ADD_ONION or SETCONF publication failed.
	ErrPublicationFailed ErrorKind = "publication_failed"
	// ErrConfigWriteFailed indicates a torrc path was rejected or the write failed.
	ErrConfigWriteFailed ErrorKind = "configuration_write_failed"
	// ErrReconnectThrottled indicates the reconnect governor rejected the attempt.
	ErrReconnectThrottled ErrorKind = "reconnect_throttled"
	// ErrVaultDecryptFailed indicates a key vault file could not be decrypted.
	ErrVaultDecryptFailed ErrorKind = "vault_decrypt_failed"
	// ErrIO wraps generic file or randomness I/O failures.
	ErrIO ErrorKind = "io_error"
	// ErrInvalidConfig indicates the caller supplied invalid configuration.
	ErrInvalidConfig ErrorKind = "invalid_config"
)

// Error wraps an underlying error with a Kind and an operation label so
// callers can branch on classification while keeping the original cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func newError(kind ErrorKind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	message := string(e.Kind)
	if e.Op != "" {
		message = fmt.Sprintf("%s: %s", e.Op, message)
	}
	if e.Msg != "" {
		message = fmt.Sprintf("%s: %s", message, e.Msg)
	}
	if e.Err != nil {
		message = fmt.Sprintf("%s: %s", message, e.Err)
	}
	return message
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target has the same Kind, so callers can write
// errors.Is(err, &Error{Kind: ErrAuthRejected}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

package torctl

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxLineLength bounds a single control-protocol line, generous enough for
// any PROTOCOLINFO/GETINFO reply Tor emits.
const maxLineLength = 16384

// ControlSocket is a line-framed reader over a ByteQueue. It matches
// synchronous replies to the command at the front of an ordered queue
// (Tor guarantees in-order replies) and routes async 650 lines to
// registered EventHandlers by the reply's first whitespace-separated
// token.
type ControlSocket struct {
	pipe     *ByteQueue
	queue    []pendingCommand
	handlers map[string]EventHandler
	password string
	log      *zap.Logger

	inCmdData    bool
	cmdDataCode  int
	cmdDataHead  []byte
	cmdDataLines [][]byte
}

type pendingCommand struct {
	id  uuid.UUID
	cmd Command
}

// NewControlSocket wraps pipe with command-queue and event-dispatch logic.
func NewControlSocket(pipe *ByteQueue, log *zap.Logger) *ControlSocket {
	if log == nil {
		log = zap.NewNop()
	}
	return &ControlSocket{
		pipe:     pipe,
		handlers: make(map[string]EventHandler),
		log:      log,
	}
}

// DialControlSocket opens a TCP connection to a Tor ControlPort and wraps
// it in a ControlSocket.
func DialControlSocket(ctx context.Context, address string, port int, log *zap.Logger) (*ControlSocket, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, newError(ErrConnectFailed, "DialControlSocket", "TCP dial failed", err)
	}
	pipe, err := NewByteQueue(conn, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return NewControlSocket(pipe, log), nil
}

// SetPassword stores the opaque control-port password used by AUTHENTICATE.
func (s *ControlSocket) SetPassword(password string) {
	s.password = password
}

// Password returns the configured control-port password.
func (s *ControlSocket) Password() string {
	return s.password
}

// RegisterEventHandler routes every future 650 line whose first token is
// keyword to handler.
func (s *ControlSocket) RegisterEventHandler(keyword string, handler EventHandler) {
	s.handlers[keyword] = handler
}

// SendCommand enqueues cmd and writes its Build() bytes to the pipe. Tor
// replies to commands strictly in issue order, so cmd is appended to the
// back of the queue. A Command whose Build() returns nil has already
// settled its own result synchronously (e.g. AUTHENTICATE with no usable
// credentials) and is never enqueued, since no reply will ever arrive for
// it.
func (s *ControlSocket) SendCommand(cmd Command) uuid.UUID {
	id := uuid.New()
	built := cmd.Build()
	if built == nil {
		s.log.Debug("torctl: command settled without sending", correlationField(id.String()))
		return id
	}
	s.queue = append(s.queue, pendingCommand{id: id, cmd: cmd})
	s.pipe.SendData(built)
	s.log.Debug("torctl: command queued", correlationField(id.String()))
	return id
}

// Tick pumps the underlying pipe and processes every complete line it now
// has buffered.
func (s *ControlSocket) Tick() error {
	s.pipe.Tick()
	for {
		line, ok := s.pipe.ReadLine(maxLineLength)
		if !ok {
			return nil
		}
		if err := s.handleLine(trimCRLF(line)); err != nil {
			return err
		}
	}
}

func trimCRLF(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line
}

func (s *ControlSocket) handleLine(line []byte) error {
	if s.inCmdData {
		if string(line) == "." {
			s.inCmdData = false
			payload := joinLines(append([][]byte{s.cmdDataHead}, s.cmdDataLines...))
			s.cmdDataHead = nil
			s.cmdDataLines = nil
			return s.dispatch(s.cmdDataCode, '+', payload)
		}
		s.cmdDataLines = append(s.cmdDataLines, line)
		return nil
	}

	if len(line) < 4 {
		return s.protocolError("reply line shorter than 4 bytes: %q", line)
	}
	code, err := strconv.Atoi(string(line[0:3]))
	if err != nil || code < 100 || code > 999 {
		return s.protocolError("reply line has non-numeric status code: %q", line)
	}
	sep := line[3]
	payload := line[4:]

	switch sep {
	case '-', ' ':
		return s.dispatch(code, sep, payload)
	case '+':
		s.inCmdData = true
		s.cmdDataCode = code
		s.cmdDataHead = payload
		s.cmdDataLines = nil
		return nil
	default:
		return s.protocolError("reply line has unknown separator %q: %q", sep, line)
	}
}

func (s *ControlSocket) dispatch(code int, sep byte, payload []byte) error {
	if code == 650 {
		s.dispatchEvent(payload)
		return nil
	}
	if len(s.queue) == 0 {
		return s.protocolError("reply line with no pending command: %d%c%s", code, sep, payload)
	}
	front := &s.queue[0]
	terminal := front.cmd.OnReplyLine(code, sep, payload)
	if terminal {
		s.queue = s.queue[1:]
	}
	return nil
}

func (s *ControlSocket) dispatchEvent(payload []byte) {
	fields := splitQuotedFields(string(payload))
	if len(fields) == 0 {
		return
	}
	handler, ok := s.handlers[fields[0]]
	if !ok {
		s.log.Debug("torctl: unhandled async event", zap.String("keyword", fields[0]))
		return
	}
	handler.OnEvent(payload)
}

func (s *ControlSocket) protocolError(format string, args ...interface{}) error {
	err := newError(ErrProtocolError, "ControlSocket", fmt.Sprintf(format, args...), nil)
	s.failAll(err)
	return err
}

// failAll resolves every queued command with err, used when the connection
// drops or a reply cannot be parsed. It does not touch any EventHandler.
func (s *ControlSocket) failAll(err error) {
	for _, pc := range s.queue {
		pc.cmd.Fail(err)
	}
	s.queue = nil
}

// Close closes the underlying pipe and fails any commands still queued.
func (s *ControlSocket) Close() error {
	s.failAll(newError(ErrConnectFailed, "ControlSocket", "connection closed", nil))
	return s.pipe.Close()
}

// Active reports whether the underlying pipe is still usable.
func (s *ControlSocket) Active() bool {
	return s.pipe.Active()
}

func joinLines(lines [][]byte) []byte {
	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	out := make([]byte, 0, total)
	for i, l := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, l...)
	}
	return out
}

// tickInterval is the nominal driver cadence recommended by §5.
const tickInterval = 20 * time.Millisecond

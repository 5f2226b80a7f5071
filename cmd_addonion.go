package torctl

import (
	"fmt"
	"strconv"
	"strings"
)

// PortMapping is one `Port=<service_port>,<target_host>:<target_port>`
// argument to ADD_ONION or one `HiddenServicePort` line under legacy
// SETCONF-based publication.
type PortMapping struct {
	ServicePort int
	TargetHost  string
	TargetPort  int
}

func (p PortMapping) String() string {
	return fmt.Sprintf("%d %s:%d", p.ServicePort, p.TargetHost, p.TargetPort)
}

// AddOnionResult is the parsed outcome of an ADD_ONION command.
type AddOnionResult struct {
	ServiceID  string
	PrivateKey string // only set when Tor generated a new key (NEW:... keyspec)
}

// AddOnionCommand builds `ADD_ONION <keyspec> Port=...` where keyspec is
// "NEW:BEST" to ask Tor to generate a key, or an existing CryptoKey's wire
// form ("RSA1024:<blob>" / "ED25519-V3:<blob>") to import one.
type AddOnionCommand struct {
	keySpec string
	ports   []PortMapping
	pending *PendingOperation[AddOnionResult]
	result  AddOnionResult
}

// NewAddOnionCommand builds an ADD_ONION request. keySpec should be
// "NEW:BEST" or a CryptoKey's WireForm().
func NewAddOnionCommand(keySpec string, ports ...PortMapping) *AddOnionCommand {
	return &AddOnionCommand{
		keySpec: keySpec,
		ports:   ports,
		pending: NewPendingOperation[AddOnionResult](),
	}
}

// Wait returns the future result of this command.
func (c *AddOnionCommand) Wait() *PendingOperation[AddOnionResult] {
	return c.pending
}

// Build implements Command.
func (c *AddOnionCommand) Build() []byte {
	var b strings.Builder
	b.WriteString("ADD_ONION ")
	b.WriteString(c.keySpec)
	for _, p := range c.ports {
		b.WriteString(" Port=")
		b.WriteString(strconv.Itoa(p.ServicePort))
		b.WriteByte(',')
		b.WriteString(p.TargetHost)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(p.TargetPort))
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// OnReplyLine implements Command.
func (c *AddOnionCommand) OnReplyLine(code int, sep byte, payload []byte) bool {
	text := string(payload)
	switch {
	case strings.HasPrefix(text, "ServiceID="):
		c.result.ServiceID = strings.TrimPrefix(text, "ServiceID=")
	case strings.HasPrefix(text, "PrivateKey="):
		c.result.PrivateKey = strings.TrimPrefix(text, "PrivateKey=")
	}
	if sep == ' ' {
		if code == 250 {
			c.pending.Resolve(c.result)
		} else {
			c.pending.Reject(newError(ErrPublicationFailed, "ADD_ONION", text, nil))
		}
		return true
	}
	return false
}

// Fail implements Command.
func (c *AddOnionCommand) Fail(err error) {
	if !c.pending.Settled() {
		c.pending.Reject(err)
	}
}

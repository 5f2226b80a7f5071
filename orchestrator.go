package torctl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TorControlState is the orchestrator's top-level connection/publication
// state machine, as described in §4.6.
type TorControlState int

// TorControlState values.
const (
	StateNotConnected TorControlState = iota
	StateConnecting
	StateSocketConnected
	StateAuthenticating
	StateAuthenticated
	StateHiddenServiceReady
	StateError
)

// String implements fmt.Stringer.
func (s TorControlState) String() string {
	switch s {
	case StateNotConnected:
		return "NotConnected"
	case StateConnecting:
		return "Connecting"
	case StateSocketConnected:
		return "SocketConnected"
	case StateAuthenticating:
		return "Authenticating"
	case StateAuthenticated:
		return "Authenticated"
	case StateHiddenServiceReady:
		return "HiddenServiceReady"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// TorStatus is Tor's self-reported bootstrap/circuit status, orthogonal to
// TorControlState.
type TorStatus int

// TorStatus values.
const (
	TorStatusUnknown TorStatus = iota
	TorStatusOffline
	TorStatusReady
)

// String implements fmt.Stringer.
func (s TorStatus) String() string {
	switch s {
	case TorStatusOffline:
		return "Offline"
	case TorStatusReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// legacyAddOnionVersion is the first Tor release with ADD_ONION support;
// older daemons must be configured through legacy SETCONF-based
// publication instead.
const legacyAddOnionVersion = "0.2.7.0"

// runtimeConfigPrefixes are the config-text lines SaveConfiguration omits
// because Tor regenerates them at runtime.
var runtimeConfigPrefixes = []string{
	"ControlPortWriteToFile",
	"DataDirectory",
	"HiddenServiceDir",
	"HiddenServicePort",
}

// Orchestrator drives the connect -> authenticate -> query -> publish
// state machine described in §4.6. All methods are meant to be called from
// a single driver goroutine; see §5 for the concurrency model.
type Orchestrator struct {
	cfg     ClientConfig
	log     *zap.Logger
	socket  *ControlSocket
	pollers []func() bool
	limiter *rate.Limiter

	state      TorControlState
	torStatus  TorStatus
	bootstrap  map[string]string
	torVersion string
	socksHost  string
	socksPort  int
	errMsg     string

	services  []*HiddenService
	anyOnline bool

	observers observerList
}

// NewOrchestrator constructs an Orchestrator in StateNotConnected.
func NewOrchestrator(cfg ClientConfig) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		log:       cfg.logger(),
		limiter:   cfg.reconnectLimiter(),
		state:     StateNotConnected,
		bootstrap: make(map[string]string),
		services:  cfg.Services,
		observers: append(observerList{}, cfg.Observers...),
	}
}

// State returns the current TorControlState.
func (o *Orchestrator) State() TorControlState { return o.state }

// TorStatus returns Tor's self-reported bootstrap/circuit status.
func (o *Orchestrator) TorStatus() TorStatus { return o.torStatus }

// ErrorMessage returns the human-readable message recorded when the
// machine last entered StateError, or "" otherwise.
func (o *Orchestrator) ErrorMessage() string { return o.errMsg }

// BootstrapStatus returns a snapshot copy of the current bootstrap keyword
// map, safe for the host to read from any goroutine.
func (o *Orchestrator) BootstrapStatus() map[string]string {
	out := make(map[string]string, len(o.bootstrap))
	for k, v := range o.bootstrap {
		out[k] = v
	}
	return out
}

// SocksAddress returns the host portion of Tor's SOCKS listener, once
// known (after Authenticated).
func (o *Orchestrator) SocksAddress() string { return o.socksHost }

// SocksPort returns the port of Tor's SOCKS listener, once known.
func (o *Orchestrator) SocksPort() int { return o.socksPort }

// Services returns the hidden services this orchestrator manages.
func (o *Orchestrator) Services() []*HiddenService { return o.services }

// AddService registers an additional hidden service to publish on the
// next call to publishServices (i.e. the next successful authentication).
func (o *Orchestrator) AddService(hs *HiddenService) {
	o.services = append(o.services, hs)
}

// Connect dials the Tor ControlPort at cfg.Address:cfg.ControlPort and
// begins the PROTOCOLINFO/AUTHENTICATE/publish sequence. It consumes one
// token from the reconnect governor; a call made while the governor has no
// tokens returns ErrReconnectThrottled without touching the network.
func (o *Orchestrator) Connect(ctx context.Context) error {
	if o.state != StateNotConnected && o.state != StateError {
		return newError(ErrConnectFailed, "Connect", "already connected or connecting", nil)
	}
	if !o.limiter.Allow() {
		return newError(ErrReconnectThrottled, "Connect", "reconnect attempted too soon", nil)
	}
	o.setState(StateConnecting)

	socket, err := DialControlSocket(ctx, o.cfg.Address, o.cfg.ControlPort, o.log)
	if err != nil {
		o.fail(err)
		return err
	}
	o.socket = socket
	o.socket.SetPassword(o.cfg.Password)
	o.torStatus = TorStatusOffline
	o.observers.torStatusChanged(o.torStatus)
	o.setState(StateSocketConnected)

	piCmd := NewProtocolInfoCommand()
	o.socket.SendCommand(piCmd)
	o.await(piCmd.Wait().Done(), func() {
		res, err := piCmd.Wait().Result()
		if err != nil {
			o.fail(err)
			return
		}
		o.onProtocolInfo(res)
	})
	return nil
}

func (o *Orchestrator) onProtocolInfo(info ProtocolInfoResult) {
	o.torVersion = info.TorVersion
	o.setState(StateAuthenticating)

	authCmd := NewAuthenticateCommand(info, o.cfg.Password)
	o.socket.SendCommand(authCmd)
	o.await(authCmd.Wait().Done(), func() {
		if _, err := authCmd.Wait().Result(); err != nil {
			o.fail(err)
			return
		}
		o.onAuthenticated()
	})
}

func (o *Orchestrator) onAuthenticated() {
	o.setState(StateAuthenticated)
	o.socket.RegisterEventHandler("STATUS_CLIENT", EventHandlerFunc(o.handleStatusClient))

	infoCmd := NewGetInfoCommand("status/circuit-established", "status/bootstrap-phase", "net/listeners/socks")
	o.socket.SendCommand(infoCmd)
	o.await(infoCmd.Wait().Done(), func() {
		res, err := infoCmd.Wait().Result()
		if err != nil {
			o.log.Debug("torctl: initial GETINFO failed", zap.Error(err))
			return
		}
		o.onInitialInfo(res)
	})

	o.publishServices()
}

func (o *Orchestrator) onInitialInfo(info map[string][]string) {
	if vals, ok := info["status/circuit-established"]; ok && len(vals) > 0 && vals[0] == "1" {
		o.setTorStatus(TorStatusReady)
	}
	if vals, ok := info["net/listeners/socks"]; ok && len(vals) > 0 {
		if host, port, ok := socksEndpointFromListeners(vals[0]); ok {
			o.socksHost = host
			o.socksPort = port
		}
	}
}

// handleStatusClient parses an async "650 STATUS_CLIENT ..." event line.
func (o *Orchestrator) handleStatusClient(payload []byte) {
	fields := splitQuotedFields(string(payload))
	if len(fields) < 3 {
		return
	}
	severity := fields[1]
	kind := fields[2]

	switch kind {
	case "CIRCUIT_ESTABLISHED":
		o.setTorStatus(TorStatusReady)
	case "CIRCUIT_NOT_ESTABLISHED":
		o.setTorStatus(TorStatusOffline)
	case "BOOTSTRAP":
		o.bootstrap = make(map[string]string, len(fields))
		o.bootstrap["severity"] = severity
		for _, field := range fields[3:] {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			if unquoted, err := unquoteString(value); err == nil {
				value = unquoted
			}
			o.bootstrap[strings.ToLower(key)] = value
		}
		o.observers.bootstrap(o.BootstrapStatus())
	}
}

func (o *Orchestrator) setTorStatus(status TorStatus) {
	if o.torStatus == status {
		return
	}
	o.torStatus = status
	o.observers.torStatusChanged(status)
}

// publishServices chooses ADD_ONION or legacy SETCONF publication
// depending on the Tor version PROTOCOLINFO reported (§4.5).
func (o *Orchestrator) publishServices() {
	if versionAtLeast(o.torVersion, legacyAddOnionVersion) {
		for _, hs := range o.services {
			o.publishViaAddOnion(hs)
		}
		return
	}
	o.publishViaLegacySetConf()
}

func (o *Orchestrator) publishViaAddOnion(hs *HiddenService) {
	keySpec := "NEW:BEST"
	if !hs.Key.IsZero() {
		keySpec = hs.Key.WireForm()
	}
	cmd := NewAddOnionCommand(keySpec, hs.Ports...)
	o.socket.SendCommand(cmd)
	o.await(cmd.Wait().Done(), func() {
		res, err := cmd.Wait().Result()
		if err != nil {
			o.log.Error("torctl: ADD_ONION failed", zap.Error(err))
			return
		}
		if res.PrivateKey != "" {
			if key, err := ParseCryptoKey(res.PrivateKey); err == nil {
				hs.adoptGeneratedKey(key)
			}
		}
		o.onServicePublished(hs, res.ServiceID)
	})
}

func (o *Orchestrator) publishViaLegacySetConf() {
	var pairs []KeyValue
	var fileBased []*HiddenService
	for _, hs := range o.services {
		if hs.IsEphemeral() {
			o.log.Warn("torctl: skipping ephemeral hidden service on legacy Tor",
				zap.String("tor_version", o.torVersion))
			continue
		}
		pairs = append(pairs, KeyValue{Key: "HiddenServiceDir", Value: hs.DataDir, AlwaysQuote: true})
		for _, p := range hs.Ports {
			pairs = append(pairs, KeyValue{Key: "HiddenServicePort", Value: p.String(), AlwaysQuote: true})
		}
		fileBased = append(fileBased, hs)
	}
	if len(pairs) == 0 {
		return
	}
	cmd := NewSetConfCommand(pairs...)
	o.socket.SendCommand(cmd)
	o.await(cmd.Wait().Done(), func() {
		if _, err := cmd.Wait().Result(); err != nil {
			o.log.Error("torctl: legacy SETCONF publication failed", zap.Error(err))
			return
		}
		for _, hs := range fileBased {
			serviceID := readHostnameFile(hs.DataDir)
			o.onServicePublished(hs, strings.TrimSuffix(serviceID, ".onion"))
		}
	})
}

// readHostnameFile reads a legacy file-based service's Tor-generated
// hostname file, the same way a host would read it directly off disk once
// Tor has written it under DataDir.
func readHostnameFile(dataDir string) string {
	raw, err := os.ReadFile(filepath.Join(dataDir, "hostname"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (o *Orchestrator) onServicePublished(hs *HiddenService, serviceID string) {
	if serviceID == "" {
		o.log.Error("torctl: publication acknowledged without a service id")
		return
	}
	hs.markOnline(serviceID)
	o.observers.hiddenServiceOnline(hs)
	if !o.anyOnline {
		o.anyOnline = true
		o.setState(StateHiddenServiceReady)
	}
}

// Tick pumps the underlying control socket and advances any pending
// command continuations. Call it on a fixed cadence (nominally every
// 20ms, see §5).
func (o *Orchestrator) Tick() {
	if o.socket == nil {
		return
	}
	if err := o.socket.Tick(); err != nil {
		o.fail(err)
		return
	}
	if !o.socket.Active() {
		o.setState(StateNotConnected)
		o.socket = nil
		o.pollers = nil
		return
	}

	pending := o.pollers
	o.pollers = nil
	for _, p := range pending {
		if !p() {
			o.pollers = append(o.pollers, p)
		}
	}
}

// await registers cont to run the next time Tick observes done closed.
func (o *Orchestrator) await(done <-chan struct{}, cont func()) {
	o.pollers = append(o.pollers, func() bool {
		select {
		case <-done:
			cont()
			return true
		default:
			return false
		}
	})
}

func (o *Orchestrator) setState(s TorControlState) {
	if o.state == s {
		return
	}
	o.state = s
	o.log.Info("torctl: state transition", zap.String("state", s.String()))
	o.observers.stateChanged(s)
}

// fail transitions the machine to StateError, records msg, clears pending
// commands, and notifies observers. Individual command failures reach
// here only when they occur during authentication (see §7); post-auth
// command failures are logged and left in place instead.
func (o *Orchestrator) fail(err error) {
	o.errMsg = err.Error()
	if o.socket != nil {
		o.socket.Close()
		o.socket = nil
	}
	o.pollers = nil
	o.setState(StateError)
}

// ShutdownSync sends SIGNAL SHUTDOWN and blocks, sleeping in 100ms
// increments, until the outbound queue drains or ctx is done. This is the
// module's only intentionally blocking call (§5).
func (o *Orchestrator) ShutdownSync(ctx context.Context) error {
	if o.socket == nil {
		return nil
	}
	cmd := newRawCommand("SIGNAL SHUTDOWN")
	o.socket.SendCommand(cmd)
	for o.socket != nil && o.socket.pipe.MoreToWrite() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		o.socket.Tick()
		time.Sleep(100 * time.Millisecond)
	}
	if o.socket != nil {
		o.socket.Close()
		o.socket = nil
	}
	o.setState(StateNotConnected)
	return nil
}

// TakeOwnership asks Tor to exit when this control connection closes
// (TAKEOWNERSHIP) and clears any prior __OwningControllerProcess so a
// previous supervisor no longer owns the daemon's lifetime.
func (o *Orchestrator) TakeOwnership() {
	if o.socket == nil {
		return
	}
	o.socket.SendCommand(newRawCommand("TAKEOWNERSHIP"))
	o.socket.SendCommand(NewSetConfCommand(KeyValue{Key: "__OwningControllerProcess", Value: ""}))
}

// SaveConfiguration issues GETINFO config-text config-file and writes the
// returned text to Tor's own config file path (or cfg.TorrcPath, when the
// host wants to override it), refusing any target whose basename is not
// literally "torrc" or that does not already exist, and omitting
// runtime-managed directives (§4.6).
func (o *Orchestrator) SaveConfiguration() error {
	cmd := NewGetInfoCommand("config-text", "config-file")
	o.socket.SendCommand(cmd)
	for {
		select {
		case <-cmd.Wait().Done():
		default:
			o.socket.Tick()
			time.Sleep(20 * time.Millisecond)
			continue
		}
		break
	}
	result, err := cmd.Wait().Result()
	if err != nil {
		return newError(ErrConfigWriteFailed, "SaveConfiguration", "GETINFO config-text failed", err)
	}

	path := o.cfg.TorrcPath
	if path == "" {
		files := result["config-file"]
		if len(files) == 0 {
			return newError(ErrConfigWriteFailed, "SaveConfiguration", "Tor reported no config-file path", nil)
		}
		path = files[0]
	}
	if filepath.Base(path) != "torrc" {
		return newError(ErrConfigWriteFailed, "SaveConfiguration",
			"Refusing to write torrc to unacceptable path "+path, nil)
	}
	if _, err := os.Stat(path); err != nil {
		return newError(ErrConfigWriteFailed, "SaveConfiguration",
			"Refusing to write torrc to unacceptable path "+path, err)
	}

	lines := result["config-text"]
	var out strings.Builder
	for _, line := range lines {
		if hasRuntimePrefix(line) {
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(out.String()), 0o600); err != nil {
		return newError(ErrConfigWriteFailed, "SaveConfiguration", "failed to write "+path, err)
	}
	return nil
}

func hasRuntimePrefix(line string) bool {
	for _, prefix := range runtimeConfigPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

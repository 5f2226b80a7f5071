package torctl

// ServiceState is the publication state of a HiddenService.
type ServiceState int

// ServiceState values.
const (
	ServiceOffline ServiceState = iota
	ServiceOnline
)

// String implements fmt.Stringer.
func (s ServiceState) String() string {
	if s == ServiceOnline {
		return "online"
	}
	return "offline"
}

// HiddenService describes one onion service the orchestrator should
// publish: either republishing an existing key (Key non-zero) or asking
// Tor to mint a fresh one (Key zero).
type HiddenService struct {
	// Key is the service's private key, or the zero CryptoKey to ask Tor
	// to generate a new v3 key on publication.
	Key CryptoKey
	// DataDir is the on-disk hidden service directory, used only for
	// legacy file-based (SETCONF) publication on Tor < 0.2.7. Ephemeral
	// services (no DataDir) cannot be published on legacy Tor.
	DataDir string
	// Ports maps external service ports to local targets.
	Ports []PortMapping

	hostname string
	state    ServiceState
}

// Hostname returns the service's ".onion" address, empty until Tor has
// acknowledged publication.
func (h *HiddenService) Hostname() string {
	return h.hostname
}

// State returns the service's current publication state.
func (h *HiddenService) State() ServiceState {
	return h.state
}

// IsEphemeral reports whether the service has no on-disk data directory,
// meaning it can only be published via ADD_ONION, never legacy SETCONF.
func (h *HiddenService) IsEphemeral() bool {
	return h.DataDir == ""
}

// markOnline transitions the service to Online once Tor has acknowledged
// publication, recording the hostname Tor derived (or, for legacy
// file-based services, the caller-known hostname read from the service's
// hostname file).
func (h *HiddenService) markOnline(serviceID string) {
	h.hostname = serviceID + ".onion"
	h.state = ServiceOnline
}

// adoptGeneratedKey stores a newly-Tor-generated private key so the
// service can be republished with the same identity after a restart.
func (h *HiddenService) adoptGeneratedKey(key CryptoKey) {
	h.Key = key
}

package torctl

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// defaultReconnectInterval bounds how often Connect may retry after
// Error/NotConnected, protecting a flapping control port from a spinning
// driver loop.
const defaultReconnectInterval = 5 * time.Second

// ClientConfig is the host-supplied configuration for an Orchestrator. The
// host's own configuration store (out of scope for this module, see §1)
// is responsible for populating it; this module performs no file or
// environment parsing of its own.
type ClientConfig struct {
	// Address is the Tor ControlPort host, typically "127.0.0.1".
	Address string
	// ControlPort is the Tor ControlPort's TCP port, typically 9051.
	ControlPort int
	// Password is the control-port password used for hashed-password
	// authentication, if Tor offers it and no cookie is usable.
	Password string
	// Services are the hidden services to publish once authenticated.
	Services []*HiddenService
	// TorrcPath, if set, is the path SaveConfiguration writes to. It must
	// name a file literally called "torrc".
	TorrcPath string
	// Logger receives structured logs for every state transition and
	// command lifecycle. Defaults to zap.NewProduction() if nil.
	Logger *zap.Logger
	// Observers receive status callbacks from the driver goroutine.
	Observers []StatusObserver
	// ReconnectLimiter governs Connect retry frequency. Defaults to one
	// attempt per defaultReconnectInterval with a burst of 1.
	ReconnectLimiter *rate.Limiter
}

func (c ClientConfig) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	log, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func (c ClientConfig) reconnectLimiter() *rate.Limiter {
	if c.ReconnectLimiter != nil {
		return c.ReconnectLimiter
	}
	return rate.NewLimiter(rate.Every(defaultReconnectInterval), 1)
}

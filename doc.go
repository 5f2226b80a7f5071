// Package torctl implements a client for the Tor control protocol.
//
// It connects to a running Tor daemon's ControlPort, authenticates using
// whichever method the daemon offers (NULL, cookie file, or hashed
// password; a daemon offering SAFECOOKIE is sent the plain cookie, as for
// COOKIE, with no AUTHCHALLENGE exchange), discovers the daemon's SOCKS proxy endpoint, watches
// bootstrap/circuit status, and publishes one or more onion (hidden)
// services so a host application can accept inbound connections routed
// through Tor.
//
// The client is single-threaded and cooperative: all socket I/O and state
// transitions happen on the goroutine that calls Orchestrator.Tick. Host
// code observes progress either by implementing StatusObserver or, for
// out-of-process supervisors, by talking to the optional EventBridge.
//
// Example:
//
//	cfg := torctl.ClientConfig{
//		Address:     "127.0.0.1",
//		ControlPort: 9051,
//	}
//	orch := torctl.NewOrchestrator(cfg)
//	if err := orch.Connect(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	for orch.State() != torctl.StateHiddenServiceReady {
//		orch.Tick()
//		time.Sleep(20 * time.Millisecond)
//	}
package torctl

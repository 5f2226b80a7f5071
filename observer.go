package torctl

// StatusObserver receives orchestrator status changes synchronously, from
// the driver goroutine that calls Orchestrator.Tick. It replaces the
// source's global event-bus side effect inside the state setters (see
// DESIGN.md) with an explicit, injectable collector so tests and hosts can
// observe transitions without a process-wide singleton.
type StatusObserver interface {
	// OnStateChange fires whenever TorControlState changes.
	OnStateChange(state TorControlState)
	// OnTorStatusChange fires whenever the bootstrap/circuit TorStatus changes.
	OnTorStatusChange(status TorStatus)
	// OnBootstrap fires on every BOOTSTRAP event with a snapshot of the
	// current bootstrap keyword map.
	OnBootstrap(snapshot map[string]string)
	// OnHiddenServiceOnline fires once per service the first time it
	// transitions Offline -> Online.
	OnHiddenServiceOnline(service *HiddenService)
}

// NopObserver implements StatusObserver with no-op methods, useful as an
// embeddable base for observers that only care about one callback.
type NopObserver struct{}

// OnStateChange implements StatusObserver.
func (NopObserver) OnStateChange(TorControlState) {}

// OnTorStatusChange implements StatusObserver.
func (NopObserver) OnTorStatusChange(TorStatus) {}

// OnBootstrap implements StatusObserver.
func (NopObserver) OnBootstrap(map[string]string) {}

// OnHiddenServiceOnline implements StatusObserver.
func (NopObserver) OnHiddenServiceOnline(*HiddenService) {}

// observerList fans a status event out to every registered StatusObserver
// in registration order.
type observerList []StatusObserver

func (l observerList) stateChanged(s TorControlState) {
	for _, o := range l {
		o.OnStateChange(s)
	}
}

func (l observerList) torStatusChanged(s TorStatus) {
	for _, o := range l {
		o.OnTorStatusChange(s)
	}
}

func (l observerList) bootstrap(snapshot map[string]string) {
	for _, o := range l {
		o.OnBootstrap(snapshot)
	}
}

func (l observerList) hiddenServiceOnline(hs *HiddenService) {
	for _, o := range l {
		o.OnHiddenServiceOnline(hs)
	}
}

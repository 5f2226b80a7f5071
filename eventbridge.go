package torctl

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventBridge exposes a loopback-only HTTP+WebSocket view of an
// Orchestrator's status for hosts that want to observe it out of process
// (a supervisor, a desktop tray icon, a browser devtools panel) instead of
// linking against this package directly. It implements StatusObserver so
// it can be registered directly in ClientConfig.Observers.
type EventBridge struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	snapshot bridgeSnapshot
}

type bridgeSnapshot struct {
	State     string            `json:"state"`
	TorStatus string            `json:"tor_status"`
	Bootstrap map[string]string `json:"bootstrap"`
	Services  []bridgeService   `json:"services"`
}

type bridgeService struct {
	Hostname string `json:"hostname"`
	State    string `json:"state"`
}

type bridgeEvent struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// NewEventBridge constructs an EventBridge that is not yet listening.
// Serve must be called with a loopback listen address (for example
// "127.0.0.1:0", so the OS assigns an ephemeral port) to start accepting
// connections.
func NewEventBridge(log *zap.Logger) *EventBridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventBridge{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
		snapshot: bridgeSnapshot{State: StateNotConnected.String(), TorStatus: TorStatusUnknown.String()},
	}
}

func (b *EventBridge) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", b.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/events", b.handleEvents).Methods(http.MethodGet)
	return r
}

// Serve listens on a loopback TCP address and blocks until ctx is
// cancelled or Close is called. Only loopback IP literals (127.0.0.0/8 and
// ::1) are accepted; host names such as "localhost" are rejected, since the status stream carries onion-service hostnames and
// bootstrap detail that should never reach a non-local peer.
func (b *EventBridge) Serve(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return newError(ErrInvalidConfig, "EventBridge.Serve", "invalid listen address "+addr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return newError(ErrInvalidConfig, "EventBridge.Serve", "event bridge must bind a loopback address, got "+host, nil)
	}

	b.server = &http.Server{Addr: addr, Handler: b.router()}
	errCh := make(chan error, 1)
	go func() { errCh <- b.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return b.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close shuts down the HTTP server and disconnects any WebSocket clients.
func (b *EventBridge) Close() error {
	b.mu.Lock()
	for c := range b.clients {
		c.Close()
	}
	b.clients = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()
	if b.server == nil {
		return nil
	}
	return b.server.Close()
}

func (b *EventBridge) handleStatus(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	snap := b.snapshot
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (b *EventBridge) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug("torctl: event bridge upgrade failed", zap.Error(err))
		return
	}
	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	// Drain and discard any client-sent frames so the read side stays
	// unblocked; this bridge is publish-only.
	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			b.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *EventBridge) broadcast(evt bridgeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		if err := c.WriteJSON(evt); err != nil {
			c.Close()
			delete(b.clients, c)
		}
	}
}

// OnStateChange implements StatusObserver.
func (b *EventBridge) OnStateChange(state TorControlState) {
	b.mu.Lock()
	b.snapshot.State = state.String()
	b.mu.Unlock()
	b.broadcast(bridgeEvent{Type: "state", Payload: state.String(), Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// OnTorStatusChange implements StatusObserver.
func (b *EventBridge) OnTorStatusChange(status TorStatus) {
	b.mu.Lock()
	b.snapshot.TorStatus = status.String()
	b.mu.Unlock()
	b.broadcast(bridgeEvent{Type: "tor_status", Payload: status.String(), Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// OnBootstrap implements StatusObserver.
func (b *EventBridge) OnBootstrap(snapshot map[string]string) {
	b.mu.Lock()
	b.snapshot.Bootstrap = snapshot
	b.mu.Unlock()
	b.broadcast(bridgeEvent{Type: "bootstrap", Payload: snapshot, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// OnHiddenServiceOnline implements StatusObserver.
func (b *EventBridge) OnHiddenServiceOnline(hs *HiddenService) {
	svc := bridgeService{Hostname: hs.Hostname(), State: hs.State().String()}
	b.mu.Lock()
	b.snapshot.Services = append(b.snapshot.Services, svc)
	b.mu.Unlock()
	b.broadcast(bridgeEvent{Type: "hidden_service_online", Payload: svc, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

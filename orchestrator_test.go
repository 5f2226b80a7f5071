package torctl

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTorServer accepts exactly one connection and replies to each
// expected command line with a canned response, simulating the parts of a
// Tor ControlPort session an Orchestrator drives through on a fresh
// connect.
func scriptedTorServer(t *testing.T, steps []struct {
	expect  string
	respond string
}) (addr string, done <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for _, step := range steps {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if line != step.expect {
				t.Errorf("fake tor server: got command %q, want %q", line, step.expect)
				return
			}
			if _, err := conn.Write([]byte(step.respond)); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String(), finished
}

func runUntil(t *testing.T, timeout time.Duration, o *Orchestrator, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		o.Tick()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("orchestrator did not reach expected condition within %s (state=%s)", timeout, o.State())
}

func TestOrchestratorConnectAuthenticatePublishAddOnion(t *testing.T) {
	addr, done := scriptedTorServer(t, []struct {
		expect  string
		respond string
	}{
		{
			expect: "PROTOCOLINFO 1",
			respond: "250-PROTOCOLINFO 1\r\n" +
				"250-AUTH METHODS=NULL\r\n" +
				"250-VERSION Tor=\"0.4.7.13\"\r\n" +
				"250 OK\r\n",
		},
		{
			expect:  "AUTHENTICATE",
			respond: "250 OK\r\n",
		},
		{
			expect: "GETINFO status/circuit-established status/bootstrap-phase net/listeners/socks",
			respond: "250-status/circuit-established=1\r\n" +
				"250-net/listeners/socks=\"127.0.0.1:9050\"\r\n" +
				"250 OK\r\n",
		},
		{
			expect: "ADD_ONION NEW:BEST Port=80,127.0.0.1:8080",
			respond: "250-ServiceID=abcdefghijklmnop\r\n" +
				"250 OK\r\n",
		},
	})

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	hs := &HiddenService{Ports: []PortMapping{{ServicePort: 80, TargetHost: "127.0.0.1", TargetPort: 8080}}}
	o := NewOrchestrator(ClientConfig{Address: host, ControlPort: port, Services: []*HiddenService{hs}})

	require.NoError(t, o.Connect(context.Background()))
	runUntil(t, 2*time.Second, o, func() bool { return o.State() == StateHiddenServiceReady })

	assert.Equal(t, TorStatusReady, o.TorStatus())
	assert.Equal(t, "127.0.0.1", o.SocksAddress())
	assert.Equal(t, 9050, o.SocksPort())
	assert.Equal(t, "abcdefghijklmnop.onion", hs.Hostname())
	assert.Equal(t, ServiceOnline, hs.State())

	<-done
}

func TestOrchestratorAuthenticationRejected(t *testing.T) {
	addr, done := scriptedTorServer(t, []struct {
		expect  string
		respond string
	}{
		{
			expect: "PROTOCOLINFO 1",
			respond: "250-PROTOCOLINFO 1\r\n" +
				"250-AUTH METHODS=NULL\r\n" +
				"250-VERSION Tor=\"0.4.7.13\"\r\n" +
				"250 OK\r\n",
		},
		{
			expect:  "AUTHENTICATE",
			respond: "515 Authentication failed\r\n",
		},
	})

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	o := NewOrchestrator(ClientConfig{Address: host, ControlPort: port})
	require.NoError(t, o.Connect(context.Background()))
	runUntil(t, 2*time.Second, o, func() bool { return o.State() == StateError })

	assert.NotEmpty(t, o.ErrorMessage())
	<-done
}

func TestOrchestratorReconnectThrottled(t *testing.T) {
	o := NewOrchestrator(ClientConfig{Address: "127.0.0.1", ControlPort: 1})
	o.state = StateError

	err := o.Connect(context.Background())
	var firstErr *Error
	require.ErrorAs(t, err, &firstErr)
	assert.Equal(t, ErrConnectFailed, firstErr.Kind) // burst token consumed, dial itself fails

	o.state = StateError
	err = o.Connect(context.Background())
	var secondErr *Error
	require.ErrorAs(t, err, &secondErr)
	assert.Equal(t, ErrReconnectThrottled, secondErr.Kind) // no tokens left this soon
}

func TestOrchestratorLegacySetConfPublication(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "hostname"), []byte("abcdefghijklmnop.onion\n"), 0o600))

	addr, done := scriptedTorServer(t, []struct {
		expect  string
		respond string
	}{
		{
			expect: "PROTOCOLINFO 1",
			respond: "250-PROTOCOLINFO 1\r\n" +
				"250-AUTH METHODS=NULL\r\n" +
				"250-VERSION Tor=\"0.2.6.10\"\r\n" +
				"250 OK\r\n",
		},
		{
			expect:  "AUTHENTICATE",
			respond: "250 OK\r\n",
		},
		{
			expect: "GETINFO status/circuit-established status/bootstrap-phase net/listeners/socks",
			respond: "250-status/circuit-established=1\r\n" +
				"250-net/listeners/socks=\"127.0.0.1:9050\"\r\n" +
				"250 OK\r\n",
		},
		{
			expect:  `SETCONF HiddenServiceDir="` + dataDir + `" HiddenServicePort="9001 127.0.0.1:9001"`,
			respond: "250 OK\r\n",
		},
	})

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	hs := &HiddenService{
		DataDir: dataDir,
		Ports:   []PortMapping{{ServicePort: 9001, TargetHost: "127.0.0.1", TargetPort: 9001}},
	}
	o := NewOrchestrator(ClientConfig{Address: host, ControlPort: port, Services: []*HiddenService{hs}})

	require.NoError(t, o.Connect(context.Background()))
	runUntil(t, 2*time.Second, o, func() bool { return hs.State() == ServiceOnline })

	assert.Equal(t, "abcdefghijklmnop.onion", hs.Hostname())

	<-done
}

func TestOrchestratorBootstrapEventUpdatesStatus(t *testing.T) {
	o := NewOrchestrator(ClientConfig{})
	o.handleStatusClient([]byte(`STATUS_CLIENT NOTICE BOOTSTRAP PROGRESS=50 TAG=conn_done SUMMARY="Connecting"`))

	status := o.BootstrapStatus()
	assert.Equal(t, "50", status["progress"])
	assert.Equal(t, "conn_done", status["tag"])
	assert.Equal(t, "Connecting", status["summary"])
	assert.Equal(t, "NOTICE", status["severity"])
}

func TestOrchestratorBootstrapEventClearsStaleKeys(t *testing.T) {
	o := NewOrchestrator(ClientConfig{})
	o.handleStatusClient([]byte(`STATUS_CLIENT NOTICE BOOTSTRAP PROGRESS=50 TAG=conn_done SUMMARY="Connecting" WARNING="retrying"`))
	o.handleStatusClient([]byte(`STATUS_CLIENT NOTICE BOOTSTRAP PROGRESS=90 TAG=circuit_create SUMMARY="Establishing a Tor circuit"`))

	status := o.BootstrapStatus()
	assert.Equal(t, "90", status["progress"])
	assert.Equal(t, "circuit_create", status["tag"])
	assert.Equal(t, "Establishing a Tor circuit", status["summary"])
	_, hadStaleWarning := status["warning"]
	assert.False(t, hadStaleWarning)
}

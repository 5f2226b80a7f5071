package torctl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSocket(t *testing.T) (*ControlSocket, netConnWriter) {
	t.Helper()
	near, far := loopbackPair(t)
	pipe, err := NewByteQueue(near, zap.NewNop())
	require.NoError(t, err)
	return NewControlSocket(pipe, zap.NewNop()), far
}

type netConnWriter interface {
	Write([]byte) (int, error)
	Close() error
}

func TestControlSocketProtocolInfo(t *testing.T) {
	sock, far := newTestSocket(t)
	defer far.Close()

	cmd := NewProtocolInfoCommand()
	sock.SendCommand(cmd)

	_, err := far.Write([]byte("250-PROTOCOLINFO 1\r\n" +
		"250-AUTH METHODS=COOKIE,SAFECOOKIE COOKIEFILE=\"/var/run/tor/control.authcookie\"\r\n" +
		"250-VERSION Tor=\"0.4.7.13\"\r\n" +
		"250 OK\r\n"))
	require.NoError(t, err)

	eventually(t, time.Second, func() bool {
		sock.Tick()
		return cmd.Wait().Settled()
	})

	res, err := cmd.Wait().Result()
	require.NoError(t, err)
	assert.True(t, res.Methods.Has(AuthCookie))
	assert.True(t, res.Methods.Has(AuthSafeCookie))
	assert.Equal(t, "/var/run/tor/control.authcookie", res.CookiePath)
	assert.Equal(t, "0.4.7.13", res.TorVersion)
}

func TestControlSocketGetInfoMultiline(t *testing.T) {
	sock, far := newTestSocket(t)
	defer far.Close()

	cmd := NewGetInfoCommand("config-text")
	sock.SendCommand(cmd)

	_, err := far.Write([]byte("250+config-text=\r\n" +
		"SocksPort 9050\r\n" +
		"ControlPort 9051\r\n" +
		".\r\n" +
		"250 OK\r\n"))
	require.NoError(t, err)

	eventually(t, time.Second, func() bool {
		sock.Tick()
		return cmd.Wait().Settled()
	})

	res, err := cmd.Wait().Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"SocksPort 9050", "ControlPort 9051"}, res["config-text"])
}

func TestControlSocketFIFOOrdering(t *testing.T) {
	sock, far := newTestSocket(t)
	defer far.Close()

	first := NewGetInfoCommand("version")
	second := NewGetInfoCommand("uptime")
	sock.SendCommand(first)
	sock.SendCommand(second)

	_, err := far.Write([]byte("250-version=0.4.7.13\r\n250 OK\r\n" +
		"250-uptime=100\r\n250 OK\r\n"))
	require.NoError(t, err)

	eventually(t, time.Second, func() bool {
		sock.Tick()
		return first.Wait().Settled() && second.Wait().Settled()
	})

	firstRes, err := first.Wait().Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"0.4.7.13"}, firstRes["version"])

	secondRes, err := second.Wait().Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"100"}, secondRes["uptime"])
}

func TestControlSocketAsyncEventDoesNotBlockQueue(t *testing.T) {
	sock, far := newTestSocket(t)
	defer far.Close()

	events := make(chan string, 1)
	sock.RegisterEventHandler("STATUS_CLIENT", EventHandlerFunc(func(payload []byte) {
		events <- string(payload)
	}))

	cmd := NewGetInfoCommand("version")
	sock.SendCommand(cmd)

	_, err := far.Write([]byte("650 STATUS_CLIENT NOTICE CIRCUIT_ESTABLISHED\r\n" +
		"250-version=0.4.7.13\r\n250 OK\r\n"))
	require.NoError(t, err)

	eventually(t, time.Second, func() bool {
		sock.Tick()
		return cmd.Wait().Settled()
	})

	select {
	case payload := <-events:
		assert.Equal(t, "STATUS_CLIENT NOTICE CIRCUIT_ESTABLISHED", payload)
	default:
		t.Fatal("expected STATUS_CLIENT event to have been dispatched")
	}
}

func TestControlSocketProtocolErrorFailsQueue(t *testing.T) {
	sock, far := newTestSocket(t)
	defer far.Close()

	cmd := NewGetInfoCommand("version")
	sock.SendCommand(cmd)

	_, err := far.Write([]byte("garbage\r\n"))
	require.NoError(t, err)

	eventually(t, time.Second, func() bool {
		sock.Tick()
		return cmd.Wait().Settled()
	})

	_, err = cmd.Wait().Result()
	assert.Error(t, err)
}

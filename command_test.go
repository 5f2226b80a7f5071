package torctl

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateCommandNullMethod(t *testing.T) {
	info := ProtocolInfoResult{Methods: AuthNull}
	cmd := NewAuthenticateCommand(info, "")
	built := cmd.Build()
	require.NotNil(t, built)
	assert.Equal(t, "AUTHENTICATE\r\n", string(built))
}

func TestAuthenticateCommandCookie(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cookie")
	require.NoError(t, err)
	cookie := make([]byte, cookieLength)
	for i := range cookie {
		cookie[i] = byte(i)
	}
	_, err = f.Write(cookie)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info := ProtocolInfoResult{Methods: AuthCookie, CookiePath: f.Name()}
	cmd := NewAuthenticateCommand(info, "")
	built := cmd.Build()
	require.NotNil(t, built)
	assert.Contains(t, string(built), "AUTHENTICATE ")
	assert.NotContains(t, string(built), f.Name())
}

func TestAuthenticateCommandCookieWrongLength(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cookie")
	require.NoError(t, err)
	_, err = f.Write([]byte("too short"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info := ProtocolInfoResult{Methods: AuthCookie, CookiePath: f.Name()}
	cmd := NewAuthenticateCommand(info, "")
	built := cmd.Build()
	assert.Nil(t, built)
	_, err = cmd.Wait().Result()
	assert.Error(t, err)
}

func TestAuthenticateCommandCookieWrongLengthFallsBackToPassword(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cookie")
	require.NoError(t, err)
	_, err = f.Write([]byte("too short"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info := ProtocolInfoResult{Methods: AuthCookie | AuthHashedPassword, CookiePath: f.Name()}
	cmd := NewAuthenticateCommand(info, "hunter2")
	built := cmd.Build()
	require.NotNil(t, built)
	assert.Equal(t, "AUTHENTICATE 68756e74657232\r\n", string(built))
}

func TestAuthenticateCommandNoUsableMethod(t *testing.T) {
	info := ProtocolInfoResult{Methods: AuthHashedPassword}
	cmd := NewAuthenticateCommand(info, "")
	built := cmd.Build()
	assert.Nil(t, built)
	assert.True(t, cmd.Wait().Settled())
	_, err := cmd.Wait().Result()
	var torErr *Error
	require.ErrorAs(t, err, &torErr)
	assert.Equal(t, ErrAuthUnavailable, torErr.Kind)
}

func TestAuthenticateCommandHashedPassword(t *testing.T) {
	info := ProtocolInfoResult{Methods: AuthHashedPassword}
	cmd := NewAuthenticateCommand(info, "hunter2")
	built := cmd.Build()
	require.NotNil(t, built)
	assert.Equal(t, "AUTHENTICATE 68756e74657232\r\n", string(built))
}

func TestSetConfCommandQuoting(t *testing.T) {
	cmd := NewSetConfCommand(KeyValue{Key: "Nickname", Value: "has space"})
	built := cmd.Build()
	assert.Equal(t, `SETCONF Nickname="has space"`+"\r\n", string(built))
}

func TestSetConfCommandResetEmptyValue(t *testing.T) {
	cmd := NewSetConfCommand(KeyValue{Key: "Nickname"})
	cmd.Reset = true
	built := cmd.Build()
	assert.Equal(t, "RESETCONF Nickname\r\n", string(built))
}

func TestAddOnionCommandBuild(t *testing.T) {
	cmd := NewAddOnionCommand("NEW:BEST", PortMapping{ServicePort: 80, TargetHost: "127.0.0.1", TargetPort: 8080})
	built := cmd.Build()
	assert.Equal(t, "ADD_ONION NEW:BEST Port=80,127.0.0.1:8080\r\n", string(built))
}

func TestAddOnionCommandParsesReply(t *testing.T) {
	cmd := NewAddOnionCommand("NEW:BEST")
	terminal := cmd.OnReplyLine(250, '-', []byte("ServiceID=abcdefg1234567"))
	assert.False(t, terminal)
	terminal = cmd.OnReplyLine(250, '-', []byte("PrivateKey=ED25519-V3:abcd"))
	assert.False(t, terminal)
	terminal = cmd.OnReplyLine(250, ' ', []byte("OK"))
	assert.True(t, terminal)

	res, err := cmd.Wait().Result()
	require.NoError(t, err)
	assert.Equal(t, "abcdefg1234567", res.ServiceID)
	assert.Equal(t, "ED25519-V3:abcd", res.PrivateKey)
}

func TestGetInfoCommandBuild(t *testing.T) {
	cmd := NewGetInfoCommand("version", "uptime")
	assert.Equal(t, "GETINFO version uptime\r\n", string(cmd.Build()))

	confCmd := NewGetConfCommand("SocksPort")
	assert.Equal(t, "GETCONF SocksPort\r\n", string(confCmd.Build()))
}

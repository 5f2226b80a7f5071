//go:build !windows

package torctl

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// unixFDConn performs raw non-blocking reads/writes on a TCP connection's
// underlying file descriptor via golang.org/x/sys/unix, cooperating with
// the Go runtime's netpoller through SyscallConn so a call that would block
// simply reports EAGAIN instead of parking the goroutine.
type unixFDConn struct {
	raw  syscall.RawConn
	conn net.Conn
}

func newFDConn(conn net.Conn) (fdConn, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, newError(ErrConnectFailed, "newFDConn", "connection does not expose a raw file descriptor", nil)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var setErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		setErr = unix.SetNonblock(int(fd), true)
	})
	if ctrlErr != nil {
		return nil, ctrlErr
	}
	if setErr != nil {
		return nil, setErr
	}
	return &unixFDConn{raw: raw, conn: conn}, nil
}

func (u *unixFDConn) tryRead(buf []byte) (n int, ok bool, err error) {
	ctrlErr := u.raw.Read(func(fd uintptr) bool {
		n, err = unix.Read(int(fd), buf)
		return true // one attempt per call, never wait for readability
	})
	if ctrlErr != nil {
		return 0, false, ctrlErr
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (u *unixFDConn) tryWrite(buf []byte) (n int, ok bool, err error) {
	ctrlErr := u.raw.Write(func(fd uintptr) bool {
		n, err = unix.Write(int(fd), buf)
		return true
	})
	if ctrlErr != nil {
		return 0, false, ctrlErr
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (u *unixFDConn) Close() error {
	return u.conn.Close()
}

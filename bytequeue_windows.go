//go:build windows

package torctl

import (
	"errors"
	"net"
	"os"
	"time"
)

// windowsFDConn emulates a non-blocking read/write attempt with an
// immediate deadline, since golang.org/x/sys/unix's raw non-blocking
// socket control has no Windows equivalent exposed through net.Conn. This
// is the resolution to the source's Windows-specific O_NONBLOCK gap noted
// in DESIGN.md: rather than silently falling back to a blocking
// descriptor, every platform goes through the same fdConn contract.
type windowsFDConn struct {
	conn net.Conn
}

func newFDConn(conn net.Conn) (fdConn, error) {
	return &windowsFDConn{conn: conn}, nil
}

func (w *windowsFDConn) tryRead(buf []byte) (n int, ok bool, err error) {
	if err := w.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, false, err
	}
	n, err = w.conn.Read(buf)
	defer w.conn.SetReadDeadline(time.Time{})
	if err == nil {
		return n, true, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return 0, false, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, false, nil
	}
	return 0, false, err
}

func (w *windowsFDConn) tryWrite(buf []byte) (n int, ok bool, err error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, false, err
	}
	n, err = w.conn.Write(buf)
	defer w.conn.SetWriteDeadline(time.Time{})
	if err == nil {
		return n, true, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, n > 0, nil
	}
	return 0, false, err
}

func (w *windowsFDConn) Close() error {
	return w.conn.Close()
}

package torctl

import (
	"bytes"
	"errors"
	"net"

	"go.uber.org/zap"
)

// readChunkSize bounds how many bytes a single read syscall pulls into the
// inbound FIFO. Each syscall's result is appended as its own segment,
// matching the "fresh buffer per syscall" access pattern described for the
// ByteQueue pipe.
const readChunkSize = 1024

// segment is one owned chunk of buffered bytes. Segments are appended to
// the inbound FIFO on every successful read and consumed, front first, by
// ReadLine/ReadData; on the outbound side the front segment is trimmed in
// place as partial writes drain it.
type segment struct {
	buf []byte
}

// fdConn is the platform hook a ByteQueue uses to perform exactly one
// non-blocking read or write attempt against the underlying descriptor. It
// is implemented differently on Unix (raw syscalls via golang.org/x/sys/unix)
// and Windows (deadline-based emulation) — see bytequeue_unix.go and
// bytequeue_windows.go.
type fdConn interface {
	// tryRead performs a single non-blocking read attempt. ok is false when
	// no data was available (EWOULDBLOCK/EAGAIN); n==0 && ok==true means EOF.
	tryRead(buf []byte) (n int, ok bool, err error)
	// tryWrite performs a single non-blocking write attempt.
	tryWrite(buf []byte) (n int, ok bool, err error)
	// Close releases the underlying descriptor.
	Close() error
}

// ByteQueue is a non-blocking wrapper over a socket file descriptor holding
// two FIFOs of owned byte segments (inbound, outbound). Tick drains
// readable bytes and flushes queued outbound bytes without ever blocking
// the calling goroutine.
type ByteQueue struct {
	conn   net.Conn
	fd     fdConn
	inbox  []segment
	outbox []segment

	totalRead    uint64
	totalWritten uint64
	inBufferLen  int
	outBufferLen int

	active bool
	log    *zap.Logger
}

// NewByteQueue adopts conn, forcing it into non-blocking mode. The pipe is
// active until Close is called or the peer sends EOF.
func NewByteQueue(conn net.Conn, log *zap.Logger) (*ByteQueue, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fd, err := newFDConn(conn)
	if err != nil {
		return nil, newError(ErrConnectFailed, "NewByteQueue", "failed to set socket non-blocking", err)
	}
	return &ByteQueue{
		conn:   conn,
		fd:     fd,
		active: true,
		log:    log,
	}, nil
}

// Active reports whether the pipe still has a live descriptor, or has
// residual unread inbound bytes even after the descriptor closed — a host
// can keep draining a pipe past EOF until Active returns false and
// MoreToRead returns false.
func (q *ByteQueue) Active() bool {
	return q.active || q.inBufferLen > 0
}

// Tick drains readable bytes into the inbound FIFO and flushes the
// outbound FIFO. It never blocks: EWOULDBLOCK/EAGAIN end the attempt for
// this tick, a zero-length read closes the pipe, and any other read/write
// error is logged and treated as a closed pipe rather than thrown.
func (q *ByteQueue) Tick() {
	if !q.active {
		return
	}
	q.drainReadable()
	q.flushWritable()
}

func (q *ByteQueue) drainReadable() {
	for {
		buf := make([]byte, readChunkSize)
		n, ok, err := q.fd.tryRead(buf)
		if err != nil {
			q.log.Debug("torctl: read error, closing pipe", zap.Error(err))
			q.closeInternal()
			return
		}
		if !ok {
			return // EWOULDBLOCK/EAGAIN: nothing more to read this tick
		}
		if n == 0 {
			q.log.Debug("torctl: EOF on control pipe")
			q.closeInternal()
			return
		}
		q.inbox = append(q.inbox, segment{buf: buf[:n]})
		q.inBufferLen += n
		q.totalRead += uint64(n)
		if n < readChunkSize {
			return // short read: no more buffered data right now
		}
	}
}

func (q *ByteQueue) flushWritable() {
	for len(q.outbox) > 0 {
		front := &q.outbox[0]
		n, ok, err := q.fd.tryWrite(front.buf)
		if err != nil {
			q.log.Debug("torctl: write error, closing pipe", zap.Error(err))
			q.closeInternal()
			return
		}
		if !ok || n == 0 {
			return // EWOULDBLOCK/EAGAIN: try again next tick
		}
		q.totalWritten += uint64(n)
		q.outBufferLen -= n
		if n >= len(front.buf) {
			q.outbox = q.outbox[1:]
		} else {
			front.buf = front.buf[n:]
			return // partial write: front segment now holds the unsent suffix
		}
	}
}

// ReadLine returns the smallest inbound prefix that either ends in '\n' or
// reaches max-1 bytes, consuming it from the FIFO. It returns nil, false if
// no such prefix is buffered yet.
func (q *ByteQueue) ReadLine(max int) ([]byte, bool) {
	joined := q.peekAll()
	limit := len(joined)
	if limit > max-1 {
		limit = max - 1
	}
	idx := bytes.IndexByte(joined[:limit], '\n')
	var end int
	if idx >= 0 {
		end = idx + 1
	} else if len(joined) >= max-1 {
		end = max - 1
	} else {
		return nil, false
	}
	line := make([]byte, end)
	copy(line, joined[:end])
	q.consume(end)
	return line, true
}

// ReadData atomically returns exactly n bytes if at least n are buffered,
// otherwise it returns nil, false without consuming anything.
func (q *ByteQueue) ReadData(n int) ([]byte, bool) {
	if q.inBufferLen < n {
		return nil, false
	}
	joined := q.peekAll()
	out := make([]byte, n)
	copy(out, joined[:n])
	q.consume(n)
	return out, true
}

// SendData copies buf into the outbound FIFO. It never blocks; Tick drains
// it opportunistically.
func (q *ByteQueue) SendData(buf []byte) {
	if len(buf) == 0 {
		return
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	q.outbox = append(q.outbox, segment{buf: cp})
	q.outBufferLen += len(cp)
}

// MoreToRead reports whether the inbound FIFO currently holds any bytes.
func (q *ByteQueue) MoreToRead() bool {
	return q.inBufferLen > 0
}

// MoreToWrite reports whether the outbound FIFO still has queued bytes.
func (q *ByteQueue) MoreToWrite() bool {
	return q.outBufferLen > 0
}

// InBufferBytes returns the number of unconsumed bytes currently buffered
// for reading.
func (q *ByteQueue) InBufferBytes() int {
	return q.inBufferLen
}

// Close marks the pipe inactive and releases the descriptor. Residual
// inbound bytes remain readable until drained.
func (q *ByteQueue) Close() error {
	return q.closeInternal()
}

func (q *ByteQueue) closeInternal() error {
	if !q.active {
		return nil
	}
	q.active = false
	err := q.fd.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// peekAll returns the full contents of the inbound FIFO as one contiguous
// slice, coalescing segments only when more than one is queued.
func (q *ByteQueue) peekAll() []byte {
	if len(q.inbox) == 1 {
		return q.inbox[0].buf
	}
	joined := make([]byte, 0, q.inBufferLen)
	for _, s := range q.inbox {
		joined = append(joined, s.buf...)
	}
	if len(q.inbox) > 1 {
		q.inbox = []segment{{buf: joined}}
	}
	return joined
}

// consume drops n bytes from the front of the inbound FIFO.
func (q *ByteQueue) consume(n int) {
	if len(q.inbox) == 0 {
		return
	}
	q.inbox[0].buf = q.inbox[0].buf[n:]
	q.inBufferLen -= n
	if len(q.inbox[0].buf) == 0 {
		q.inbox = q.inbox[1:]
	}
}

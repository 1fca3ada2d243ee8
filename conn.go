package compio

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// ConnHandler receives the lifecycle callbacks of one connection.
//
// OnConnect fires once the connection is usable: after the handshake for
// dialed connections, right after accept for server-side ones. OnData
// fires for every chunk read off the wire, transferring ownership of the
// buffer. OnClose fires exactly once with the reason the connection
// stopped, always a `*CloseError`.
//
// Callbacks run on the dispatch goroutine and must not block, except
// OnClose which runs on whichever goroutine triggered the close.
type ConnHandler interface {
	OnConnect(c *Conn)
	OnData(c *Conn, buf Buffer)
	OnClose(c *Conn, cause error)
}

// Conn is one TCP peer driven through a Proactor: a continuous read cycle
// feeding OnData, and a write pump that re-issues partially written
// buffers and serialises queued Sends.
type Conn struct {
	p      *Proactor
	sock   *Socket
	h      ConnHandler
	logger *slog.Logger

	closed atomic.Bool

	// onTeardown releases server-side bookkeeping.
	onTeardown func(*Conn)

	mu      sync.Mutex
	out     *queue.Queue
	writing bool
}

func newConn(p *Proactor, sock *Socket, h ConnHandler) *Conn {
	return &Conn{
		p:      p,
		sock:   sock,
		h:      h,
		logger: p.logger,
		out:    queue.New(),
	}
}

// Dial opens a TCP connection to addr:port through the proactor. The
// returned Conn is not usable until its handler's OnConnect fires; a
// failed handshake surfaces through OnClose instead.
func Dial(p *Proactor, addr string, port int, h ConnHandler) (*Conn, error) {
	sock, err := CreateTCP()
	if err != nil {
		return nil, err
	}
	c := newConn(p, sock, h)
	op := NewConnectOp(sock, addr, port, CompletionFunc(c.connected))
	if err := p.Initiate(op); err != nil {
		sock.Close()
		return nil, err
	}
	return c, nil
}

// Socket exposes the underlying descriptor owner.
func (c *Conn) Socket() *Socket {
	return c.sock
}

func (c *Conn) LocalAddr() (string, int, error) {
	return c.sock.LocalAddr()
}

func (c *Conn) RemoteAddr() (string, int, error) {
	return c.sock.RemoteAddr()
}

// Send queues data for asynchronous delivery, taking ownership of it.
// Sends may come from any goroutine and go out in order; partial writes
// are re-issued internally until the buffer is gone.
func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	buf := NewBuffer(data)
	c.mu.Lock()
	if c.writing {
		c.out.Add(buf)
		c.mu.Unlock()
		return nil
	}
	c.writing = true
	c.mu.Unlock()
	return c.write(buf)
}

// Close tears the connection down and reports CloseReasonLocal to the
// handler. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.teardown(closeBecause(CloseReasonLocal, nil))
	return nil
}

func (c *Conn) write(buf Buffer) error {
	op := NewWriteOp(c.sock, buf, CompletionFunc(c.wrote))
	if err := c.p.Initiate(op); err != nil {
		c.mu.Lock()
		c.writing = false
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Conn) connected(_ int, _ Buffer, err error) {
	if c.closed.Load() {
		return
	}
	if err != nil {
		c.teardown(closeBecause(connReason(err), err))
		return
	}
	c.h.OnConnect(c)
	c.startRead()
}

func (c *Conn) startRead() {
	if c.closed.Load() {
		return
	}
	op := NewReadOp(c.sock, CompletionFunc(c.readDone))
	if err := c.p.Initiate(op); err != nil {
		c.teardown(closeBecause(connReason(err), err))
	}
}

func (c *Conn) readDone(n int, buf Buffer, err error) {
	if c.closed.Load() {
		return
	}
	if err != nil {
		c.teardown(closeBecause(connReason(err), err))
		return
	}
	if n == 0 {
		c.teardown(closeBecause(CloseReasonPeer, ErrPeerClosed))
		return
	}
	c.p.msink.IncrCounterWithLabels(MetricConnInBytes, float32(n), c.p.cfg.metricLabels)
	c.h.OnData(c, buf)
	c.startRead()
}

func (c *Conn) wrote(n int, buf Buffer, err error) {
	if c.closed.Load() {
		return
	}
	if err != nil {
		c.teardown(closeBecause(connReason(err), err))
		return
	}
	c.p.msink.IncrCounterWithLabels(MetricConnOutBytes, float32(n), c.p.cfg.metricLabels)

	next := buf.Skip(n)
	if next.Len() == 0 {
		c.mu.Lock()
		if c.out.Length() == 0 {
			c.writing = false
			c.mu.Unlock()
			return
		}
		next = c.out.Remove().(Buffer)
		c.mu.Unlock()
	}
	if werr := c.write(next); werr != nil {
		c.teardown(closeBecause(connReason(werr), werr))
	}
}

func (c *Conn) teardown(cause *CloseError) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.sock.Close()
	c.p.msink.IncrCounterWithLabels(MetricConnClosedCount, 1,
		c.p.withLabels(LabelReason.M(cause.Reason.String())))
	if c.onTeardown != nil {
		c.onTeardown(c)
	}
	c.h.OnClose(c, cause)
}

// connReason folds shutdown-flavoured failures into their own reason so
// handlers can tell them apart from wire errors.
func connReason(err error) CloseReason {
	if errors.Is(err, ErrProactorStopped) || errors.Is(err, ErrNotRunning) {
		return CloseReasonShutdown
	}
	return CloseReasonError
}

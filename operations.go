package compio

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	_ AsyncOperation = (*ConnectOp)(nil)
	_ AsyncOperation = (*AcceptOp)(nil)
	_ AsyncOperation = (*ReadOp)(nil)
	_ AsyncOperation = (*WriteOp)(nil)
)

// transientErr reports readiness that evaporated before the syscall ran.
func transientErr(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

// ConnectOp establishes an outbound TCP connection. The completion
// reports n == 0 on success.
type ConnectOp struct {
	baseOp
	addr string
	port int
}

func NewConnectOp(sock *Socket, addr string, port int, handler CompletionHandler) *ConnectOp {
	return &ConnectOp{
		baseOp: baseOp{sock: sock, handler: handler},
		addr:   addr,
		port:   port,
	}
}

func (op *ConnectOp) Kind() OpKind { return OpConnect }

// initiate starts the handshake. The kernel keeps driving it after the
// EINPROGRESS return; the descriptor turns writable when the outcome is
// known.
func (op *ConnectOp) initiate(p *Proactor) error {
	if err := op.consume(); err != nil {
		return err
	}
	err := op.sock.Connect(op.addr, op.port)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EALREADY) {
		return err
	}
	q := p.queue.Load()
	op.sock.attach(q)
	return q.RegisterInterest(op.sock.Fd(), EventWritable, op)
}

func (op *ConnectOp) perform(p *Proactor, _ IOEvent) {
	if err := op.sock.soError(); err != nil {
		op.complete(p, OpConnect, -1, Buffer{}, err)
		return
	}
	op.complete(p, OpConnect, 0, Buffer{}, nil)
}

func (op *ConnectOp) fail(p *Proactor, cause error) {
	op.complete(p, OpConnect, -1, Buffer{}, cause)
}

// AcceptOp waits for one inbound connection on a listening socket. The
// completion reports the accepted descriptor as n; wrap it with
// `NewSocketFromFD` to keep using it.
type AcceptOp struct {
	baseOp
}

func NewAcceptOp(sock *Socket, handler CompletionHandler) *AcceptOp {
	return &AcceptOp{baseOp: baseOp{sock: sock, handler: handler}}
}

func (op *AcceptOp) Kind() OpKind { return OpAccept }

func (op *AcceptOp) initiate(p *Proactor) error {
	if err := op.consume(); err != nil {
		return err
	}
	q := p.queue.Load()
	op.sock.attach(q)
	return q.RegisterInterest(op.sock.Fd(), EventReadable, op)
}

func (op *AcceptOp) perform(p *Proactor, _ IOEvent) {
	nfd, err := op.sock.acceptFD()
	if err != nil {
		// A connection gone before we got to it is not our caller's
		// problem; wait for the next one.
		if transientErr(err) || errors.Is(err, unix.ECONNABORTED) {
			op.rearm(p, EventReadable, op)
			return
		}
		op.complete(p, OpAccept, -1, Buffer{}, err)
		return
	}
	op.complete(p, OpAccept, nfd, Buffer{}, nil)
}

func (op *AcceptOp) fail(p *Proactor, cause error) {
	op.complete(p, OpAccept, -1, Buffer{}, cause)
}

// ReadOp waits for inbound data and reads once into a fresh buffer sized
// by `WithReadBufferSize`. A completion of (0, empty, nil) means the peer
// closed its end.
type ReadOp struct {
	baseOp
}

func NewReadOp(sock *Socket, handler CompletionHandler) *ReadOp {
	return &ReadOp{baseOp: baseOp{sock: sock, handler: handler}}
}

func (op *ReadOp) Kind() OpKind { return OpRead }

func (op *ReadOp) initiate(p *Proactor) error {
	if err := op.consume(); err != nil {
		return err
	}
	q := p.queue.Load()
	op.sock.attach(q)
	return q.RegisterInterest(op.sock.Fd(), EventReadable, op)
}

func (op *ReadOp) perform(p *Proactor, _ IOEvent) {
	data := make([]byte, p.cfg.readBufferSize)
	n, err := op.sock.Read(data)
	if err != nil {
		if transientErr(err) {
			op.rearm(p, EventReadable, op)
			return
		}
		op.complete(p, OpRead, -1, Buffer{}, err)
		return
	}
	op.complete(p, OpRead, n, NewBuffer(data[:n]), nil)
}

func (op *ReadOp) fail(p *Proactor, cause error) {
	op.complete(p, OpRead, -1, Buffer{}, cause)
}

// WriteOp writes the buffer once the descriptor accepts data. The
// completion reports how much the kernel took, which may be less than
// `buf.Len()`: re-issuing the remainder is the handler's call, the
// framework never retries on its own. Ownership of the buffer travels
// back to the handler either way.
type WriteOp struct {
	baseOp
	buf Buffer
}

func NewWriteOp(sock *Socket, buf Buffer, handler CompletionHandler) *WriteOp {
	return &WriteOp{
		baseOp: baseOp{sock: sock, handler: handler},
		buf:    buf,
	}
}

func (op *WriteOp) Kind() OpKind { return OpWrite }

func (op *WriteOp) initiate(p *Proactor) error {
	if err := op.consume(); err != nil {
		return err
	}
	q := p.queue.Load()
	op.sock.attach(q)
	return q.RegisterInterest(op.sock.Fd(), EventWritable, op)
}

func (op *WriteOp) perform(p *Proactor, _ IOEvent) {
	n, err := op.sock.Write(op.buf.Bytes())
	if err != nil {
		if transientErr(err) {
			op.rearm(p, EventWritable, op)
			return
		}
		op.complete(p, OpWrite, -1, op.buf, err)
		return
	}
	op.complete(p, OpWrite, n, op.buf, nil)
}

func (op *WriteOp) fail(p *Proactor, cause error) {
	op.complete(p, OpWrite, -1, op.buf, cause)
}

package compio

import "sync/atomic"

const (
	OpConnect OpKind = iota
	OpAccept
	OpRead
	OpWrite
)

// OpKind enumerates the asynchronous operation verbs.
type OpKind uint8

func (kind OpKind) String() string {
	switch kind {
	case OpConnect:
		return "connect"
	case OpAccept:
		return "accept"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "invalid"
	}
}

// CompletionHandler receives the outcome of one asynchronous operation.
//
// n is the verb's numeric result: bytes transferred for reads and writes,
// the accepted descriptor for accepts, zero for connects, -1 on failure.
// A read delivering (0, empty buffer, nil error) means the peer closed
// its end in an orderly fashion; that is not a failure.
//
// Implementations run on the dispatch goroutine and MUST NOT block, or
// they stall every other completion behind them.
type CompletionHandler interface {
	HandleCompletion(n int, buf Buffer, err error)
}

// CompletionFunc adapts a plain function to the CompletionHandler
// interface.
type CompletionFunc func(n int, buf Buffer, err error)

func (fn CompletionFunc) HandleCompletion(n int, buf Buffer, err error) {
	fn(n, buf, err)
}

// AsyncOperation is one single-shot asynchronous I/O command: initiated at
// most once through `Proactor.Initiate`, completed exactly once through
// its CompletionHandler. The implementations are the four verb types of
// this package.
type AsyncOperation interface {
	Kind() OpKind
	Socket() *Socket
	Handler() CompletionHandler

	// initiate runs verb pre-work and arms the queue registration.
	initiate(p *Proactor) error
	// perform runs the verb syscall after readiness and completes.
	perform(p *Proactor, events IOEvent)
	// fail completes with the given cause without touching the
	// descriptor.
	fail(p *Proactor, cause error)
}

// baseOp carries what every verb shares: the target socket, the
// completion handler and the single-use guards.
type baseOp struct {
	sock    *Socket
	handler CompletionHandler

	initiated atomic.Bool
	completed atomic.Bool
}

func (op *baseOp) Socket() *Socket {
	return op.sock
}

func (op *baseOp) Handler() CompletionHandler {
	return op.handler
}

// consume validates the operation and burns its single initiation.
func (op *baseOp) consume() error {
	if op.handler == nil {
		return ErrHandlerRequired
	}
	if op.sock == nil || !op.sock.IsValid() {
		return ErrSocketClosed
	}
	if !op.initiated.CompareAndSwap(false, true) {
		return ErrOperationConsumed
	}
	return nil
}

// complete invokes the handler exactly once and records completion
// telemetry. Late duplicates are dropped.
func (op *baseOp) complete(p *Proactor, kind OpKind, n int, buf Buffer, err error) {
	if !op.completed.CompareAndSwap(false, true) {
		return
	}
	p.observeCompletion(kind, err)
	p.invoke(op.handler, n, buf, err)
}

// rearm re-registers after spurious readiness: the kernel reported the
// descriptor ready but the syscall found nothing to do. Failure to re-arm
// becomes the completion.
func (op *baseOp) rearm(p *Proactor, interest IOEvent, self AsyncOperation) {
	if err := p.queue.Load().RegisterInterest(op.sock.Fd(), interest, self); err != nil {
		op.complete(p, self.Kind(), -1, Buffer{}, err)
	}
}

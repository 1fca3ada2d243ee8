package compio

import (
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// ReadyOp is one runnable unit returned by Wait: either a pending
// operation whose descriptor turned ready, or an operation that was
// canceled and must now fail.
type ReadyOp struct {
	Op     AsyncOperation
	Events IOEvent

	// Cause is non-nil when the operation was canceled rather than ready.
	Cause error
}

// fdEntry holds the pending registrations of one descriptor, at most one
// per interest direction.
type fdEntry struct {
	read  AsyncOperation
	write AsyncOperation
}

func (entry *fdEntry) mask() IOEvent {
	var ev IOEvent
	if entry.read != nil {
		ev |= EventReadable
	}
	if entry.write != nil {
		ev |= EventWritable
	}
	return ev
}

// EventQueue wraps the kernel readiness demultiplexer, a wake-up device
// and the registration table. It enforces the one-pending-operation per
// (descriptor, interest) rule and converts cancellations into deferred
// failure deliveries.
//
// All methods are safe for concurrent use, with one restriction: Close
// must not race an in-flight Wait. The Proactor upholds this by joining
// its dispatch goroutine first.
type EventQueue struct {
	poller *poller
	wake   *wakeFD
	batch  []pollEvent

	mu       sync.Mutex
	table    map[int]*fdEntry
	deferred *queue.Queue
	closed   bool
}

// NewEventQueue allocates the kernel demultiplexer and its wake device.
// batch bounds how many notifications one Wait may harvest; zero or a
// negative value selects the default.
func NewEventQueue(batch int) (*EventQueue, error) {
	if batch <= 0 {
		batch = defaultPollBatch
	}
	p, err := newPoller(batch)
	if err != nil {
		return nil, err
	}
	w, err := newWakeFD()
	if err != nil {
		p.close()
		return nil, err
	}
	q := &EventQueue{
		poller:   p,
		wake:     w,
		batch:    make([]pollEvent, batch),
		table:    make(map[int]*fdEntry),
		deferred: queue.New(),
	}
	if err := p.update(w.readFD(), 0, EventReadable); err != nil {
		w.close()
		p.close()
		return nil, err
	}
	return q, nil
}

// RegisterInterest arms op for one readiness direction of fd. A second
// registration for the same (fd, interest) pair fails with
// ErrAlreadyRegistered and leaves the first untouched.
func (q *EventQueue) RegisterInterest(fd int, interest IOEvent, op AsyncOperation) error {
	if interest != EventReadable && interest != EventWritable {
		return ErrInvalidInterest
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	entry := q.table[fd]
	if entry == nil {
		entry = &fdEntry{}
		q.table[fd] = entry
	}
	slot := &entry.read
	if interest == EventWritable {
		slot = &entry.write
	}
	if *slot != nil {
		return fmt.Errorf("%w: fd %d, %s", ErrAlreadyRegistered, fd, interest)
	}
	prev := entry.mask()
	*slot = op
	if err := q.poller.update(fd, prev, entry.mask()); err != nil {
		*slot = nil
		if entry.mask() == 0 {
			delete(q.table, fd)
		}
		return err
	}
	return nil
}

// Unregister disarms one readiness direction of fd without completing the
// operation that was pending there.
func (q *EventQueue) Unregister(fd int, interest IOEvent) error {
	if interest != EventReadable && interest != EventWritable {
		return ErrInvalidInterest
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	entry := q.table[fd]
	if entry == nil || (interest == EventReadable && entry.read == nil) ||
		(interest == EventWritable && entry.write == nil) {
		return fmt.Errorf("%w: fd %d, %s", ErrNotRegistered, fd, interest)
	}
	prev := entry.mask()
	if interest == EventReadable {
		entry.read = nil
	} else {
		entry.write = nil
	}
	next := entry.mask()
	if next == 0 {
		delete(q.table, fd)
	}
	return q.poller.update(fd, prev, next)
}

// Pending reports how many operations await delivery, armed or deferred.
func (q *EventQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	for _, entry := range q.table {
		if entry.read != nil {
			n++
		}
		if entry.write != nil {
			n++
		}
	}
	return n + q.deferred.Length()
}

// Wait blocks until at least one registration turns ready, a cancellation
// is queued, the wake device fires, or timeout elapses. A negative timeout
// blocks indefinitely. Returned operations are no longer registered:
// re-arming is the caller's decision.
func (q *EventQueue) Wait(timeout time.Duration) ([]ReadyOp, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	ready := q.takeDeferredLocked(nil)
	q.mu.Unlock()
	if len(ready) > 0 {
		return ready, nil
	}

	n, err := q.poller.wait(q.batch, timeout)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	ready = q.takeDeferredLocked(ready)
	for i := 0; i < n; i++ {
		ev := q.batch[i]
		if ev.fd == q.wake.readFD() {
			q.wake.drain()
			continue
		}
		entry := q.table[ev.fd]
		if entry == nil {
			// Stale notification for a descriptor canceled in between.
			continue
		}
		prev := entry.mask()
		if entry.read != nil && ev.events.Has(EventReadable|EventErrored|EventHangup) {
			ready = append(ready, ReadyOp{Op: entry.read, Events: ev.events})
			entry.read = nil
		}
		if entry.write != nil && ev.events.Has(EventWritable|EventErrored|EventHangup) {
			ready = append(ready, ReadyOp{Op: entry.write, Events: ev.events})
			entry.write = nil
		}
		next := entry.mask()
		if next != prev {
			if next == 0 {
				delete(q.table, ev.fd)
			}
			_ = q.poller.update(ev.fd, prev, next)
		}
	}
	return ready, nil
}

// Wake forces a blocked Wait to return early. Waking a closed queue is
// a no-op.
func (q *EventQueue) Wake() {
	q.mu.Lock()
	if !q.closed {
		q.wake.wake()
	}
	q.mu.Unlock()
}

// Close releases the kernel resources. Operations still pending are
// discarded; go through `Proactor.Stop` for a drained shutdown.
func (q *EventQueue) Close() error {
	_, err := q.closeAndDrain(ErrQueueClosed)
	return err
}

// cancelPending pops both registrations of fd, queues them as deferred
// failures with the given cause and wakes the loop so they are delivered
// promptly.
func (q *EventQueue) cancelPending(fd int, cause error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	entry := q.table[fd]
	if entry == nil {
		q.mu.Unlock()
		return
	}
	prev := entry.mask()
	if entry.read != nil {
		q.deferred.Add(ReadyOp{Op: entry.read, Cause: cause})
		entry.read = nil
	}
	if entry.write != nil {
		q.deferred.Add(ReadyOp{Op: entry.write, Cause: cause})
		entry.write = nil
	}
	delete(q.table, fd)
	_ = q.poller.update(fd, prev, 0)
	// Wake under the lock: Close releases the wake descriptor under it,
	// and the write must not race that. wake never blocks.
	q.wake.wake()
	q.mu.Unlock()
}

// closeAndDrain marks the queue closed, pops every pending registration as
// a failure with the given cause and releases the kernel resources. Any
// later RegisterInterest observes ErrQueueClosed.
func (q *EventQueue) closeAndDrain(cause error) ([]ReadyOp, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, nil
	}
	q.closed = true
	ready := q.takeDeferredLocked(nil)
	for fd, entry := range q.table {
		if entry.read != nil {
			ready = append(ready, ReadyOp{Op: entry.read, Cause: cause})
		}
		if entry.write != nil {
			ready = append(ready, ReadyOp{Op: entry.write, Cause: cause})
		}
		delete(q.table, fd)
	}
	werr := q.wake.close()
	perr := q.poller.close()
	if perr != nil {
		return ready, perr
	}
	return ready, werr
}

func (q *EventQueue) takeDeferredLocked(ready []ReadyOp) []ReadyOp {
	for q.deferred.Length() > 0 {
		ready = append(ready, q.deferred.Remove().(ReadyOp))
	}
	return ready
}

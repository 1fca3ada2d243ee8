package compio

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// stubOp satisfies AsyncOperation without doing any I/O, so queue
// mechanics can be exercised in isolation.
type stubOp struct {
	kind OpKind
}

func (op *stubOp) Kind() OpKind               { return op.kind }
func (op *stubOp) Socket() *Socket            { return nil }
func (op *stubOp) Handler() CompletionHandler { return nil }
func (op *stubOp) initiate(*Proactor) error   { return nil }
func (op *stubOp) perform(*Proactor, IOEvent) {}
func (op *stubOp) fail(*Proactor, error)      {}

func testQueue(t *testing.T) *EventQueue {
	t.Helper()
	q, err := NewEventQueue(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func testPipe(t *testing.T) (int, int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	require.NoError(t, unix.SetNonblock(p[0], true))
	require.NoError(t, unix.SetNonblock(p[1], true))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestEventQueueRegistration(t *testing.T) {
	q := testQueue(t)
	r, _ := testPipe(t)

	t.Run("rejects exotic interests", func(t *testing.T) {
		err := q.RegisterInterest(r, EventErrored, &stubOp{kind: OpRead})
		require.ErrorIs(t, err, ErrInvalidInterest)
		err = q.RegisterInterest(r, EventReadable|EventWritable, &stubOp{kind: OpRead})
		require.ErrorIs(t, err, ErrInvalidInterest)
	})

	t.Run("one pending operation per direction", func(t *testing.T) {
		require.NoError(t, q.RegisterInterest(r, EventReadable, &stubOp{kind: OpRead}))
		err := q.RegisterInterest(r, EventReadable, &stubOp{kind: OpRead})
		require.ErrorIs(t, err, ErrAlreadyRegistered)

		// The other direction is an independent slot.
		require.NoError(t, q.RegisterInterest(r, EventWritable, &stubOp{kind: OpWrite}))
		require.Equal(t, 2, q.Pending())
	})

	t.Run("unregister frees the slot", func(t *testing.T) {
		require.NoError(t, q.Unregister(r, EventWritable))
		require.ErrorIs(t, q.Unregister(r, EventWritable), ErrNotRegistered)
		require.NoError(t, q.Unregister(r, EventReadable))
		require.Zero(t, q.Pending())
	})
}

func TestEventQueueWait(t *testing.T) {
	t.Run("times out empty", func(t *testing.T) {
		q := testQueue(t)
		start := time.Now()
		ready, err := q.Wait(50 * time.Millisecond)
		require.NoError(t, err)
		require.Empty(t, ready)
		require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("delivers readiness and pops the registration", func(t *testing.T) {
		q := testQueue(t)
		r, w := testPipe(t)
		op := &stubOp{kind: OpRead}
		require.NoError(t, q.RegisterInterest(r, EventReadable, op))

		_, err := unix.Write(w, []byte{1})
		require.NoError(t, err)

		ready, err := q.Wait(time.Second)
		require.NoError(t, err)
		require.Len(t, ready, 1)
		require.Same(t, op, ready[0].Op)
		require.True(t, ready[0].Events.Has(EventReadable))
		require.NoError(t, ready[0].Cause)
		require.Zero(t, q.Pending())

		// One-shot: the byte is still unread but the registration is gone.
		ready, err = q.Wait(50 * time.Millisecond)
		require.NoError(t, err)
		require.Empty(t, ready)
	})

	t.Run("wake interrupts a long wait", func(t *testing.T) {
		q := testQueue(t)
		go func() {
			time.Sleep(20 * time.Millisecond)
			q.Wake()
		}()
		start := time.Now()
		ready, err := q.Wait(5 * time.Second)
		require.NoError(t, err)
		require.Empty(t, ready)
		require.Less(t, time.Since(start), time.Second)
	})

	t.Run("cancellation is delivered as a failure", func(t *testing.T) {
		q := testQueue(t)
		r, _ := testPipe(t)
		op := &stubOp{kind: OpRead}
		require.NoError(t, q.RegisterInterest(r, EventReadable, op))

		q.cancelPending(r, ErrSocketClosed)
		ready, err := q.Wait(time.Second)
		require.NoError(t, err)
		require.Len(t, ready, 1)
		require.Same(t, op, ready[0].Op)
		require.ErrorIs(t, ready[0].Cause, ErrSocketClosed)
		require.Zero(t, q.Pending())
	})

	t.Run("cancellations racing close stay orderly", func(t *testing.T) {
		q, err := NewEventQueue(8)
		require.NoError(t, err)
		r, _ := testPipe(t)
		require.NoError(t, q.RegisterInterest(r, EventReadable, &stubOp{kind: OpRead}))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				q.cancelPending(r, ErrSocketClosed)
			}()
		}
		require.NoError(t, q.Close())
		wg.Wait()

		err = q.RegisterInterest(r, EventReadable, &stubOp{kind: OpRead})
		require.ErrorIs(t, err, ErrQueueClosed)
	})

	t.Run("closed queue refuses everything", func(t *testing.T) {
		q, err := NewEventQueue(8)
		require.NoError(t, err)
		require.NoError(t, q.Close())
		require.NoError(t, q.Close())

		require.ErrorIs(t, q.RegisterInterest(0, EventReadable, &stubOp{}), ErrQueueClosed)
		require.ErrorIs(t, q.Unregister(0, EventReadable), ErrQueueClosed)
		_, err = q.Wait(time.Millisecond)
		require.ErrorIs(t, err, ErrQueueClosed)
	})
}

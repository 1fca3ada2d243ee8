package compio

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// poller is the Darwin readiness backend, a kqueue instance with one
// kernel filter per armed interest.
type poller struct {
	kq      int
	scratch []unix.Kevent_t
}

func newPoller(batch int) (*poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kq)
	return &poller{kq: kq, scratch: make([]unix.Kevent_t, batch)}, nil
}

// update transitions the kernel registration for fd from the prev interest
// set to next, one filter at a time. A filter that already vanished on
// delete is tolerated: the descriptor may have been closed under us.
func (p *poller) update(fd int, prev, next IOEvent) error {
	if err := p.updateFilter(fd, unix.EVFILT_READ, prev.Has(EventReadable), next.Has(EventReadable)); err != nil {
		return err
	}
	return p.updateFilter(fd, unix.EVFILT_WRITE, prev.Has(EventWritable), next.Has(EventWritable))
}

func (p *poller) updateFilter(fd int, filter int, prev, next bool) error {
	if prev == next {
		return nil
	}
	flags := unix.EV_ADD
	if !next {
		flags = unix.EV_DELETE
	}
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, flags)
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	if !next && (err == unix.ENOENT || err == unix.EBADF) {
		return nil
	}
	return os.NewSyscallError("kevent", err)
}

// wait harvests up to len(p.scratch) notifications. An interrupted wait is
// not an error, it simply yields an empty batch.
func (p *poller) wait(out []pollEvent, timeout time.Duration) (int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		spec := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &spec
	}
	n, err := unix.Kevent(p.kq, nil, p.scratch, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("kevent", err)
	}
	for i := 0; i < n; i++ {
		out[i] = pollEvent{
			fd:     int(p.scratch[i].Ident),
			events: keventEvents(&p.scratch[i]),
		}
	}
	return n, nil
}

func (p *poller) close() error {
	return os.NewSyscallError("close", unix.Close(p.kq))
}

func keventEvents(ev *unix.Kevent_t) IOEvent {
	var out IOEvent
	switch ev.Filter {
	case unix.EVFILT_READ:
		out |= EventReadable
	case unix.EVFILT_WRITE:
		out |= EventWritable
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		out |= EventErrored
	}
	if ev.Flags&unix.EV_EOF != 0 {
		out |= EventHangup
	}
	return out
}

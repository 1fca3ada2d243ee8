package compio

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// poller is the Linux readiness backend, a level-triggered epoll instance.
type poller struct {
	epfd    int
	scratch []unix.EpollEvent
}

func newPoller(batch int) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &poller{epfd: epfd, scratch: make([]unix.EpollEvent, batch)}, nil
}

// update transitions the kernel registration for fd from the prev interest
// set to next. On shrink paths a registration that already vanished is
// tolerated: the descriptor may have been closed under us, and the next
// syscall on it tells the real story.
func (p *poller) update(fd int, prev, next IOEvent) error {
	switch {
	case prev == next:
		return nil
	case prev == 0:
		return os.NewSyscallError("epoll_ctl", p.ctl(unix.EPOLL_CTL_ADD, fd, next))
	case next == 0:
		err := p.ctl(unix.EPOLL_CTL_DEL, fd, 0)
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return os.NewSyscallError("epoll_ctl", err)
	default:
		err := p.ctl(unix.EPOLL_CTL_MOD, fd, next)
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return os.NewSyscallError("epoll_ctl", err)
	}
}

func (p *poller) ctl(op int, fd int, interest IOEvent) error {
	var ev *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		ev = &unix.EpollEvent{Events: epollMask(interest), Fd: int32(fd)}
	}
	return unix.EpollCtl(p.epfd, op, fd, ev)
}

// wait harvests up to len(p.scratch) notifications. An interrupted wait is
// not an error, it simply yields an empty batch.
func (p *poller) wait(out []pollEvent, timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, p.scratch, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		out[i] = pollEvent{
			fd:     int(p.scratch[i].Fd),
			events: epollEvents(p.scratch[i].Events),
		}
	}
	return n, nil
}

func (p *poller) close() error {
	return os.NewSyscallError("close", unix.Close(p.epfd))
}

func epollMask(interest IOEvent) uint32 {
	var mask uint32
	if interest.Has(EventReadable) {
		mask |= unix.EPOLLIN
	}
	if interest.Has(EventWritable) {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func epollEvents(mask uint32) IOEvent {
	var ev IOEvent
	if mask&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		ev |= EventReadable
	}
	if mask&unix.EPOLLOUT != 0 {
		ev |= EventWritable
	}
	if mask&unix.EPOLLERR != 0 {
		ev |= EventErrored
	}
	if mask&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= EventHangup
	}
	return ev
}

package compio

import (
	"os"

	"golang.org/x/sys/unix"
)

// wakeFD interrupts a kernel wait from another goroutine. On Darwin it is
// a non-blocking pipe pair.
type wakeFD struct {
	r int
	w int
}

func newWakeFD() (*wakeFD, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, os.NewSyscallError("fcntl", err)
		}
		unix.CloseOnExec(fd)
	}
	return &wakeFD{r: p[0], w: p[1]}, nil
}

// readFD is the descriptor to register for readable interest.
func (w *wakeFD) readFD() int {
	return w.r
}

// wake is best-effort: a full pipe already guarantees the waiter will
// observe readiness.
func (w *wakeFD) wake() {
	buf := [1]byte{1}
	_, _ = unix.Write(w.w, buf[:])
}

// drain empties the pipe so level-triggered polling stops reporting it.
func (w *wakeFD) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (w *wakeFD) close() error {
	unix.Close(w.w)
	return os.NewSyscallError("close", unix.Close(w.r))
}

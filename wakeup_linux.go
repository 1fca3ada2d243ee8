package compio

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

// wakeFD interrupts a kernel wait from another goroutine. On Linux it is
// an eventfd counter.
type wakeFD struct {
	fd int
}

func newWakeFD() (*wakeFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	return &wakeFD{fd: fd}, nil
}

// readFD is the descriptor to register for readable interest.
func (w *wakeFD) readFD() int {
	return w.fd
}

// wake is best-effort: a saturated counter already guarantees the waiter
// will observe readiness.
func (w *wakeFD) wake() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(w.fd, buf[:])
}

// drain resets the counter so level-triggered polling stops reporting it.
func (w *wakeFD) drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(w.fd, buf[:]); err != unix.EINTR {
			return
		}
	}
}

func (w *wakeFD) close() error {
	return os.NewSyscallError("close", unix.Close(w.fd))
}

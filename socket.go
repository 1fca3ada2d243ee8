package compio

import (
	"fmt"
	"net/netip"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Socket owns exactly one non-blocking TCP descriptor. All methods are
// plain synchronous wrappers over the corresponding syscalls; asynchronous
// behaviour is layered on top by the operation types.
//
// A Socket must be driven by at most one in-flight operation per interest
// direction at a time.
type Socket struct {
	fd     int
	closed atomic.Bool

	// queue is set when an operation registers the descriptor, so Close
	// can cancel pending registrations.
	queue atomic.Pointer[EventQueue]
}

// CreateTCP allocates a fresh IPv4 TCP socket. The descriptor is
// non-blocking from birth.
func CreateTCP() (*Socket, error) {
	fd, err := sysSocketTCP()
	if err != nil {
		return nil, err
	}
	return &Socket{fd: fd}, nil
}

// NewSocketFromFD wraps an already-open descriptor, typically one carried
// by an accept completion. The descriptor is expected to be non-blocking.
func NewSocketFromFD(fd int) *Socket {
	return &Socket{fd: fd}
}

// Fd returns the underlying descriptor.
func (s *Socket) Fd() int {
	return s.fd
}

// IsValid reports whether the descriptor is still open.
func (s *Socket) IsValid() bool {
	return !s.closed.Load()
}

// SetReuseAddress toggles SO_REUSEADDR, letting listeners rebind an
// address still in TIME_WAIT.
func (s *Socket) SetReuseAddress(on bool) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	val := 0
	if on {
		val = 1
	}
	return os.NewSyscallError("setsockopt",
		unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, val))
}

// Bind attaches the socket to a local address. An empty addr binds the
// wildcard interface.
func (s *Socket) Bind(addr string, port int) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	sa, err := sockaddrV4(addr, port)
	if err != nil {
		return err
	}
	return os.NewSyscallError("bind", unix.Bind(s.fd, sa))
}

// Listen marks the socket as passive with the given accept backlog.
func (s *Socket) Listen(backlog int) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	return os.NewSyscallError("listen", unix.Listen(s.fd, backlog))
}

// Connect starts a TCP handshake. On a non-blocking socket the usual
// outcome is an EINPROGRESS error: the handshake continues in the kernel
// and finishes when the descriptor turns writable. Callers wanting the
// asynchronous behaviour should use a ConnectOp instead.
func (s *Socket) Connect(addr string, port int) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	sa, err := sockaddrV4(addr, port)
	if err != nil {
		return err
	}
	return os.NewSyscallError("connect", unix.Connect(s.fd, sa))
}

// Accept takes one pending connection off a listening socket. The returned
// socket is non-blocking.
func (s *Socket) Accept() (*Socket, error) {
	nfd, err := s.acceptFD()
	if err != nil {
		return nil, err
	}
	return NewSocketFromFD(nfd), nil
}

func (s *Socket) acceptFD() (int, error) {
	if s.closed.Load() {
		return -1, ErrSocketClosed
	}
	return sysAccept(s.fd)
}

// Read performs one read syscall. A return of (0, nil) means the peer
// closed its end in an orderly fashion.
func (s *Socket) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrSocketClosed
	}
	n, err := unix.Read(s.fd, p)
	if err != nil {
		return 0, os.NewSyscallError("read", err)
	}
	return n, nil
}

// Write performs one write syscall and reports how much the kernel
// actually took, which may be less than len(p).
func (s *Socket) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrSocketClosed
	}
	n, err := unix.Write(s.fd, p)
	if err != nil {
		return 0, os.NewSyscallError("write", err)
	}
	return n, nil
}

// LocalAddr reports the bound address, useful after a port 0 bind.
func (s *Socket) LocalAddr() (string, int, error) {
	if s.closed.Load() {
		return "", 0, ErrSocketClosed
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return "", 0, os.NewSyscallError("getsockname", err)
	}
	return addrOf(sa)
}

// RemoteAddr reports the peer address of a connected socket.
func (s *Socket) RemoteAddr() (string, int, error) {
	if s.closed.Load() {
		return "", 0, ErrSocketClosed
	}
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return "", 0, os.NewSyscallError("getpeername", err)
	}
	return addrOf(sa)
}

// Close releases the descriptor. Pending registrations are canceled first
// so their operations complete with a failure instead of silently
// vanishing. Closing twice is a no-op.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if q := s.queue.Load(); q != nil {
		q.cancelPending(s.fd, ErrSocketClosed)
	}
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// soError fetches and clears the deferred connect outcome.
func (s *Socket) soError() error {
	code, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if code != 0 {
		return os.NewSyscallError("connect", unix.Errno(code))
	}
	return nil
}

func (s *Socket) attach(q *EventQueue) {
	s.queue.Store(q)
}

func sockaddrV4(addr string, port int) (*unix.SockaddrInet4, error) {
	sa := &unix.SockaddrInet4{Port: port}
	if addr == "" {
		return sa, nil
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddr, addr)
	}
	if !ip.Is4() && !ip.Is4In6() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddr, addr)
	}
	sa.Addr = ip.As4()
	return sa, nil
}

func addrOf(sa unix.Sockaddr) (string, int, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrFrom4(sa.Addr).String(), sa.Port, nil
	case *unix.SockaddrInet6:
		return netip.AddrFrom16(sa.Addr).String(), sa.Port, nil
	default:
		return "", 0, fmt.Errorf("%w: unexpected address family", ErrInvalidAddr)
	}
}

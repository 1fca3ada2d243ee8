package compio

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultBacklog = 128

// Server accepts TCP connections through a Proactor and hands each one to
// a fresh ConnHandler from its factory.
type Server struct {
	p       *Proactor
	factory func() ConnHandler
	logger  *slog.Logger

	listener *Socket
	closed   atomic.Bool

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewServer builds a Server. factory runs once per accepted connection.
func NewServer(p *Proactor, factory func() ConnHandler) *Server {
	return &Server{
		p:       p,
		factory: factory,
		logger:  p.logger,
		conns:   make(map[*Conn]struct{}),
	}
}

// Listen binds addr:port, with port 0 picking a free one, and starts the
// accept cycle. Use Addr to learn the effective port.
func (s *Server) Listen(addr string, port int) error {
	sock, err := CreateTCP()
	if err != nil {
		return err
	}
	if err := sock.SetReuseAddress(true); err != nil {
		sock.Close()
		return err
	}
	if err := sock.Bind(addr, port); err != nil {
		sock.Close()
		return err
	}
	if err := sock.Listen(defaultBacklog); err != nil {
		sock.Close()
		return err
	}
	s.listener = sock
	if err := s.accept(); err != nil {
		s.listener = nil
		sock.Close()
		return err
	}
	if baddr, bport, aerr := sock.LocalAddr(); aerr == nil {
		s.logger.Info("server listening", LabelAddr.L(baddr), LabelPort.L(bport))
	}
	return nil
}

// Addr reports the bound address of the listener.
func (s *Server) Addr() (string, int, error) {
	if s.listener == nil {
		return "", 0, ErrSocketClosed
	}
	return s.listener.LocalAddr()
}

func (s *Server) accept() error {
	op := NewAcceptOp(s.listener, CompletionFunc(s.accepted))
	return s.p.Initiate(op)
}

func (s *Server) accepted(nfd int, _ Buffer, err error) {
	if s.closed.Load() {
		// The completion raced Close; do not leak the descriptor.
		if err == nil {
			_ = NewSocketFromFD(nfd).Close()
		}
		return
	}
	if err != nil {
		if errors.Is(err, ErrSocketClosed) || errors.Is(err, ErrProactorStopped) ||
			errors.Is(err, ErrNotRunning) {
			return
		}
		// EMFILE and friends: keep the accept cycle alive.
		s.logger.Error("accept failed", LabelError.L(err))
		if aerr := s.accept(); aerr != nil {
			s.logger.Error("accept cycle stopped", LabelError.L(aerr))
		}
		return
	}

	c := newConn(s.p, NewSocketFromFD(nfd), s.factory())
	c.onTeardown = s.forget
	s.track(c)
	s.p.msink.IncrCounterWithLabels(MetricAcceptedCount, 1, s.p.cfg.metricLabels)

	c.h.OnConnect(c)
	c.startRead()

	if aerr := s.accept(); aerr != nil {
		s.logger.Error("accept cycle stopped", LabelError.L(aerr))
	}
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	if s.closed.Load() {
		c.Close()
	}
}

func (s *Server) forget(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close stops accepting and closes every live connection. Their pending
// operations surface the cancellation to the respective handlers.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	open := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.conns = make(map[*Conn]struct{})
	s.mu.Unlock()
	for _, c := range open {
		c.Close()
	}
	s.logger.Info("server closed", "conns", len(open))
	return nil
}

var _ ConnHandler = EchoHandler{}

// EchoHandler writes every received payload straight back to its sender.
type EchoHandler struct{}

func (EchoHandler) OnConnect(*Conn) {}

func (EchoHandler) OnData(c *Conn, buf Buffer) {
	if err := c.Send(buf.Bytes()); err != nil {
		c.Close()
	}
}

func (EchoHandler) OnClose(*Conn, error) {}

// NewEchoServer returns a Server that echoes every byte it receives.
func NewEchoServer(p *Proactor) *Server {
	return NewServer(p, func() ConnHandler { return EchoHandler{} })
}

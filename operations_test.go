package compio

import (
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestConnectOp(t *testing.T) {
	p := testProactor(t)

	t.Run("completes once the handshake lands", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()
		port := ln.Addr().(*net.TCPAddr).Port

		sock, err := CreateTCP()
		require.NoError(t, err)
		defer sock.Close()

		ch := make(chan completionRecord, 1)
		require.NoError(t, p.Initiate(NewConnectOp(sock, "127.0.0.1", port, captureCompletion(ch))))

		rec := waitCompletion(t, ch)
		require.NoError(t, rec.err)
		require.Zero(t, rec.n)

		peer, err := ln.Accept()
		require.NoError(t, err)
		peer.Close()
	})

	t.Run("reports a refused handshake", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		sock, err := CreateTCP()
		require.NoError(t, err)
		defer sock.Close()

		ch := make(chan completionRecord, 1)
		err = p.Initiate(NewConnectOp(sock, "127.0.0.1", port, captureCompletion(ch)))
		if err != nil {
			// Loopback may refuse synchronously; the handler must then
			// never fire.
			require.ErrorIs(t, err, unix.ECONNREFUSED)
			require.Empty(t, ch)
			return
		}
		rec := waitCompletion(t, ch)
		require.ErrorIs(t, rec.err, unix.ECONNREFUSED)
		require.Equal(t, -1, rec.n)
	})
}

func TestAcceptOp(t *testing.T) {
	p := testProactor(t)

	listener, err := CreateTCP()
	require.NoError(t, err)
	defer listener.Close()
	require.NoError(t, listener.SetReuseAddress(true))
	require.NoError(t, listener.Bind("127.0.0.1", 0))
	require.NoError(t, listener.Listen(16))
	_, port, err := listener.LocalAddr()
	require.NoError(t, err)

	ch := make(chan completionRecord, 1)
	require.NoError(t, p.Initiate(NewAcceptOp(listener, captureCompletion(ch))))

	peer, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer peer.Close()

	rec := waitCompletion(t, ch)
	require.NoError(t, rec.err)
	require.Greater(t, rec.n, 0)

	accepted := NewSocketFromFD(rec.n)
	defer accepted.Close()

	// The carried descriptor must be a usable, non-blocking socket.
	_, err = peer.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	var n int
	require.Eventually(t, func() bool {
		var rerr error
		n, rerr = accepted.Read(buf)
		return rerr == nil && n > 0
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestReadOp(t *testing.T) {
	p := testProactor(t, WithReadBufferSize(8))

	t.Run("delivers data and buffer ownership", func(t *testing.T) {
		sock, peer := loopbackPair(t)
		ch := make(chan completionRecord, 1)
		require.NoError(t, p.Initiate(NewReadOp(sock, captureCompletion(ch))))

		_, err := peer.Write([]byte("abc"))
		require.NoError(t, err)

		rec := waitCompletion(t, ch)
		require.NoError(t, rec.err)
		require.Equal(t, 3, rec.n)
		require.Equal(t, "abc", rec.buf.String())
	})

	t.Run("caps one read at the configured buffer size", func(t *testing.T) {
		sock, peer := loopbackPair(t)
		ch := make(chan completionRecord, 1)
		require.NoError(t, p.Initiate(NewReadOp(sock, captureCompletion(ch))))

		_, err := peer.Write([]byte("0123456789abcdef"))
		require.NoError(t, err)

		rec := waitCompletion(t, ch)
		require.NoError(t, rec.err)
		require.Equal(t, 8, rec.n)
		require.Equal(t, "01234567", rec.buf.String())
	})

	t.Run("orderly peer close is not a failure", func(t *testing.T) {
		sock, peer := loopbackPair(t)
		ch := make(chan completionRecord, 1)
		require.NoError(t, p.Initiate(NewReadOp(sock, captureCompletion(ch))))

		require.NoError(t, peer.Close())

		rec := waitCompletion(t, ch)
		require.NoError(t, rec.err)
		require.Zero(t, rec.n)
		require.Zero(t, rec.buf.Len())
	})

	t.Run("local close fails the pending read promptly", func(t *testing.T) {
		sock, _ := loopbackPair(t)
		ch := make(chan completionRecord, 1)
		require.NoError(t, p.Initiate(NewReadOp(sock, captureCompletion(ch))))

		require.NoError(t, sock.Close())

		rec := waitCompletion(t, ch)
		require.ErrorIs(t, rec.err, ErrSocketClosed)
		require.Equal(t, -1, rec.n)
	})
}

func TestWriteOp(t *testing.T) {
	p := testProactor(t)

	t.Run("reports what the kernel took and returns the buffer", func(t *testing.T) {
		sock, peer := loopbackPair(t)
		ch := make(chan completionRecord, 1)
		require.NoError(t, p.Initiate(NewWriteOp(sock, NewBuffer([]byte("payload")), captureCompletion(ch))))

		rec := waitCompletion(t, ch)
		require.NoError(t, rec.err)
		require.Equal(t, 7, rec.n)
		require.Equal(t, "payload", rec.buf.String())

		got := make([]byte, 16)
		require.NoError(t, peer.SetReadDeadline(time.Now().Add(time.Second)))
		m, err := peer.Read(got)
		require.NoError(t, err)
		require.Equal(t, "payload", string(got[:m]))
	})

	t.Run("a short write completes once with the kernel's count", func(t *testing.T) {
		sock, peer := loopbackPair(t)
		// Shrink the send buffer so one write cannot take the whole payload.
		require.NoError(t, unix.SetsockoptInt(sock.Fd(), unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))

		payload := bytes.Repeat([]byte("deadbeef"), 1<<20)
		ch := make(chan completionRecord, 2)
		require.NoError(t, p.Initiate(NewWriteOp(sock, NewBuffer(payload), captureCompletion(ch))))

		rec := waitCompletion(t, ch)
		require.NoError(t, rec.err)
		require.Greater(t, rec.n, 0)
		require.Less(t, rec.n, len(payload))
		// The untouched buffer comes back; re-issuing the rest is the
		// caller's call.
		require.Equal(t, len(payload), rec.buf.Len())
		require.Same(t, &payload[0], &rec.buf.Bytes()[0])

		// Exactly the reported count reaches the peer, nothing more.
		total := 0
		got := make([]byte, 64*1024)
		for {
			require.NoError(t, peer.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
			m, err := peer.Read(got)
			total += m
			if err != nil {
				break
			}
		}
		require.Equal(t, rec.n, total)
		require.Empty(t, ch)
	})

	t.Run("refuses a closed socket upfront", func(t *testing.T) {
		sock, _ := loopbackPair(t)
		require.NoError(t, sock.Close())

		ch := make(chan completionRecord, 1)
		err := p.Initiate(NewWriteOp(sock, NewBuffer([]byte("x")), captureCompletion(ch)))
		require.ErrorIs(t, err, ErrSocketClosed)
		require.Empty(t, ch)
	})
}

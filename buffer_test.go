package compio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuffer(t *testing.T) {
	t.Run("wraps without copying", func(t *testing.T) {
		data := []byte("hello")
		buf := NewBuffer(data)
		require.Equal(t, 5, buf.Len())
		require.Equal(t, "hello", buf.String())
		require.Same(t, &data[0], &buf.Bytes()[0])
	})

	t.Run("zero value is empty", func(t *testing.T) {
		var buf Buffer
		require.Zero(t, buf.Len())
		require.Empty(t, buf.Bytes())
		require.Empty(t, buf.String())
	})

	t.Run("skip hands over the tail", func(t *testing.T) {
		buf := NewBuffer([]byte("abcdef"))
		tail := buf.Skip(2)
		require.Equal(t, "cdef", tail.String())
	})

	t.Run("skip clamps out-of-range counts", func(t *testing.T) {
		buf := NewBuffer([]byte("abc"))
		require.Zero(t, buf.Skip(3).Len())
		require.Zero(t, buf.Skip(10).Len())
		require.Equal(t, "abc", buf.Skip(-1).String())
	})
}

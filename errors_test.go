package compio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloseError(t *testing.T) {
	t.Run("names its reason", func(t *testing.T) {
		cause := closeBecause(CloseReasonLocal, nil)
		require.Equal(t, CloseReasonLocal, cause.Reason)
		require.Equal(t, "conn closed by explicit user close", cause.Error())
	})

	t.Run("unwraps to the underlying failure", func(t *testing.T) {
		cause := closeBecause(CloseReasonError, ErrSocketClosed)
		require.ErrorIs(t, cause, ErrSocketClosed)
		require.Contains(t, cause.Error(), "io error")
	})

	t.Run("shutdown and peer reasons read well in logs", func(t *testing.T) {
		require.Equal(t, "conn closed by peer", closeBecause(CloseReasonPeer, nil).Error())
		require.Equal(t, "conn closed by proactor shutdown",
			closeBecause(CloseReasonShutdown, nil).Error())
	})
}

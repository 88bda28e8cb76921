package exception

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	liberrors "github.com/yanun0323/errors"
)

func TestSentinelsSurviveWrapping(t *testing.T) {
	sentinels := []error{
		ErrInvalidConfig,
		ErrJoinTimeout,
		ErrUnknownSymbol,
		ErrOrderUnknown,
		ErrSegmentNotFound,
		ErrWebSocketNoDialer,
	}
	for _, sentinel := range sentinels {
		wrapped := liberrors.Wrap(sentinel, "context").With("key", "value")
		assert.True(t, errors.Is(wrapped, sentinel), sentinel.Error())
		assert.ErrorIs(t, liberrors.Wrapf(sentinel, "n=%d", 1), sentinel)
	}
}

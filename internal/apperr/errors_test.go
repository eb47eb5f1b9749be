package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	err := Configuration("explain", "openai api key is empty")
	require.ErrorIs(t, err, ErrConfiguration)
	require.NotErrorIs(t, err, ErrTerminal)
	require.Equal(t, "explain: openai api key is empty", err.Error())

	wrapped := fmt.Errorf("dispatch: %w", err)
	require.ErrorIs(t, wrapped, ErrConfiguration)
}

func TestTerminalKeepsStatus(t *testing.T) {
	t.Parallel()

	err := Terminal("fetch", &StatusError{StatusCode: 500, Body: "boom"})
	require.ErrorIs(t, err, ErrTerminal)
	require.Equal(t, 500, StatusCode(err))
	require.Contains(t, err.Error(), "upstream status 500: boom")
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, FromContext(ctx, "op", nil))

	plain := errors.New("dial tcp: refused")
	require.Equal(t, plain, FromContext(ctx, "op", plain))

	cancel()
	err := FromContext(ctx, "op", plain)
	require.True(t, IsCancelled(err))
	require.ErrorIs(t, err, ErrCancelled)
}

func TestInterrupted(t *testing.T) {
	t.Parallel()

	cause := Terminal("fetch", &StatusError{StatusCode: 503})

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	err := Interrupted(expired, "fetch", cause)
	require.ErrorIs(t, err, ErrTerminal)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, IsCancelled(err))
	require.Equal(t, 503, StatusCode(err))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = Interrupted(cancelled, "fetch", cause)
	require.True(t, IsCancelled(err))
	require.NotErrorIs(t, err, ErrTerminal)
}

package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/video-stream/subexplain/internal/apperr"
)

type scriptedDoer struct {
	mu       sync.Mutex
	statuses []int
	errs     []error
	calls    int
	bodies   []string
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		d.bodies = append(d.bodies, string(b))
	}
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	status := d.statuses[len(d.statuses)-1]
	if i < len(d.statuses) {
		status = d.statuses[i]
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("attempt")),
		Header:     make(http.Header),
	}, nil
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newTestFetcher(d Doer, sleeps *recordedSleeps) *RetryingFetcher {
	return New(d,
		WithSleep(sleeps.sleep),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
	)
}

func TestRetriesRateLimitThenSucceeds(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{statuses: []int{429, 429, 200}}
	sleeps := &recordedSleeps{}
	f := newTestFetcher(doer, sleeps)

	req, err := http.NewRequest(http.MethodGet, "https://example.test/words", nil)
	require.NoError(t, err)

	resp, err := f.Do(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()

	require.Equal(t, 3, doer.calls)
	require.Equal(t, []time.Duration{300 * time.Millisecond, 600 * time.Millisecond}, sleeps.delays)
}

func TestServerErrorExhaustsAttempts(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{statuses: []int{500}}
	sleeps := &recordedSleeps{}
	f := newTestFetcher(doer, sleeps)

	req, err := http.NewRequest(http.MethodGet, "https://example.test/words", nil)
	require.NoError(t, err)

	resp, err := f.Do(req)
	require.Nil(t, resp)
	require.Error(t, err)
	require.ErrorIs(t, err, apperr.ErrTerminal)
	require.Equal(t, 500, apperr.StatusCode(err))

	require.Equal(t, 3, doer.calls)
	require.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}, sleeps.delays)
}

func TestClientErrorsAreRetriedLikeTransportErrors(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{statuses: []int{404}}
	f := newTestFetcher(doer, &recordedSleeps{})

	req, err := http.NewRequest(http.MethodGet, "https://example.test/words", nil)
	require.NoError(t, err)

	_, err = f.Do(req)
	require.Error(t, err)
	require.Equal(t, 3, doer.calls)
	require.Equal(t, 404, apperr.StatusCode(err))
}

func TestTransportErrorThenSuccess(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{
		statuses: []int{0, 200},
		errs:     []error{errors.New("connection reset by peer")},
	}
	sleeps := &recordedSleeps{}
	f := newTestFetcher(doer, sleeps)

	req, err := http.NewRequest(http.MethodPost, "https://example.test/explain", bytes.NewReader([]byte(`{"text":"hi"}`)))
	require.NoError(t, err)

	resp, err := f.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, 2, doer.calls)
	require.Equal(t, []string{`{"text":"hi"}`}, doer.bodies[1:])
	require.Equal(t, []time.Duration{250 * time.Millisecond}, sleeps.delays)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	doer := &scriptedDoer{statuses: []int{503}}
	f := New(doer, WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://example.test/words", nil)
	require.NoError(t, err)

	_, err = f.Do(req)
	require.True(t, apperr.IsCancelled(err))
	require.Equal(t, 1, doer.calls)
}

func TestExpiredDeadlineIsTerminalNotCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	doer := &scriptedDoer{statuses: []int{503}}
	f := New(doer)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://example.test/words", nil)
	require.NoError(t, err)

	_, err = f.Do(req)
	require.ErrorIs(t, err, apperr.ErrTerminal)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, apperr.IsCancelled(err))
	require.Equal(t, 503, apperr.StatusCode(err))
	require.Equal(t, 1, doer.calls)
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	t.Parallel()

	f := New(&scriptedDoer{statuses: []int{200}})
	for i := 0; i < 50; i++ {
		d := f.backoff(1, true)
		require.GreaterOrEqual(t, d, 600*time.Millisecond)
		require.Less(t, d, 720*time.Millisecond)

		d = f.backoff(0, false)
		require.GreaterOrEqual(t, d, 250*time.Millisecond)
		require.Less(t, d, 350*time.Millisecond)
	}
}

package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type result struct {
	token string
	err   string
}

func TestRunKeepsOrderAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8}
	var inFlight, peak atomic.Int32

	out := Run(context.Background(), items, 4,
		func(_ context.Context, n int) (result, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(time.Duration(9-n) * time.Millisecond)
			if n%3 == 0 {
				return result{}, fmt.Errorf("item %d failed", n)
			}
			return result{token: fmt.Sprint(n)}, nil
		},
		func(n int, err error) result {
			return result{token: fmt.Sprint(n), err: err.Error()}
		},
	)

	require.Len(t, out, len(items))
	require.LessOrEqual(t, peak.Load(), int32(4))
	for i, r := range out {
		require.Equal(t, fmt.Sprint(i), r.token)
		if i%3 == 0 {
			require.Equal(t, fmt.Sprintf("item %d failed", i), r.err)
		} else {
			require.Empty(t, r.err)
		}
	}
}

func TestRunStartsNextWaveOnlyAfterCurrentSettles(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var events []string
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}

	items := []int{0, 1, 2, 3, 4}
	Run(context.Background(), items, 2,
		func(_ context.Context, n int) (int, error) {
			record(fmt.Sprintf("start %d", n))
			if n == 0 {
				time.Sleep(30 * time.Millisecond)
			}
			record(fmt.Sprintf("end %d", n))
			return n, nil
		},
		func(n int, _ error) int { return -1 },
	)

	index := func(s string) int {
		for i, e := range events {
			if e == s {
				return i
			}
		}
		return -1
	}
	require.Less(t, index("end 0"), index("start 2"))
	require.Less(t, index("end 1"), index("start 2"))
	require.Less(t, index("end 3"), index("start 4"))
}

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()

	out := Run(context.Background(), []string{"ok", "bad"}, 0,
		func(_ context.Context, s string) (string, error) {
			if s == "bad" {
				panic(errors.New("boom"))
			}
			return s, nil
		},
		func(s string, err error) string { return s + ":" + err.Error() },
	)
	require.Equal(t, []string{"ok", "bad:panic: boom"}, out)
}

func TestRunEmpty(t *testing.T) {
	t.Parallel()

	out := Run(context.Background(), []int(nil), 4,
		func(_ context.Context, n int) (int, error) { return n, nil },
		func(int, error) int { return 0 },
	)
	require.Empty(t, out)
}

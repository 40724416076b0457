package util

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutureCompleteOnce(t *testing.T) {
	f := NewFuture[int]()
	require.False(t, f.IsDone())

	var calls atomic.Int32
	f.OnComplete(func(v int, err error) {
		require.Equal(t, 1, v)
		calls.Add(1)
	})

	require.True(t, f.Complete(1, nil))
	require.False(t, f.Complete(2, errors.New("late")))
	require.True(t, f.IsDone())

	v, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, 1, v)

	// callbacks registered after completion run immediately
	f.OnComplete(func(int, error) { calls.Add(1) })
	require.Equal(t, int32(2), calls.Load())
}

func TestFutureWaitContext(t *testing.T) {
	f := NewFuture[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	f.Complete("ok", nil)
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestThen(t *testing.T) {
	f := NewFuture[int]()
	g := Then(f, func(v int, err error) (string, error) {
		if err != nil {
			return "", err
		}
		if v > 1 {
			return "big", nil
		}
		return "small", nil
	})
	f.Complete(5, nil)
	v, err := g.Get()
	require.NoError(t, err)
	require.Equal(t, "big", v)

	boom := errors.New("boom")
	h := Then(CompletedFuture(0, boom), func(v int, err error) (int, error) { return v, err })
	_, err = h.Get()
	require.ErrorIs(t, err, boom)
}

func TestAllOfWaitsForEveryFuture(t *testing.T) {
	futures := []*Future[int]{NewFuture[int](), NewFuture[int](), NewFuture[int]()}
	all := AllOf(futures...)

	boom := errors.New("boom")
	futures[0].Complete(0, nil)
	futures[1].Complete(0, boom)

	select {
	case <-all.Done():
		t.Fatal("AllOf completed before all futures completed")
	case <-time.After(20 * time.Millisecond):
	}

	futures[2].Complete(0, nil)
	_, err := all.Wait(context.Background())
	require.ErrorIs(t, err, boom)

	_, err = AllOf[int]().Get()
	require.NoError(t, err)
}

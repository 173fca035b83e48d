package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(cfg Config) *Dispatcher {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatcherRunsTasks(t *testing.T) {
	d := newTestDispatcher(DefaultConfig())
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, d.Go("push", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	d.Wait()
	assert.Equal(t, int32(10), ran.Load())
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcherReportsFailuresAndPanics(t *testing.T) {
	d := newTestDispatcher(DefaultConfig())
	d.Go("notify", func(context.Context) error { return errors.New("sink down") })
	d.Go("enrich", func(context.Context) error { panic("boom") })
	d.Wait()

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case f := <-d.Failures():
			got[f.Task] = f.Err.Error()
		case <-time.After(time.Second):
			t.Fatal("missing failure")
		}
	}
	assert.Equal(t, "sink down", got["notify"])
	assert.Equal(t, "panic: boom", got["enrich"])
}

func TestDispatcherSaturation(t *testing.T) {
	d := newTestDispatcher(Config{MaxConcurrent: 1, TaskTimeout: time.Second, FailureBuffer: 4})
	release := make(chan struct{})

	require.True(t, d.Go("slow", func(context.Context) error {
		<-release
		return nil
	}))
	assert.False(t, d.Go("dropped", func(context.Context) error { return nil }))

	select {
	case f := <-d.Failures():
		assert.Equal(t, "dropped", f.Task)
		assert.ErrorIs(t, f.Err, ErrSaturated)
	case <-time.After(time.Second):
		t.Fatal("saturation not reported")
	}

	close(release)
	d.Wait()
	assert.True(t, d.Go("after", func(context.Context) error { return nil }))
	d.Wait()
}

func TestDispatcherTaskTimeout(t *testing.T) {
	d := newTestDispatcher(Config{MaxConcurrent: 2, TaskTimeout: 10 * time.Millisecond, FailureBuffer: 4})
	d.Go("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d.Wait()

	f := <-d.Failures()
	assert.ErrorIs(t, f.Err, context.DeadlineExceeded)
}

func TestDispatcherCountsLostFailures(t *testing.T) {
	d := newTestDispatcher(Config{MaxConcurrent: 4, TaskTimeout: time.Second, FailureBuffer: 1})
	for i := 0; i < 3; i++ {
		d.Go("fail", func(context.Context) error { return errors.New("x") })
	}
	d.Wait()
	assert.Equal(t, int64(2), d.Lost())
}

func TestDispatcherClose(t *testing.T) {
	d := newTestDispatcher(DefaultConfig())
	started := make(chan struct{})
	d.Go("blocked", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.False(t, d.Go("late", func(context.Context) error { return nil }))
	_, open := <-d.Failures()
	assert.False(t, open)
	require.NoError(t, d.Close(context.Background()))
}

package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	m := New(time.Second, nil)

	var order []string
	m.Register("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	m.Register("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("boom")
	})
	m.Register("third", func(context.Context) error {
		order = append(order, "third")
		return nil
	})

	failed := m.Shutdown()

	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"third", "second", "first"}, order)

	select {
	case <-m.Done():
	default:
		t.Fatal("Done channel should be closed after Shutdown")
	}

	// Second call is a no-op
	assert.Equal(t, 0, m.Shutdown())
	assert.Len(t, order, 3)
}

func TestShutdownPassesDeadline(t *testing.T) {
	m := New(50*time.Millisecond, nil)

	var hadDeadline bool
	m.Register("deadline", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	m.Shutdown()

	assert.True(t, hadDeadline)
}

func TestWaitWithContextCancelled(t *testing.T) {
	m := New(time.Second, nil)

	ran := false
	m.Register("step", func(context.Context) error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WaitWithContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, ran)
}

type fakeServer struct{ err error }

func (f fakeServer) Shutdown(context.Context) error { return f.err }

func TestStopHTTPServer(t *testing.T) {
	assert.NoError(t, StopHTTPServer(fakeServer{}, "metrics")(context.Background()))

	err := StopHTTPServer(fakeServer{err: errors.New("busy")}, "metrics")(context.Background())
	assert.ErrorContains(t, err, "failed to stop metrics server")
}

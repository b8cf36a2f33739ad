package cron

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationBus(t *testing.T) {
	t.Run("broadcasts to all subscribers", func(t *testing.T) {
		bus := NewNotificationBus()
		a := bus.Subscribe()
		defer a.Close()
		b := bus.Subscribe()
		defer b.Close()

		bus.Publish(Notification{JobID: "j1", Status: StatusOK})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		got, missed, err := a.Recv(ctx)
		require.NoError(t, err)
		assert.Zero(t, missed)
		assert.Equal(t, "j1", got.JobID)

		got, missed, err = b.Recv(ctx)
		require.NoError(t, err)
		assert.Zero(t, missed)
		assert.Equal(t, "j1", got.JobID)
	})

	t.Run("subscriber only sees later notifications", func(t *testing.T) {
		bus := NewNotificationBus()
		bus.Publish(Notification{JobID: "early"})

		sub := bus.Subscribe()
		defer sub.Close()
		bus.Publish(Notification{JobID: "late"})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		got, _, err := sub.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, "late", got.JobID)
	})

	t.Run("slow subscriber is lagged, not blocking", func(t *testing.T) {
		bus := NewNotificationBus()
		sub := bus.Subscribe()
		defer sub.Close()

		// Overflow the buffer; publishing must never block.
		total := defaultBusBuffer + 5
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < total; i++ {
				bus.Publish(Notification{JobID: fmt.Sprintf("j%d", i)})
			}
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publish blocked on a slow subscriber")
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		got, missed, err := sub.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, missed, "dropped count reported on next receive")
		// Oldest were dropped; delivery resumes from the next surviving message.
		assert.Equal(t, "j5", got.JobID)

		_, missed, err = sub.Recv(ctx)
		require.NoError(t, err)
		assert.Zero(t, missed, "lag is reported once")
	})

	t.Run("recv honors context cancellation", func(t *testing.T) {
		bus := NewNotificationBus()
		sub := bus.Subscribe()
		defer sub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, _, err := sub.Recv(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("close removes the subscription", func(t *testing.T) {
		bus := NewNotificationBus()
		sub := bus.Subscribe()
		require.Equal(t, 1, bus.Subscribers())

		sub.Close()
		sub.Close() // idempotent
		assert.Zero(t, bus.Subscribers())

		// Publishing after close must not panic.
		bus.Publish(Notification{JobID: "after"})
	})
}

package webhook_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subkit/subkit/svc/webhook"
)

func TestMemoryDedup(t *testing.T) {
	t.Parallel()

	t.Run("unmarked event is not seen", func(t *testing.T) {
		t.Parallel()

		d := webhook.NewMemoryDedup(time.Minute)

		seen, err := d.Seen(context.Background(), "evt_1")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("seen does not mark", func(t *testing.T) {
		t.Parallel()

		d := webhook.NewMemoryDedup(time.Minute)

		_, err := d.Seen(context.Background(), "evt_1")
		require.NoError(t, err)

		seen, err := d.Seen(context.Background(), "evt_1")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("marked event is seen", func(t *testing.T) {
		t.Parallel()

		d := webhook.NewMemoryDedup(time.Minute)

		require.NoError(t, d.Mark(context.Background(), "evt_1"))

		seen, err := d.Seen(context.Background(), "evt_1")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("distinct events do not collide", func(t *testing.T) {
		t.Parallel()

		d := webhook.NewMemoryDedup(time.Minute)

		require.NoError(t, d.Mark(context.Background(), "evt_1"))

		seen, err := d.Seen(context.Background(), "evt_2")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("marks expire after the ttl", func(t *testing.T) {
		t.Parallel()

		d := webhook.NewMemoryDedup(10 * time.Millisecond)

		require.NoError(t, d.Mark(context.Background(), "evt_1"))

		time.Sleep(20 * time.Millisecond)

		seen, err := d.Seen(context.Background(), "evt_1")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}

package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subkit/subkit/svc/subscription"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	newSub := func(userID uuid.UUID) *subscription.Subscription {
		now := time.Now().UTC()
		return &subscription.Subscription{
			UserID:               userID,
			Plan:                 subscription.PlanBasic,
			Status:               subscription.StatusActive,
			StripeSubscriptionID: "sub_" + userID.String()[:8],
			CurrentPeriodStart:   now,
			CurrentPeriodEnd:     now.Add(30 * 24 * time.Hour),
			Currency:             "usd",
			CreatedAt:            now,
			UpdatedAt:            now,
		}
	}

	t.Run("create and get", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		userID := uuid.New()
		sub := newSub(userID)

		require.NoError(t, store.Create(context.Background(), sub))

		got, err := store.Get(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, sub.StripeSubscriptionID, got.StripeSubscriptionID)
	})

	t.Run("duplicate create", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		sub := newSub(uuid.New())

		require.NoError(t, store.Create(context.Background(), sub))
		require.ErrorIs(t, store.Create(context.Background(), sub), subscription.ErrAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()

		_, err := store.Get(context.Background(), uuid.New())
		require.ErrorIs(t, err, subscription.ErrNotFound)
	})

	t.Run("get by remote id", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		sub := newSub(uuid.New())
		require.NoError(t, store.Create(context.Background(), sub))

		got, err := store.GetByRemoteID(context.Background(), sub.StripeSubscriptionID)
		require.NoError(t, err)
		assert.Equal(t, sub.UserID, got.UserID)

		_, err = store.GetByRemoteID(context.Background(), "sub_missing")
		require.ErrorIs(t, err, subscription.ErrNotFound)

		// Empty ref never matches FREE-only records with no remote.
		_, err = store.GetByRemoteID(context.Background(), "")
		require.ErrorIs(t, err, subscription.ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		sub := newSub(uuid.New())
		require.NoError(t, store.Create(context.Background(), sub))

		sub.Status = subscription.StatusPastDue
		require.NoError(t, store.Update(context.Background(), sub))

		got, err := store.Get(context.Background(), sub.UserID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, got.Status)
	})

	t.Run("update missing", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		err := store.Update(context.Background(), newSub(uuid.New()))
		require.ErrorIs(t, err, subscription.ErrNotFound)
	})

	t.Run("returned record is a copy", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		sub := newSub(uuid.New())
		require.NoError(t, store.Create(context.Background(), sub))

		got, err := store.Get(context.Background(), sub.UserID)
		require.NoError(t, err)
		got.Status = subscription.StatusCancelled

		again, err := store.Get(context.Background(), sub.UserID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, again.Status)
	})
}

// Package repotest holds the behavioural suite every feedback backend must pass.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Message builds a pending feedback message for tests
func Message(id string, at time.Time, priority model.Priority, tags ...string) *model.FeedbackMessage {
	return &model.FeedbackMessage{
		ID:               id,
		Author:           "mod-" + id,
		Role:             model.RoleModerator,
		Timestamp:        at.UTC(),
		Message:          "note " + id,
		LinkedStateIndex: 3,
		Priority:         priority,
		Status:           model.FeedbackPending,
		Tags:             tags,
	}
}

// RunFeedbackRepository exercises a FeedbackRepository implementation.
// newRepo must return an empty repository.
func RunFeedbackRepository(t *testing.T, newRepo func(t *testing.T) repository.FeedbackRepository) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("CreateAndGet", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		msg := Message("f1", base, model.PriorityCritical, "historical", "recurring-issue")
		require.NoError(t, repo.Create(ctx, msg))

		got, err := repo.GetByID(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, msg, got)

		require.ErrorIs(t, repo.Create(ctx, msg), repository.ErrAlreadyExists)
		_, err = repo.GetByID(ctx, "missing")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("ListFiltersAndOrders", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, Message("c", base.Add(2*time.Minute), model.PriorityLow)))
		require.NoError(t, repo.Create(ctx, Message("a", base, model.PriorityHigh, "historical")))
		require.NoError(t, repo.Create(ctx, Message("b", base.Add(time.Minute), model.PriorityHigh)))

		all, err := repo.List(ctx, model.FeedbackFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a", "b", "c"}, ids(all))

		high, err := repo.List(ctx, model.FeedbackFilter{Priority: model.PriorityHigh})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(high))

		tagged, err := repo.List(ctx, model.FeedbackFilter{Tag: "historical"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(tagged))

		limited, err := repo.List(ctx, model.FeedbackFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(limited))
	})

	t.Run("UpdateStatusCompareAndSet", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, Message("f1", base, model.PriorityMedium)))

		got, err := repo.UpdateStatus(ctx, "f1", model.FeedbackPending, model.FeedbackAcknowledged)
		require.NoError(t, err)
		assert.Equal(t, model.FeedbackAcknowledged, got.Status)

		_, err = repo.UpdateStatus(ctx, "f1", model.FeedbackPending, model.FeedbackResolved)
		require.ErrorIs(t, err, repository.ErrStatusConflict)

		stored, err := repo.GetByID(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, model.FeedbackAcknowledged, stored.Status)

		_, err = repo.UpdateStatus(ctx, "missing", model.FeedbackPending, model.FeedbackResolved)
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("ConcurrentUpdateStatusSingleWinner", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, Message("f1", base, model.PriorityMedium)))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.UpdateStatus(ctx, "f1", model.FeedbackPending, model.FeedbackAcknowledged); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, newRepo(t).Ping(context.Background()))
	})
}

func ids(msgs []*model.FeedbackMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fmt.Sprint(m.ID))
	}
	return out
}

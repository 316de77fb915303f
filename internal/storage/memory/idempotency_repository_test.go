package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func TestIdempotencyRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, "idem-key-1", "hash-1", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	got, err := repo.Get(ctx, "idem-key-1")
	require.NoError(t, err)
	require.Equal(t, "hash-1", got.RequestHash)
	require.True(t, got.TTLAt.Equal(ttl))
}

func TestIdempotencyRepository_ConflictAndHashMismatch(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "idem-key-2", "hash-a", ttl)
	require.NoError(t, err)

	_, err = repo.CreateProcessing(ctx, "idem-key-2", "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing(ctx, "idem-key-2", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.True(t, domain.IsConflict(err))
}

func TestIdempotencyRepository_ExpiredKeyCanBeReused(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing(ctx, "idem-key-3", "hash-a", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)

	record, err := repo.CreateProcessing(ctx, "idem-key-3", "hash-b", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "hash-b", record.RequestHash)
}

func TestIdempotencyRepository_MarkDoneAndDeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing(ctx, "idem-expired", "hash-expired", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "idem-active", "hash-active", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, repo.MarkDone(ctx, "idem-active", []byte(`{"ok":true}`), 200))

	active, err := repo.Get(ctx, "idem-active")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, active.Status)
	require.Equal(t, 200, active.HTTPStatus)
	require.JSONEq(t, `{"ok":true}`, string(active.ResponseBody))

	removed, err := repo.DeleteExpired(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "idem-expired")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ExpiryFollowsClock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	repo := memory.NewIdempotencyRepository().WithClock(func() time.Time { return now })

	created, err := repo.CreateProcessing(ctx, "idem-clock", "hash-a", now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, created.CreatedAt.Equal(now))

	// ключ живёт по часам репозитория, а не по реальному времени
	_, err = repo.CreateProcessing(ctx, "idem-clock", "hash-a", now.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	now = now.Add(2 * time.Hour)
	record, err := repo.CreateProcessing(ctx, "idem-clock", "hash-b", now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "hash-b", record.RequestHash)
}

package history

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/obmen/internal/domain"
)

func record(user, key string, outcome domain.Outcome, reason domain.FailReason, ts time.Time) domain.SwapRecord {
	return domain.SwapRecord{
		ID:             key + "-id",
		UserID:         user,
		FromAsset:      "USD",
		FromAmount:     decimal.NewFromInt(100),
		ToAsset:        "BTC",
		ToAmount:       decimal.RequireFromString("0.002"),
		Outcome:        outcome,
		Reason:         reason,
		IdempotencyKey: key,
		CreatedAt:      ts,
	}
}

func TestWALStore_AppendAndList(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	_, err = store.Append(record("42", "k1", domain.OutcomeSucceeded, "", now))
	require.NoError(t, err)
	_, err = store.Append(record("42", "k2", domain.OutcomeRejected, domain.ReasonInsufficientFunds, now.Add(time.Second)))
	require.NoError(t, err)
	_, err = store.Append(record("7", "k3", domain.OutcomeSucceeded, "", now))
	require.NoError(t, err)

	records := store.ListFor("42", 0)
	require.Len(t, records, 2)
	// reverse chronological: newest first
	assert.Equal(t, "k2", records[0].IdempotencyKey)
	assert.Equal(t, "k1", records[1].IdempotencyKey)

	assert.Len(t, store.ListFor("42", 1), 1)
	assert.Len(t, store.ListFor("unknown", 0), 0)
}

func TestWALStore_IdempotentAppend(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	first, err := store.Append(record("42", "k1", domain.OutcomeSucceeded, "", now))
	require.NoError(t, err)

	dup := record("42", "k1", domain.OutcomeSucceeded, "", now.Add(time.Minute))
	dup.ID = "other-id"
	got, err := store.Append(dup)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "duplicate append must return the original record")
	assert.Len(t, store.ListFor("42", 0), 1)
}

func TestWALStore_RetryableFailureSuperseded(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	_, err = store.Append(record("42", "k1", domain.OutcomeRejected, domain.ReasonRateUnavailable, now))
	require.NoError(t, err)

	success := record("42", "k1", domain.OutcomeSucceeded, "", now.Add(time.Second))
	got, err := store.Append(success)
	require.NoError(t, err)
	assert.True(t, got.Succeeded())

	// the key now resolves to the successful attempt, both stay in history
	current, ok := store.FindByKey("42", "k1")
	require.True(t, ok)
	assert.True(t, current.Succeeded())
	assert.Len(t, store.ListFor("42", 0), 2)
}

func TestWALStore_ReplayRebuildsIndexes(t *testing.T) {
	dir := t.TempDir()

	store, err := NewWALStore(dir)
	require.NoError(t, err)

	now := time.Now()
	_, err = store.Append(record("42", "k1", domain.OutcomeSucceeded, "", now))
	require.NoError(t, err)
	_, err = store.Append(record("42", "k2", domain.OutcomeRejected, domain.ReasonRateUnavailable, now.Add(time.Second)))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	records := reopened.ListFor("42", 0)
	require.Len(t, records, 2)
	assert.Equal(t, "k2", records[0].IdempotencyKey)

	found, ok := reopened.FindByKey("42", "k1")
	require.True(t, ok)
	assert.True(t, found.Succeeded())
}

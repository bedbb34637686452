package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soapbox/internal/models"
	"soapbox/internal/storeerr"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(3, logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func record(sourceID, accountID string, embedding []float32, body string) models.VectorRecord {
	return models.VectorRecord{
		SourceID:  sourceID,
		AccountID: accountID,
		PostedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Embedding: embedding,
		Checksum:  ChecksumOf(body),
	}
}

func TestUpsertAndQueryRoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, record("post-1", "acc-1", []float32{1, 0, 0}, "hello")))
	require.NoError(t, idx.Upsert(ctx, record("post-2", "acc-1", []float32{0, 1, 0}, "world")))

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "post-1", matches[0].SourceID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestUpsertUnchangedChecksumIsNoOp(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	first := record("post-1", "acc-1", []float32{1, 0, 0}, "same text")
	require.NoError(t, idx.Upsert(ctx, first))

	// Same checksum with a different embedding must be ignored.
	second := record("post-1", "acc-1", []float32{0, 1, 0}, "same text")
	require.NoError(t, idx.Upsert(ctx, second))

	assert.Equal(t, 1, idx.Len())
	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestUpsertChangedChecksumReplaces(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, record("post-1", "acc-1", []float32{1, 0, 0}, "v1")))
	require.NoError(t, idx.Upsert(ctx, record("post-1", "acc-1", []float32{0, 1, 0}, "v2")))

	assert.Equal(t, 1, idx.Len())

	matches, err := idx.Query(ctx, []float32{0, 1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "post-1", matches[0].SourceID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)

	checksum, ok := idx.Checksum("post-1")
	require.True(t, ok)
	assert.Equal(t, ChecksumOf("v2"), checksum)
}

func TestUpsertDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.Upsert(context.Background(), record("post-1", "acc-1", []float32{1, 0}, "short"))
	assert.ErrorIs(t, err, storeerr.ErrDimensionMismatch)

	_, err = idx.Query(context.Background(), []float32{1, 0}, 1, nil)
	assert.ErrorIs(t, err, storeerr.ErrDimensionMismatch)
}

func TestQueryTiesBreakByAscendingSourceID(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	// Identical vectors, inserted in reverse lexicographic order.
	require.NoError(t, idx.Upsert(ctx, record("post-b", "acc-1", []float32{1, 0, 0}, "b")))
	require.NoError(t, idx.Upsert(ctx, record("post-a", "acc-1", []float32{1, 0, 0}, "a")))

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "post-a", matches[0].SourceID)
	assert.Equal(t, "post-b", matches[1].SourceID)
}

func TestQueryFilterByAccount(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, record("post-1", "acc-1", []float32{1, 0, 0}, "one")))
	require.NoError(t, idx.Upsert(ctx, record("post-2", "acc-2", []float32{1, 0, 0}, "two")))

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 5, &Filter{AccountID: "acc-2"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "post-2", matches[0].SourceID)
}

func TestDeleteByAccount(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, record("post-1", "acc-1", []float32{1, 0, 0}, "one")))
	require.NoError(t, idx.Upsert(ctx, record("post-2", "acc-1", []float32{0, 1, 0}, "two")))
	require.NoError(t, idx.Upsert(ctx, record("post-3", "acc-2", []float32{0, 0, 1}, "three")))

	deleted, err := idx.DeleteByAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 1, idx.Len())

	_, ok := idx.Checksum("post-1")
	assert.False(t, ok)
	_, ok = idx.Checksum("post-3")
	assert.True(t, ok)
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	idx := newTestIndex(t)
	assert.NoError(t, idx.Delete(context.Background(), "never-inserted"))
}

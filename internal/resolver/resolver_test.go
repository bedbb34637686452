package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soapbox/internal/cache"
	"soapbox/internal/config"
	"soapbox/internal/models"
	"soapbox/internal/storeerr"
	"soapbox/internal/tasks"
	"soapbox/internal/vectorindex"
)

type fakeDirectory struct {
	accounts map[uuid.UUID]*models.SocialMediaAccount
	err      error
}

func (f *fakeDirectory) GetAccount(_ context.Context, id uuid.UUID) (*models.SocialMediaAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	account, ok := f.accounts[id]
	if !ok {
		return nil, storeerr.ErrNotFound
	}
	return account, nil
}

func (f *fakeDirectory) ListAccountsByEntity(_ context.Context, entityID uuid.UUID) ([]models.SocialMediaAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.SocialMediaAccount
	for _, account := range f.accounts {
		if account.EntityID == entityID {
			out = append(out, *account)
		}
	}
	return out, nil
}

type fakeContent struct {
	records  map[string]*models.ContentRecord
	failMark bool
}

func (f *fakeContent) ListUnresolved(_ context.Context, limit int) ([]models.ContentRecord, error) {
	var out []models.ContentRecord
	for _, r := range f.records {
		if r.Resolution == models.ResolutionUnresolved && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeContent) ListByAccount(_ context.Context, accountID string) ([]models.ContentRecord, error) {
	var out []models.ContentRecord
	for _, r := range f.records {
		if r.AccountID == accountID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeContent) ListChecksumCandidates(_ context.Context, limit int) ([]models.ContentRecord, error) {
	var out []models.ContentRecord
	for _, r := range f.records {
		if r.Resolution == models.ResolutionResolved && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeContent) MarkResolved(_ context.Context, id string) error {
	if f.failMark {
		return storeerr.ErrTransientStore
	}
	r, ok := f.records[id]
	if !ok {
		return storeerr.ErrNotFound
	}
	r.Resolution = models.ResolutionResolved
	return nil
}

func (f *fakeContent) MarkOrphaned(_ context.Context, id string) error {
	r, ok := f.records[id]
	if !ok {
		return storeerr.ErrNotFound
	}
	r.Resolution = models.ResolutionOrphaned
	return nil
}

func (f *fakeContent) IncrementResolutionAttempt(_ context.Context, id string) error {
	r, ok := f.records[id]
	if !ok {
		return storeerr.ErrNotFound
	}
	r.ResolutionAttempts++
	return nil
}

func (f *fakeContent) DeleteByAccount(_ context.Context, accountID string) (int64, error) {
	var deleted int64
	for id, r := range f.records {
		if r.AccountID == accountID {
			delete(f.records, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeVectors struct {
	checksums map[string]string
	deleted   []string
}

func (f *fakeVectors) Checksum(sourceID string) (string, bool) {
	sum, ok := f.checksums[sourceID]
	return sum, ok
}

func (f *fakeVectors) Delete(_ context.Context, sourceID string) error {
	delete(f.checksums, sourceID)
	f.deleted = append(f.deleted, sourceID)
	return nil
}

func (f *fakeVectors) DeleteByAccount(_ context.Context, _ string) (int, error) {
	n := len(f.checksums)
	f.checksums = map[string]string{}
	return n, nil
}

type fakeCache struct {
	mu       sync.Mutex
	patterns []string
	deleted  []string
}

func (f *fakeCache) Get(context.Context, string) (string, bool) { return "", false }

func (f *fakeCache) Set(context.Context, string, string, time.Duration) {}

func (f *fakeCache) Increment(context.Context, string, int64) int64 { return 0 }

func (f *fakeCache) AddToSortedSet(context.Context, string, string, float64) {}
func (f *fakeCache) TopOfSortedSet(context.Context, string, int) []cache.ScoredMember {
	return nil
}

func (f *fakeCache) PushActivity(context.Context, string, string) {}

func (f *fakeCache) Publish(context.Context, string, string) {}

func (f *fakeCache) Delete(_ context.Context, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys...)
}
func (f *fakeCache) DeletePattern(_ context.Context, pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, pattern)
}

func (f *fakeCache) Ping(context.Context) error { return nil }

type fakeQueue struct {
	payloads []tasks.Payload
}

func (f *fakeQueue) Enqueue(_ context.Context, payload tasks.Payload, _ tasks.Priority) error {
	f.payloads = append(f.payloads, payload)
	return nil
}

type embedFunc func(ctx context.Context, record models.ContentRecord) ([]float32, error)

func (fn embedFunc) EmbeddingFor(ctx context.Context, record models.ContentRecord) ([]float32, error) {
	return fn(ctx, record)
}

func testConfig() config.ResolverConfig {
	return config.ResolverConfig{
		SweepInterval: time.Minute,
		SweepLimit:    100,
		OrphanAfter:   72 * time.Hour,
		MaxAttempts:   3,
	}
}

type fixture struct {
	resolver *Resolver
	dir      *fakeDirectory
	content  *fakeContent
	vectors  *fakeVectors
	cache    *fakeCache
	queue    *fakeQueue
}

func newFixture(embedder EmbeddingSource) *fixture {
	f := &fixture{
		dir:     &fakeDirectory{accounts: map[uuid.UUID]*models.SocialMediaAccount{}},
		content: &fakeContent{records: map[string]*models.ContentRecord{}},
		vectors: &fakeVectors{checksums: map[string]string{}},
		cache:   &fakeCache{},
		queue:   &fakeQueue{},
	}
	f.resolver = New(f.dir, f.content, f.vectors, f.cache, f.queue, embedder, testConfig(), logrus.New())
	return f
}

func (f *fixture) addAccount(entityID uuid.UUID) uuid.UUID {
	id := uuid.New()
	f.dir.accounts[id] = &models.SocialMediaAccount{
		ID:       id,
		Platform: models.PlatformTwitter,
		EntityID: entityID,
	}
	return id
}

func (f *fixture) addRecord(id, accountID string, resolution models.Resolution, firstSeen time.Time, attempts int) {
	f.content.records[id] = &models.ContentRecord{
		ID:                 id,
		ExternalID:         "ext-" + id,
		Platform:           models.PlatformTwitter,
		AccountID:          accountID,
		Kind:               models.ContentPost,
		Body:               "body of " + id,
		Resolution:         resolution,
		ResolutionAttempts: attempts,
		PostedAt:           firstSeen,
		FirstSeenAt:        firstSeen,
	}
}

func TestSweepResolvesWhenAccountAppears(t *testing.T) {
	f := newFixture(nil)
	entityID := uuid.New()
	accountID := f.addAccount(entityID)
	f.addRecord("p-100", accountID.String(), models.ResolutionUnresolved, time.Now(), 0)

	stats, err := f.resolver.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, models.ResolutionResolved, f.content.records["p-100"].Resolution)
	assert.Contains(t, f.cache.patterns, "psm:entity:"+entityID.String()+":*")
}

func TestSweepDefersYoungUnmatchedRecord(t *testing.T) {
	f := newFixture(nil)
	f.addRecord("p-1", uuid.NewString(), models.ResolutionUnresolved, time.Now().Add(-time.Hour), 0)

	stats, err := f.resolver.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Deferred)
	assert.Equal(t, models.ResolutionUnresolved, f.content.records["p-1"].Resolution)
	assert.Equal(t, 1, f.content.records["p-1"].ResolutionAttempts)
}

func TestSweepRequiresBothThresholdsToOrphan(t *testing.T) {
	old := time.Now().Add(-100 * time.Hour)

	cases := []struct {
		name       string
		firstSeen  time.Time
		attempts   int
		wantStatus models.Resolution
	}{
		{"old but under attempt budget", old, 1, models.ResolutionUnresolved},
		{"enough attempts but young", time.Now().Add(-time.Hour), 5, models.ResolutionUnresolved},
		{"old and exhausted", old, 3, models.ResolutionOrphaned},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(nil)
			f.addRecord("p-1", uuid.NewString(), models.ResolutionUnresolved, tc.firstSeen, tc.attempts)

			_, err := f.resolver.Sweep(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, f.content.records["p-1"].Resolution)
		})
	}
}

func TestSweepTreatsUnparsableAccountIDAsMissing(t *testing.T) {
	f := newFixture(nil)
	f.addRecord("p-1", "not-a-uuid", models.ResolutionUnresolved, time.Now().Add(-100*time.Hour), 3)

	stats, err := f.resolver.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Orphaned)
}

func TestSweepCountsLookupFailures(t *testing.T) {
	f := newFixture(nil)
	f.dir.err = storeerr.ErrTransientStore
	f.addRecord("p-1", uuid.NewString(), models.ResolutionUnresolved, time.Now(), 0)

	stats, err := f.resolver.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	// Transient failures must not burn the attempt budget.
	assert.Equal(t, 0, f.content.records["p-1"].ResolutionAttempts)
}

func TestNotifyAccountCreatedResolvesPendingContent(t *testing.T) {
	f := newFixture(nil)
	entityID := uuid.New()
	accountID := f.addAccount(entityID)
	f.addRecord("p-1", accountID.String(), models.ResolutionUnresolved, time.Now(), 0)
	f.addRecord("p-2", accountID.String(), models.ResolutionUnresolved, time.Now(), 0)
	f.addRecord("p-3", accountID.String(), models.ResolutionResolved, time.Now(), 0)

	resolved, err := f.resolver.NotifyAccountCreated(context.Background(), accountID)
	require.NoError(t, err)

	assert.Equal(t, 2, resolved)
	assert.Equal(t, models.ResolutionResolved, f.content.records["p-1"].Resolution)
	assert.Contains(t, f.cache.patterns, "psm:entity:"+entityID.String()+":*")
}

func TestNotifyAccountCreatedUnknownAccount(t *testing.T) {
	f := newFixture(nil)

	_, err := f.resolver.NotifyAccountCreated(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storeerr.ErrNotFound)
}

func TestSweepStaleVectorsDropsWithoutEmbedder(t *testing.T) {
	f := newFixture(nil)
	accountID := uuid.NewString()
	f.addRecord("p-1", accountID, models.ResolutionResolved, time.Now(), 0)
	f.addRecord("p-2", accountID, models.ResolutionResolved, time.Now(), 0)

	// p-1 is current, p-2 was embedded from an older body.
	f.vectors.checksums["p-1"] = vectorindex.ChecksumOf(f.content.records["p-1"].Body)
	f.vectors.checksums["p-2"] = vectorindex.ChecksumOf("an older body")

	stale, err := f.resolver.SweepStaleVectors(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stale)
	assert.Equal(t, []string{"p-2"}, f.vectors.deleted)
	assert.Empty(t, f.queue.payloads)
}

func TestSweepStaleVectorsEnqueuesReEmbedding(t *testing.T) {
	embedder := embedFunc(func(_ context.Context, _ models.ContentRecord) ([]float32, error) {
		return []float32{0.1, 0.2, 0.3}, nil
	})
	f := newFixture(embedder)
	f.addRecord("p-1", uuid.NewString(), models.ResolutionResolved, time.Now(), 0)
	f.vectors.checksums["p-1"] = vectorindex.ChecksumOf("an older body")

	stale, err := f.resolver.SweepStaleVectors(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stale)

	require.Len(t, f.queue.payloads, 1)
	payload, ok := f.queue.payloads[0].(tasks.EmbedContentPayload)
	require.True(t, ok)
	assert.Equal(t, "p-1", payload.SourceID)
	assert.Equal(t, vectorindex.ChecksumOf(f.content.records["p-1"].Body), payload.Checksum)
	assert.Empty(t, f.vectors.deleted)
}

func TestSweepStaleVectorsSkipsNeverEmbedded(t *testing.T) {
	f := newFixture(nil)
	f.addRecord("p-1", uuid.NewString(), models.ResolutionResolved, time.Now(), 0)

	stale, err := f.resolver.SweepStaleVectors(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stale)
	assert.Empty(t, f.vectors.deleted)
}

func TestCleanupEntityCascades(t *testing.T) {
	f := newFixture(nil)
	entityID := uuid.New()
	accountID := f.addAccount(entityID)
	f.addRecord("p-1", accountID.String(), models.ResolutionResolved, time.Now(), 0)
	f.addRecord("p-2", accountID.String(), models.ResolutionResolved, time.Now(), 0)
	f.vectors.checksums["p-1"] = "sum-1"

	require.NoError(t, f.resolver.CleanupEntity(context.Background(), entityID))

	assert.Empty(t, f.content.records)
	assert.Empty(t, f.vectors.checksums)
	assert.Contains(t, f.cache.patterns, "psm:entity:"+entityID.String()+":*")
	assert.Contains(t, f.cache.deleted, "psm:activity:entity:"+entityID.String())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(nil)
	f.resolver.cfg.SweepInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.resolver.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

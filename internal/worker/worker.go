// Package worker implements the task handlers the runner routes to.
// Every handler writes the authoritative store first and touches the
// cache and vector index afterwards, so a crash between steps leaves
// derived data stale but the source of truth intact.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"

	"soapbox/internal/cache"
	"soapbox/internal/models"
	"soapbox/internal/resolver"
	"soapbox/internal/storeerr"
	"soapbox/internal/tasks"
	"soapbox/internal/vectorindex"
	"soapbox/pkg/logging"
	"soapbox/pkg/pagination"
)

// EntityDirectory is the slice of the entity store the handlers read.
type EntityDirectory interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.SocialMediaAccount, error)
	ListAccountsByEntity(ctx context.Context, entityID uuid.UUID) ([]models.SocialMediaAccount, error)
}

// ContentBackend is the slice of the content store the handlers drive.
type ContentBackend interface {
	Upsert(ctx context.Context, record *models.ContentRecord, accountKnown bool) (*models.ContentRecord, error)
	SetVectorChecksum(ctx context.Context, id, checksum string) error
	QueryByAccount(ctx context.Context, accountID string, from, to time.Time, params *pagination.Params) ([]models.ContentRecord, pagination.Page, error)
}

// VectorBackend is the slice of the vector index the handlers drive.
type VectorBackend interface {
	Upsert(ctx context.Context, record models.VectorRecord) error
	Delete(ctx context.Context, sourceID string) error
}

// Sweeper runs one reference reconciliation pass on demand.
type Sweeper interface {
	SweepN(ctx context.Context, limit int) (resolver.SweepStats, error)
	SweepStaleVectors(ctx context.Context) (int, error)
}

// TaskQueue lets handlers enqueue follow-up tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, payload tasks.Payload, priority tasks.Priority) error
}

// EmbeddingSource produces an embedding for freshly ingested content.
// Nil means embeddings arrive only through embedContent tasks produced
// upstream.
type EmbeddingSource interface {
	EmbeddingFor(ctx context.Context, record models.ContentRecord) ([]float32, error)
}

// warmPageLimit caps how much content a cache warm reads per account
// and timeframe.
const warmPageLimit = 500

var timeFrameWindows = map[models.TimeFrame]time.Duration{
	models.TimeFrameHour:  time.Hour,
	models.TimeFrameSixH:  6 * time.Hour,
	models.TimeFrameDay:   24 * time.Hour,
	models.TimeFrameWeek:  7 * 24 * time.Hour,
	models.TimeFrameMonth: 30 * 24 * time.Hour,
}

// Workers bundles the store handles the task handlers operate on.
type Workers struct {
	entities EntityDirectory
	content  ContentBackend
	vectors  VectorBackend
	cache    cache.Cache
	queue    TaskQueue
	sweeper  Sweeper
	embedder EmbeddingSource
	ttls     cache.TTLs
	logger   logging.Logger
	exec     failsafe.Executor[any]
}

func New(entities EntityDirectory, content ContentBackend, vectors VectorBackend, c cache.Cache, queue TaskQueue, sweeper Sweeper, embedder EmbeddingSource, ttls cache.TTLs, logger logging.Logger) *Workers {
	// Short inline retry for transient store hiccups; anything that
	// survives it goes back through the cross-delivery retry path.
	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(100*time.Millisecond, time.Second).
		WithMaxRetries(2).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return storeerr.IsRetryable(err)
		}).
		Build()

	return &Workers{
		entities: entities,
		content:  content,
		vectors:  vectors,
		cache:    c,
		queue:    queue,
		sweeper:  sweeper,
		embedder: embedder,
		ttls:     ttls,
		logger:   logger,
		exec:     failsafe.With(retry),
	}
}

// Register installs all handlers on the runner.
func (w *Workers) Register(runner *tasks.Runner) {
	runner.Register(tasks.KindIngestContent, w.HandleIngestContent)
	runner.Register(tasks.KindEmbedContent, w.HandleEmbedContent)
	runner.Register(tasks.KindResolveReferences, w.HandleResolveReferences)
	runner.Register(tasks.KindWarmCache, w.HandleWarmCache)
}

func (w *Workers) retry(ctx context.Context, op func() error) error {
	_, err := w.exec.WithContext(ctx).Get(func() (any, error) {
		return nil, op()
	})
	return err
}

// HandleIngestContent stores a captured record and fans out the derived
// writes: cache counters, trending sets, the activity feed, and an
// embedContent follow-up when an embedding source is configured.
func (w *Workers) HandleIngestContent(ctx context.Context, env *tasks.Envelope) error {
	payload, err := tasks.DecodePayload[tasks.IngestContentPayload](env)
	if err != nil {
		return err
	}

	accountKnown := false
	var entityID string
	if accountID, parseErr := uuid.Parse(payload.Record.AccountID); parseErr == nil {
		account, err := w.entities.GetAccount(ctx, accountID)
		switch {
		case err == nil:
			accountKnown = true
			entityID = account.EntityID.String()
		case errors.Is(err, storeerr.ErrNotFound):
			// Stored unresolved; the resolver picks it up later.
		default:
			return err
		}
	}

	var stored *models.ContentRecord
	if err := w.retry(ctx, func() error {
		s, err := w.content.Upsert(ctx, &payload.Record, accountKnown)
		if err != nil {
			return err
		}
		stored = s
		return nil
	}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if accountKnown {
		w.updateDerivedData(ctx, entityID, stored)
	}

	if w.embedder != nil {
		if err := w.enqueueEmbedding(ctx, entityID, stored); err != nil {
			// The record is stored; the stale vector sweep recovers a
			// missed embedding, so log instead of failing the task.
			w.logger.WithError(err).WithField("content_id", stored.ID).Warn("Failed to enqueue embedding")
		}
	}
	return nil
}

func (w *Workers) updateDerivedData(ctx context.Context, entityID string, record *models.ContentRecord) {
	w.cache.Increment(ctx, cache.EntityMentionsKey(entityID), 1)
	for metric, value := range record.Engagement {
		w.cache.Increment(ctx, cache.EntityMetricKey(entityID, metric), value)
	}

	for _, tag := range record.Hashtags {
		for tf := range timeFrameWindows {
			w.cache.AddToSortedSet(ctx, cache.TrendingTopicsKey(string(tf)), tag, 1)
		}
		alert, err := json.Marshal(models.AlertEvent{
			ContentID: record.ID,
			EntityID:  entityID,
			Topic:     tag,
			Platform:  record.Platform,
			PostedAt:  record.PostedAt,
		})
		if err == nil {
			w.cache.Publish(ctx, cache.AlertChannel(tag), string(alert))
		}
	}

	activity, err := json.Marshal(map[string]any{
		"content_id": record.ID,
		"platform":   record.Platform,
		"kind":       record.Kind,
		"posted_at":  record.PostedAt,
	})
	if err == nil {
		w.cache.PushActivity(ctx, cache.ActivityKey(entityID), string(activity))
	}
}

func (w *Workers) enqueueEmbedding(ctx context.Context, entityID string, record *models.ContentRecord) error {
	embedding, err := w.embedder.EmbeddingFor(ctx, *record)
	if err != nil {
		return err
	}
	return w.queue.Enqueue(ctx, tasks.EmbedContentPayload{
		SourceID:  record.ID,
		AccountID: record.AccountID,
		EntityID:  entityID,
		PostedAt:  record.PostedAt,
		Embedding: embedding,
		Checksum:  vectorindex.ChecksumOf(record.Body),
	}, tasks.PriorityLow)
}

// HandleEmbedContent stores a precomputed embedding and records its
// checksum on the content record.
func (w *Workers) HandleEmbedContent(ctx context.Context, env *tasks.Envelope) error {
	payload, err := tasks.DecodePayload[tasks.EmbedContentPayload](env)
	if err != nil {
		return err
	}

	if err := w.retry(ctx, func() error {
		return w.vectors.Upsert(ctx, models.VectorRecord{
			SourceID:  payload.SourceID,
			AccountID: payload.AccountID,
			EntityID:  payload.EntityID,
			PostedAt:  payload.PostedAt,
			Embedding: payload.Embedding,
			Checksum:  payload.Checksum,
		})
	}); err != nil {
		return err
	}

	err = w.retry(ctx, func() error {
		return w.content.SetVectorChecksum(ctx, payload.SourceID, payload.Checksum)
	})
	if errors.Is(err, storeerr.ErrNotFound) {
		// Record deleted since the task was enqueued; drop the vector
		// again rather than leaving it unreferenced.
		if delErr := w.vectors.Delete(ctx, payload.SourceID); delErr != nil {
			w.logger.WithError(delErr).WithField("content_id", payload.SourceID).Warn("Failed to drop vector for deleted record")
		}
		return nil
	}
	return err
}

// HandleResolveReferences runs one reconciliation pass plus the stale
// vector sweep.
func (w *Workers) HandleResolveReferences(ctx context.Context, env *tasks.Envelope) error {
	payload, err := tasks.DecodePayload[tasks.ResolveReferencesPayload](env)
	if err != nil {
		return err
	}

	stats, err := w.sweeper.SweepN(ctx, payload.Limit)
	if err != nil {
		return err
	}
	stale, err := w.sweeper.SweepStaleVectors(ctx)
	if err != nil {
		return err
	}
	w.logger.WithFields(logging.Fields{
		"scanned":  stats.Scanned,
		"resolved": stats.Resolved,
		"orphaned": stats.Orphaned,
		"stale":    stale,
	}).Info("On-demand resolver sweep complete")
	return nil
}

// HandleWarmCache recomputes an entity's windowed metrics from the
// authoritative stores and writes them back to the cache.
func (w *Workers) HandleWarmCache(ctx context.Context, env *tasks.Envelope) error {
	payload, err := tasks.DecodePayload[tasks.WarmCachePayload](env)
	if err != nil {
		return err
	}
	entityID, err := uuid.Parse(payload.EntityID)
	if err != nil {
		return fmt.Errorf("%w: entity id: %s", storeerr.ErrInvalidPayload, err)
	}

	accounts, err := w.entities.ListAccountsByEntity(ctx, entityID)
	if err != nil {
		return err
	}

	timeframes := warmTimeframes(payload.Timeframes)
	now := time.Now()
	for _, tf := range timeframes {
		if err := ctx.Err(); err != nil {
			return err
		}
		from := now.Add(-timeFrameWindows[tf])

		mentions := 0
		var engagement int64
		for _, account := range accounts {
			records, _, err := w.content.QueryByAccount(ctx, account.ID.String(), from, time.Time{}, &pagination.Params{Limit: warmPageLimit})
			if err != nil {
				return err
			}
			mentions += len(records)
			for _, record := range records {
				for _, value := range record.Engagement {
					engagement += value
				}
			}
		}

		id := entityID.String()
		w.cache.Set(ctx, cache.EntityMetricKey(id, "mentions:"+string(tf)), strconv.Itoa(mentions), w.ttls.Medium)
		w.cache.Set(ctx, cache.EntityMetricKey(id, "engagement:"+string(tf)), strconv.FormatInt(engagement, 10), w.ttls.Medium)
	}
	return nil
}

// warmTimeframes maps requested timeframe names to known windows,
// defaulting to all of them.
func warmTimeframes(requested []string) []models.TimeFrame {
	if len(requested) == 0 {
		return []models.TimeFrame{
			models.TimeFrameHour, models.TimeFrameSixH, models.TimeFrameDay,
			models.TimeFrameWeek, models.TimeFrameMonth,
		}
	}
	var out []models.TimeFrame
	for _, name := range requested {
		tf := models.TimeFrame(name)
		if _, ok := timeFrameWindows[tf]; ok {
			out = append(out, tf)
		}
	}
	return out
}

// Package resolver reconciles cross-store references. Content records
// point at entity store accounts by id with no database-level
// enforcement, so a periodic sweep moves records between unresolved,
// resolved, and orphaned, keeps vector checksums fresh, and performs
// request-driven cascades when an entity is removed.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"soapbox/internal/cache"
	"soapbox/internal/config"
	"soapbox/internal/models"
	"soapbox/internal/storeerr"
	"soapbox/internal/tasks"
	"soapbox/internal/vectorindex"
	"soapbox/pkg/logging"
)

// EntityDirectory is the slice of the entity store the resolver reads.
type EntityDirectory interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.SocialMediaAccount, error)
	ListAccountsByEntity(ctx context.Context, entityID uuid.UUID) ([]models.SocialMediaAccount, error)
}

// ContentBackend is the slice of the content store the resolver drives.
type ContentBackend interface {
	ListUnresolved(ctx context.Context, limit int) ([]models.ContentRecord, error)
	ListByAccount(ctx context.Context, accountID string) ([]models.ContentRecord, error)
	ListChecksumCandidates(ctx context.Context, limit int) ([]models.ContentRecord, error)
	MarkResolved(ctx context.Context, id string) error
	MarkOrphaned(ctx context.Context, id string) error
	IncrementResolutionAttempt(ctx context.Context, id string) error
	DeleteByAccount(ctx context.Context, accountID string) (int64, error)
}

// VectorBackend is the slice of the vector index the resolver drives.
type VectorBackend interface {
	Checksum(sourceID string) (string, bool)
	Delete(ctx context.Context, sourceID string) error
	DeleteByAccount(ctx context.Context, accountID string) (int, error)
}

// TaskQueue lets the resolver hand follow-up work to the dispatcher.
type TaskQueue interface {
	Enqueue(ctx context.Context, payload tasks.Payload, priority tasks.Priority) error
}

// EmbeddingSource supplies a fresh embedding for re-indexing stale
// content. Generation happens outside this module; a nil source makes
// the sweep drop stale vectors instead, so queries never serve them.
type EmbeddingSource interface {
	EmbeddingFor(ctx context.Context, record models.ContentRecord) ([]float32, error)
}

// SweepStats summarizes one reconciliation pass.
type SweepStats struct {
	Scanned  int
	Resolved int
	Orphaned int
	Deferred int
	Failed   int
}

type Resolver struct {
	entities EntityDirectory
	content  ContentBackend
	vectors  VectorBackend
	cache    cache.Cache
	queue    TaskQueue
	embedder EmbeddingSource
	cfg      config.ResolverConfig
	logger   logging.Logger
	now      func() time.Time
}

func New(entities EntityDirectory, content ContentBackend, vectors VectorBackend, c cache.Cache, queue TaskQueue, embedder EmbeddingSource, cfg config.ResolverConfig, logger logging.Logger) *Resolver {
	return &Resolver{
		entities: entities,
		content:  content,
		vectors:  vectors,
		cache:    c,
		queue:    queue,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes sweeps on the configured interval until ctx is
// cancelled. Sweep failures are logged and retried next tick; they
// never stop the loop.
func (r *Resolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := r.Sweep(ctx)
			if err != nil {
				r.logger.WithError(err).Warn("Resolver sweep failed, will retry next tick")
				continue
			}
			r.logger.WithFields(logging.Fields{
				"scanned":  stats.Scanned,
				"resolved": stats.Resolved,
				"orphaned": stats.Orphaned,
				"deferred": stats.Deferred,
				"failed":   stats.Failed,
			}).Debug("Resolver sweep complete")
		}
	}
}

// Sweep processes one batch of unresolved records using the configured
// batch limit.
func (r *Resolver) Sweep(ctx context.Context) (SweepStats, error) {
	return r.SweepN(ctx, r.cfg.SweepLimit)
}

// SweepN processes one batch of at most limit unresolved records. A
// non-positive limit falls back to the configured one.
func (r *Resolver) SweepN(ctx context.Context, limit int) (SweepStats, error) {
	var stats SweepStats

	if limit <= 0 {
		limit = r.cfg.SweepLimit
	}
	records, err := r.content.ListUnresolved(ctx, limit)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(records)

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		switch r.reconcile(ctx, record) {
		case outcomeResolved:
			stats.Resolved++
		case outcomeOrphaned:
			stats.Orphaned++
		case outcomeDeferred:
			stats.Deferred++
		case outcomeFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type outcome int

const (
	outcomeResolved outcome = iota
	outcomeOrphaned
	outcomeDeferred
	outcomeFailed
)

func (r *Resolver) reconcile(ctx context.Context, record models.ContentRecord) outcome {
	accountID, parseErr := uuid.Parse(record.AccountID)
	if parseErr == nil {
		account, err := r.entities.GetAccount(ctx, accountID)
		switch {
		case err == nil:
			return r.resolve(ctx, record, account)
		case errors.Is(err, storeerr.ErrNotFound):
			// fall through to the orphan decision
		default:
			r.logger.WithError(err).WithField("content_id", record.ID).Warn("Account lookup failed")
			return outcomeFailed
		}
	}

	// Orphaning is terminal, so both the age and the attempt thresholds
	// must be exceeded before we give up on a record.
	age := r.now().Sub(record.FirstSeenAt)
	if age > r.cfg.OrphanAfter && record.ResolutionAttempts >= r.cfg.MaxAttempts {
		if err := r.content.MarkOrphaned(ctx, record.ID); err != nil {
			r.logger.WithError(err).WithField("content_id", record.ID).Warn("Failed to orphan record")
			return outcomeFailed
		}
		r.logger.WithFields(logging.Fields{
			"content_id": record.ID,
			"account_id": record.AccountID,
			"age":        age.String(),
			"attempts":   record.ResolutionAttempts,
		}).Warn("Content record orphaned")
		return outcomeOrphaned
	}

	if err := r.content.IncrementResolutionAttempt(ctx, record.ID); err != nil {
		r.logger.WithError(err).WithField("content_id", record.ID).Warn("Failed to record resolution attempt")
		return outcomeFailed
	}
	return outcomeDeferred
}

func (r *Resolver) resolve(ctx context.Context, record models.ContentRecord, account *models.SocialMediaAccount) outcome {
	if err := r.content.MarkResolved(ctx, record.ID); err != nil {
		r.logger.WithError(err).WithField("content_id", record.ID).Warn("Failed to mark record resolved")
		return outcomeFailed
	}
	// Cached entity aggregates are stale now; drop them so the next
	// read rebuilds from the stores.
	r.cache.DeletePattern(ctx, cache.EntityPattern(account.EntityID.String()))
	return outcomeResolved
}

// NotifyAccountCreated resolves an account's pending content
// immediately instead of waiting for the next sweep.
func (r *Resolver) NotifyAccountCreated(ctx context.Context, accountID uuid.UUID) (int, error) {
	account, err := r.entities.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	records, err := r.content.ListByAccount(ctx, accountID.String())
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, record := range records {
		if record.Resolution != models.ResolutionUnresolved {
			continue
		}
		if err := r.content.MarkResolved(ctx, record.ID); err != nil {
			r.logger.WithError(err).WithField("content_id", record.ID).Warn("Failed to mark record resolved")
			continue
		}
		resolved++
	}
	if resolved > 0 {
		r.cache.DeletePattern(ctx, cache.EntityPattern(account.EntityID.String()))
	}
	return resolved, nil
}

// SweepStaleVectors re-indexes records whose body no longer matches the
// checksum stored in the vector index. Without an embedding source the
// stale vector is dropped so similarity queries never return it.
func (r *Resolver) SweepStaleVectors(ctx context.Context) (int, error) {
	records, err := r.content.ListChecksumCandidates(ctx, r.cfg.SweepLimit)
	if err != nil {
		return 0, err
	}

	stale := 0
	for _, record := range records {
		current := vectorindex.ChecksumOf(record.Body)

		indexed, ok := r.vectors.Checksum(record.ID)
		if ok && indexed == current {
			continue
		}
		if !ok && record.VectorChecksum == "" {
			// Never embedded; ingestion owns the first embedding.
			continue
		}
		stale++

		if r.embedder == nil {
			if err := r.vectors.Delete(ctx, record.ID); err != nil {
				r.logger.WithError(err).WithField("content_id", record.ID).Warn("Failed to drop stale vector")
			}
			continue
		}

		embedding, err := r.embedder.EmbeddingFor(ctx, record)
		if err != nil {
			r.logger.WithError(err).WithField("content_id", record.ID).Warn("Failed to source fresh embedding")
			continue
		}
		payload := tasks.EmbedContentPayload{
			SourceID:  record.ID,
			AccountID: record.AccountID,
			PostedAt:  record.PostedAt,
			Embedding: embedding,
			Checksum:  current,
		}
		if err := r.queue.Enqueue(ctx, payload, tasks.PriorityLow); err != nil {
			r.logger.WithError(err).WithField("content_id", record.ID).Warn("Failed to enqueue re-embedding")
		}
	}
	return stale, nil
}

// CleanupEntity removes all content and vectors belonging to an
// entity's accounts. This is the only cross-store cascade and it runs
// exclusively on explicit request.
func (r *Resolver) CleanupEntity(ctx context.Context, entityID uuid.UUID) error {
	accounts, err := r.entities.ListAccountsByEntity(ctx, entityID)
	if err != nil && !errors.Is(err, storeerr.ErrNotFound) {
		return err
	}

	for _, account := range accounts {
		accountID := account.ID.String()
		deletedContent, err := r.content.DeleteByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		deletedVectors, err := r.vectors.DeleteByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		r.logger.WithFields(logging.Fields{
			"entity_id":  entityID,
			"account_id": accountID,
			"content":    deletedContent,
			"vectors":    deletedVectors,
		}).Info("Cleaned up account data")
	}

	r.cache.DeletePattern(ctx, cache.EntityPattern(entityID.String()))
	r.cache.Delete(ctx, cache.ActivityKey(entityID.String()))
	return nil
}

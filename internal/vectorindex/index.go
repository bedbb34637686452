// Package vectorindex maintains embeddings for content records in an
// in-process vecgo index. Records are keyed by their content store id;
// a checksum of the source text makes upserts idempotent.
package vectorindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/vecgo"

	"soapbox/internal/models"
	"soapbox/internal/storeerr"
	"soapbox/pkg/logging"
)

// DefaultDimension matches the all-MiniLM style sentence embeddings the
// ingestion pipeline produces.
const DefaultDimension = 384

// Match is one query result, highest similarity first.
type Match struct {
	SourceID string
	Score    float64
}

// Filter restricts query results by stored record attributes.
type Filter struct {
	AccountID string
	EntityID  string
	From      time.Time
	To        time.Time
}

// Index wraps a flat cosine vecgo index with external string keys and
// checksum-based idempotent upserts.
type Index struct {
	mu        sync.RWMutex
	db        *vecgo.Vecgo[models.VectorRecord]
	dimension int
	logger    logging.Logger

	ids     map[string]uint64              // source id -> vecgo id
	records map[uint64]models.VectorRecord // vecgo id -> stored record
}

func New(dimension int, logger logging.Logger) (*Index, error) {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	db, err := vecgo.Flat[models.VectorRecord](dimension).Cosine().Build()
	if err != nil {
		return nil, fmt.Errorf("build vector index: %w", err)
	}
	return &Index{
		db:        db,
		dimension: dimension,
		logger:    logger,
		ids:       make(map[string]uint64),
		records:   make(map[uint64]models.VectorRecord),
	}, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

// ChecksumOf returns the checksum used to detect source text changes.
func ChecksumOf(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (x *Index) checkDimension(embedding []float32) error {
	if len(embedding) != x.dimension {
		return fmt.Errorf("%w: expected %d, got %d", storeerr.ErrDimensionMismatch, x.dimension, len(embedding))
	}
	return nil
}

// Upsert stores an embedding for a record. When the checksum matches
// the stored one the call is a no-op; otherwise the old vector is
// replaced so a record never has two embeddings.
func (x *Index) Upsert(ctx context.Context, record models.VectorRecord) error {
	if record.SourceID == "" {
		return fmt.Errorf("%w: source id is required", storeerr.ErrConstraintViolation)
	}
	if err := x.checkDimension(record.Embedding); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if existing, ok := x.ids[record.SourceID]; ok {
		if x.records[existing].Checksum == record.Checksum {
			return nil
		}
		if err := x.db.Delete(ctx, existing); err != nil {
			return mapVecgoError(err)
		}
		delete(x.records, existing)
		delete(x.ids, record.SourceID)
	}

	record.UpdatedAt = time.Now()
	id, err := x.db.Insert(ctx, vecgo.VectorWithData[models.VectorRecord]{
		Vector: record.Embedding,
		Data:   record,
	})
	if err != nil {
		return mapVecgoError(err)
	}
	x.ids[record.SourceID] = id
	x.records[id] = record
	return nil
}

// Query returns up to k matches ordered by descending similarity, ties
// broken by ascending source id.
func (x *Index) Query(ctx context.Context, embedding []float32, k int, filter *Filter) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := x.checkDimension(embedding); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	results, err := x.db.KNNSearch(ctx, embedding, k, func(o *vecgo.KNNSearchOptions) {
		if filter != nil {
			o.FilterFunc = func(id uint64) bool {
				record, ok := x.records[id]
				if !ok {
					return false
				}
				return filter.matches(record)
			}
		}
	})
	if err != nil {
		return nil, mapVecgoError(err)
	}

	matches := make([]Match, 0, len(results))
	for _, result := range results {
		// Cosine distance in [0,2]; similarity mirrors it.
		matches = append(matches, Match{
			SourceID: result.Data.SourceID,
			Score:    1 - float64(result.Distance),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].SourceID < matches[j].SourceID
	})
	return matches, nil
}

func (f *Filter) matches(record models.VectorRecord) bool {
	if f.AccountID != "" && record.AccountID != f.AccountID {
		return false
	}
	if f.EntityID != "" && record.EntityID != f.EntityID {
		return false
	}
	if !f.From.IsZero() && record.PostedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !record.PostedAt.Before(f.To) {
		return false
	}
	return true
}

// Checksum returns the stored checksum for a record, if present.
func (x *Index) Checksum(sourceID string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.ids[sourceID]
	if !ok {
		return "", false
	}
	return x.records[id].Checksum, true
}

// Delete removes a record's embedding. Missing records are not an error.
func (x *Index) Delete(ctx context.Context, sourceID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	id, ok := x.ids[sourceID]
	if !ok {
		return nil
	}
	if err := x.db.Delete(ctx, id); err != nil {
		return mapVecgoError(err)
	}
	delete(x.ids, sourceID)
	delete(x.records, id)
	return nil
}

// DeleteByAccount removes all embeddings belonging to an account and
// returns how many were dropped.
func (x *Index) DeleteByAccount(ctx context.Context, accountID string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	deleted := 0
	for id, record := range x.records {
		if record.AccountID != accountID {
			continue
		}
		if err := x.db.Delete(ctx, id); err != nil {
			return deleted, mapVecgoError(err)
		}
		delete(x.ids, record.SourceID)
		delete(x.records, id)
		deleted++
	}
	return deleted, nil
}

// Len reports how many embeddings the index holds.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

func mapVecgoError(err error) error {
	if err == nil {
		return nil
	}
	var dimErr *vecgo.ErrDimensionMismatch
	if errors.As(err, &dimErr) {
		return fmt.Errorf("%w: expected %d, got %d", storeerr.ErrDimensionMismatch, dimErr.Expected, dimErr.Actual)
	}
	return err
}

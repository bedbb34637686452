// Package contentstore is the authoritative document store for captured
// social media content. Records are keyed internally by a generated hex
// id and externally by (platform, external_id); writes are idempotent
// merges so repeated captures of the same post never duplicate.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"soapbox/internal/models"
	"soapbox/internal/storeerr"
	"soapbox/pkg/logging"
	"soapbox/pkg/pagination"
)

const collectionName = "content"

type Store struct {
	coll   *mongo.Collection
	logger logging.Logger
	now    func() time.Time
}

func NewStore(db *mongo.Database, logger logging.Logger) *Store {
	return &Store{
		coll:   db.Collection(collectionName),
		logger: logger,
		now:    time.Now,
	}
}

// EnsureIndexes creates the unique external key index and the account
// query index. Safe to call on every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "platform", Value: 1}, {Key: "external_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "posted_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "resolution", Value: 1}, {Key: "first_seen_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create content indexes: %w", err)
	}
	return nil
}

// buildUpsertUpdate builds the merge document for Upsert. Body and
// provenance fields are written only on first insert; engagement
// metrics follow last-write-wins.
func buildUpsertUpdate(record *models.ContentRecord, accountKnown bool, now time.Time) bson.M {
	resolution := models.ResolutionUnresolved
	if accountKnown {
		resolution = models.ResolutionResolved
	}

	setOnInsert := bson.M{
		"_id":                 bson.NewObjectID().Hex(),
		"external_id":         record.ExternalID,
		"platform":            record.Platform,
		"account_id":          record.AccountID,
		"kind":                record.Kind,
		"body":                record.Body,
		"posted_at":           record.PostedAt,
		"first_seen_at":       now,
		"resolution":          resolution,
		"resolution_attempts": 0,
	}
	if record.ParentID != "" {
		setOnInsert["parent_id"] = record.ParentID
	}
	if record.Language != "" {
		setOnInsert["language"] = record.Language
	}
	if len(record.Hashtags) > 0 {
		setOnInsert["hashtags"] = record.Hashtags
	}
	if len(record.Mentions) > 0 {
		setOnInsert["mentions"] = record.Mentions
	}

	set := bson.M{
		"updated_at": now,
	}
	for metric, value := range record.Engagement {
		set["engagement."+metric] = value
	}

	return bson.M{
		"$setOnInsert": setOnInsert,
		"$set":         set,
	}
}

// Upsert merges a captured record keyed on (platform, external_id).
// Concurrent upserts for the same key are safe; the document ends up
// with the original body and the freshest engagement metrics.
func (s *Store) Upsert(ctx context.Context, record *models.ContentRecord, accountKnown bool) (*models.ContentRecord, error) {
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", storeerr.ErrConstraintViolation, err)
	}

	filter := bson.M{"platform": record.Platform, "external_id": record.ExternalID}
	update := buildUpsertUpdate(record, accountKnown, s.now())
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored models.ContentRecord
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if mongo.IsDuplicateKeyError(err) {
		// Two workers raced the unique index on first insert. The loser
		// retries against the winner's document as a plain update.
		err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	}
	if err != nil {
		return nil, mapUpsertError(err)
	}
	return &stored, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.ContentRecord, error) {
	var record models.ContentRecord
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&record); err != nil {
		return nil, mapMongoError(err)
	}
	return &record, nil
}

func (s *Store) GetByExternalID(ctx context.Context, platform models.Platform, externalID string) (*models.ContentRecord, error) {
	var record models.ContentRecord
	filter := bson.M{"platform": platform, "external_id": externalID}
	if err := s.coll.FindOne(ctx, filter).Decode(&record); err != nil {
		return nil, mapMongoError(err)
	}
	return &record, nil
}

// buildAccountQueryFilter builds the keyset filter for QueryByAccount.
func buildAccountQueryFilter(accountID string, from, to time.Time, cursor *pagination.Cursor) bson.M {
	filter := bson.M{"account_id": accountID}

	posted := bson.M{}
	if !from.IsZero() {
		posted["$gte"] = from
	}
	if !to.IsZero() {
		posted["$lt"] = to
	}
	if len(posted) > 0 {
		filter["posted_at"] = posted
	}

	if cursor != nil {
		filter["$or"] = bson.A{
			bson.M{"posted_at": bson.M{"$lt": cursor.Timestamp}},
			bson.M{"posted_at": cursor.Timestamp, "_id": bson.M{"$lt": cursor.ID}},
		}
	}
	return filter
}

// QueryByAccount returns one page of an account's content, newest first,
// optionally bounded by [from, to). The opaque cursor continues a prior
// page.
func (s *Store) QueryByAccount(ctx context.Context, accountID string, from, to time.Time, params *pagination.Params) ([]models.ContentRecord, pagination.Page, error) {
	filter := buildAccountQueryFilter(accountID, from, to, params.Cursor)
	opts := options.Find().
		SetSort(bson.D{{Key: "posted_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(params.Limit + 1))

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, pagination.Page{}, mapMongoError(err)
	}
	defer cur.Close(ctx)

	var records []models.ContentRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, pagination.Page{}, mapMongoError(err)
	}

	fetched := len(records)
	if fetched > params.Limit {
		records = records[:params.Limit]
	}
	endCursor := ""
	if len(records) > 0 {
		last := records[len(records)-1]
		endCursor = pagination.EncodeCursor(last.PostedAt, last.ID)
	}
	return records, pagination.BuildPage(fetched, params.Limit, endCursor), nil
}

// MarkResolved transitions a record to resolved. Orphaned records stay
// orphaned; resolution is re-entered only through re-capture.
func (s *Store) MarkResolved(ctx context.Context, id string) error {
	result, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "resolution": bson.M{"$ne": models.ResolutionOrphaned}},
		bson.M{"$set": bson.M{"resolution": models.ResolutionResolved, "updated_at": s.now()}},
	)
	if err != nil {
		return mapMongoError(err)
	}
	if result.MatchedCount == 0 {
		return storeerr.ErrNotFound
	}
	return nil
}

// MarkUnresolved puts a record back in the sweep queue with a fresh
// attempt budget, e.g. after its account was removed and re-created.
func (s *Store) MarkUnresolved(ctx context.Context, id string) error {
	result, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"resolution":          models.ResolutionUnresolved,
			"resolution_attempts": 0,
			"updated_at":          s.now(),
		}},
	)
	if err != nil {
		return mapMongoError(err)
	}
	if result.MatchedCount == 0 {
		return storeerr.ErrNotFound
	}
	return nil
}

// MarkOrphaned is terminal: the record is kept for audit but excluded
// from future sweeps.
func (s *Store) MarkOrphaned(ctx context.Context, id string) error {
	result, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"resolution": models.ResolutionOrphaned, "updated_at": s.now()}},
	)
	if err != nil {
		return mapMongoError(err)
	}
	if result.MatchedCount == 0 {
		return storeerr.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementResolutionAttempt(ctx context.Context, id string) error {
	result, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"resolution_attempts": 1},
			"$set": bson.M{"updated_at": s.now()},
		},
	)
	if err != nil {
		return mapMongoError(err)
	}
	if result.MatchedCount == 0 {
		return storeerr.ErrNotFound
	}
	return nil
}

// ListUnresolved returns up to limit unresolved records, oldest first,
// for the resolver sweep.
func (s *Store) ListUnresolved(ctx context.Context, limit int) ([]models.ContentRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "first_seen_at", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, bson.M{"resolution": models.ResolutionUnresolved}, opts)
	if err != nil {
		return nil, mapMongoError(err)
	}
	defer cur.Close(ctx)

	var records []models.ContentRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, mapMongoError(err)
	}
	return records, nil
}

// ListByAccount returns all record ids, bodies, and checksums for an
// account, used by resolution notifications and entity cleanup.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]models.ContentRecord, error) {
	opts := options.Find().SetProjection(bson.M{
		"_id": 1, "account_id": 1, "body": 1, "vector_checksum": 1, "posted_at": 1, "resolution": 1,
	})

	cur, err := s.coll.Find(ctx, bson.M{"account_id": accountID}, opts)
	if err != nil {
		return nil, mapMongoError(err)
	}
	defer cur.Close(ctx)

	var records []models.ContentRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, mapMongoError(err)
	}
	return records, nil
}

// ListChecksumCandidates returns resolved records for the stale vector
// sweep: id, body, and the checksum of the embedding currently indexed.
func (s *Store) ListChecksumCandidates(ctx context.Context, limit int) ([]models.ContentRecord, error) {
	opts := options.Find().
		SetProjection(bson.M{
			"_id": 1, "account_id": 1, "body": 1, "vector_checksum": 1, "posted_at": 1,
		}).
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, bson.M{"resolution": models.ResolutionResolved}, opts)
	if err != nil {
		return nil, mapMongoError(err)
	}
	defer cur.Close(ctx)

	var records []models.ContentRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, mapMongoError(err)
	}
	return records, nil
}

// SetVectorChecksum records the checksum of the embedding currently
// stored for a record.
func (s *Store) SetVectorChecksum(ctx context.Context, id, checksum string) error {
	result, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"vector_checksum": checksum, "updated_at": s.now()}},
	)
	if err != nil {
		return mapMongoError(err)
	}
	if result.MatchedCount == 0 {
		return storeerr.ErrNotFound
	}
	return nil
}

// DeleteByAccount removes all content for an account. Only the resolver
// calls this, as part of an explicit entity cleanup.
func (s *Store) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := s.coll.DeleteMany(ctx, bson.M{"account_id": accountID})
	if err != nil {
		return 0, mapMongoError(err)
	}
	return result.DeletedCount, nil
}

// mapUpsertError classifies errors from the merge path. A duplicate key
// there is a lost race on the unique index, not an invalid write, so it
// stays retryable.
func mapUpsertError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", storeerr.ErrTransientStore, err)
	}
	return mapMongoError(err)
}

func mapMongoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return storeerr.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %s", storeerr.ErrConstraintViolation, err)
	case mongo.IsTimeout(err) || mongo.IsNetworkError(err):
		return fmt.Errorf("%w: %s", storeerr.ErrTransientStore, err)
	}
	return err
}

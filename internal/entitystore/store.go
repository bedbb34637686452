// Package entitystore is the authoritative relational store for
// political entities, their social media accounts, and the typed
// relationships between entities.
package entitystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"soapbox/internal/models"
	"soapbox/internal/storeerr"
	"soapbox/pkg/logging"
	"soapbox/pkg/pagination"
)

type Store struct {
	db     *sql.DB
	logger logging.Logger
}

func NewStore(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// mapError translates driver errors into the shared taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storeerr.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "23503", "23514": // unique, foreign key, check
			return fmt.Errorf("%w: %s", storeerr.ErrConstraintViolation, pqErr.Message)
		}
	}
	return err
}

// metadataValue serializes the free-form metadata map for the jsonb
// column. A nil map stores as an empty object.
func metadataValue(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return json.Marshal(metadata)
}

// Entities

func (s *Store) CreateEntity(ctx context.Context, entity *models.PoliticalEntity) error {
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("%w: %s", storeerr.ErrConstraintViolation, err)
	}
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}

	metadata, err := metadataValue(entity.Metadata)
	if err != nil {
		return fmt.Errorf("%w: metadata: %s", storeerr.ErrConstraintViolation, err)
	}

	query := `
		INSERT INTO political_entities (id, name, entity_type, description, country, region, political_alignment, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		entity.ID, entity.Name, entity.EntityType, entity.Description,
		entity.Country, entity.Region, entity.PoliticalAlignment, metadata,
	).Scan(&entity.CreatedAt, &entity.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetEntity(ctx context.Context, id uuid.UUID) (*models.PoliticalEntity, error) {
	query := `
		SELECT id, name, entity_type, description, country, region, political_alignment, metadata, created_at, updated_at
		FROM political_entities
		WHERE id = $1
	`
	var entity models.PoliticalEntity
	var metadata []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&entity.ID, &entity.Name, &entity.EntityType, &entity.Description,
		&entity.Country, &entity.Region, &entity.PoliticalAlignment,
		&metadata, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entity.Metadata); err != nil {
			return nil, fmt.Errorf("decode entity metadata: %w", err)
		}
	}
	return &entity, nil
}

// UpdateEntity applies a partial patch. Unset fields are left unchanged.
func (s *Store) UpdateEntity(ctx context.Context, id uuid.UUID, patch models.EntityPatch) (*models.PoliticalEntity, error) {
	sets := make([]string, 0, 6)
	args := make([]interface{}, 0, 7)
	idx := 1

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}

	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, fmt.Errorf("%w: entity name cannot be empty", storeerr.ErrConstraintViolation)
		}
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Country != nil {
		add("country", *patch.Country)
	}
	if patch.Region != nil {
		add("region", *patch.Region)
	}
	if patch.PoliticalAlignment != nil {
		add("political_alignment", *patch.PoliticalAlignment)
	}
	if patch.Metadata != nil {
		metadata, err := metadataValue(patch.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata: %s", storeerr.ErrConstraintViolation, err)
		}
		add("metadata", metadata)
	}

	if len(sets) == 0 {
		return s.GetEntity(ctx, id)
	}

	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`
		UPDATE political_entities
		SET %s
		WHERE id = $%d
		RETURNING id, name, entity_type, description, country, region, political_alignment, metadata, created_at, updated_at
	`, strings.Join(sets, ", "), idx)

	var entity models.PoliticalEntity
	var metadata []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&entity.ID, &entity.Name, &entity.EntityType, &entity.Description,
		&entity.Country, &entity.Region, &entity.PoliticalAlignment,
		&metadata, &entity.CreatedAt, &entity.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entity.Metadata); err != nil {
			return nil, fmt.Errorf("decode entity metadata: %w", err)
		}
	}
	return &entity, nil
}

// DeleteEntity removes an entity, its accounts, and relationships in
// either direction inside one transaction. Content and vectors in other
// stores are untouched; the resolver cleans those up on request.
func (s *Store) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entity_relationships WHERE source_entity_id = $1 OR target_entity_id = $1`, id); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM social_media_accounts WHERE political_entity_id = $1`, id); err != nil {
		return mapError(err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM political_entities WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return storeerr.ErrNotFound
	}

	return mapError(tx.Commit())
}

// ListEntities returns a keyset-paginated page of entities, newest
// first, optionally filtered by type.
func (s *Store) ListEntities(ctx context.Context, entityType models.EntityType, params *pagination.Params) ([]models.PoliticalEntity, pagination.Page, error) {
	builder := &pagination.KeysetBuilder{TimestampColumn: "created_at", IDColumn: "id"}

	where := make([]string, 0, 2)
	args := make([]interface{}, 0, 4)
	idx := 1

	if entityType != "" {
		where = append(where, fmt.Sprintf("entity_type = $%d", idx))
		args = append(args, entityType)
		idx++
	}
	if cond, condArgs := builder.Condition(params, idx); cond != "" {
		where = append(where, cond)
		args = append(args, condArgs...)
		idx += len(condArgs)
	}

	query := `
		SELECT id, name, entity_type, description, country, region, political_alignment, metadata, created_at, updated_at
		FROM political_entities
	`
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	query += builder.OrderBy() + fmt.Sprintf(" LIMIT $%d", idx)
	args = append(args, params.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pagination.Page{}, mapError(err)
	}
	defer rows.Close()

	entities := make([]models.PoliticalEntity, 0, params.Limit)
	for rows.Next() {
		var entity models.PoliticalEntity
		var metadata []byte
		if err := rows.Scan(
			&entity.ID, &entity.Name, &entity.EntityType, &entity.Description,
			&entity.Country, &entity.Region, &entity.PoliticalAlignment,
			&metadata, &entity.CreatedAt, &entity.UpdatedAt,
		); err != nil {
			return nil, pagination.Page{}, mapError(err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entity.Metadata); err != nil {
				return nil, pagination.Page{}, fmt.Errorf("decode entity metadata: %w", err)
			}
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, pagination.Page{}, mapError(err)
	}

	fetched := len(entities)
	if fetched > params.Limit {
		entities = entities[:params.Limit]
	}
	endCursor := ""
	if len(entities) > 0 {
		last := entities[len(entities)-1]
		endCursor = pagination.EncodeCursor(last.CreatedAt, last.ID.String())
	}
	return entities, pagination.BuildPage(fetched, params.Limit, endCursor), nil
}

// Accounts

func (s *Store) CreateAccount(ctx context.Context, account *models.SocialMediaAccount) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %s", storeerr.ErrConstraintViolation, err)
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	query := `
		INSERT INTO social_media_accounts (id, platform, platform_id, handle, name, url, verified, follower_count, political_entity_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		account.ID, account.Platform, account.PlatformID, account.Handle,
		account.Name, account.URL, account.Verified, account.FollowerCount, account.EntityID,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.SocialMediaAccount, error) {
	query := `
		SELECT id, platform, platform_id, handle, name, url, verified, follower_count, political_entity_id, created_at, updated_at
		FROM social_media_accounts
		WHERE id = $1
	`
	var account models.SocialMediaAccount
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.Platform, &account.PlatformID, &account.Handle,
		&account.Name, &account.URL, &account.Verified, &account.FollowerCount,
		&account.EntityID, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &account, nil
}

func (s *Store) ListAccountsByEntity(ctx context.Context, entityID uuid.UUID) ([]models.SocialMediaAccount, error) {
	query := `
		SELECT id, platform, platform_id, handle, name, url, verified, follower_count, political_entity_id, created_at, updated_at
		FROM social_media_accounts
		WHERE political_entity_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var accounts []models.SocialMediaAccount
	for rows.Next() {
		var account models.SocialMediaAccount
		if err := rows.Scan(
			&account.ID, &account.Platform, &account.PlatformID, &account.Handle,
			&account.Name, &account.URL, &account.Verified, &account.FollowerCount,
			&account.EntityID, &account.CreatedAt, &account.UpdatedAt,
		); err != nil {
			return nil, mapError(err)
		}
		accounts = append(accounts, account)
	}
	return accounts, mapError(rows.Err())
}

// UpdateAccountMetrics refreshes mutable account fields. The entity
// reference is immutable and cannot be changed here.
func (s *Store) UpdateAccountMetrics(ctx context.Context, id uuid.UUID, verified bool, followerCount int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE social_media_accounts
		SET verified = $1, follower_count = $2, updated_at = NOW()
		WHERE id = $3
	`, verified, followerCount, id)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return storeerr.ErrNotFound
	}
	return nil
}

// Relationships

func (s *Store) CreateRelationship(ctx context.Context, rel *models.EntityRelationship) error {
	if err := rel.Validate(); err != nil {
		return fmt.Errorf("%w: %s", storeerr.ErrConstraintViolation, err)
	}
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}

	query := `
		INSERT INTO entity_relationships (id, source_entity_id, target_entity_id, relationship_type, strength)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		rel.ID, rel.SourceID, rel.TargetID, rel.Kind, rel.Strength,
	).Scan(&rel.CreatedAt, &rel.UpdatedAt)
	return mapError(err)
}

func (s *Store) ListRelationships(ctx context.Context, entityID uuid.UUID, direction models.RelationshipDirection) ([]models.EntityRelationship, error) {
	var condition string
	switch direction {
	case models.DirectionOutgoing:
		condition = "source_entity_id = $1"
	case models.DirectionIncoming:
		condition = "target_entity_id = $1"
	default:
		condition = "(source_entity_id = $1 OR target_entity_id = $1)"
	}

	query := fmt.Sprintf(`
		SELECT id, source_entity_id, target_entity_id, relationship_type, strength, created_at, updated_at
		FROM entity_relationships
		WHERE %s
		ORDER BY created_at DESC, id DESC
	`, condition)

	rows, err := s.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var rels []models.EntityRelationship
	for rows.Next() {
		var rel models.EntityRelationship
		if err := rows.Scan(
			&rel.ID, &rel.SourceID, &rel.TargetID, &rel.Kind, &rel.Strength,
			&rel.CreatedAt, &rel.UpdatedAt,
		); err != nil {
			return nil, mapError(err)
		}
		rels = append(rels, rel)
	}
	return rels, mapError(rows.Err())
}

// UpdateRelationshipStrength adjusts the strength of an existing edge.
func (s *Store) UpdateRelationshipStrength(ctx context.Context, id uuid.UUID, strength float64) error {
	if strength < 0 || strength > 1 {
		return fmt.Errorf("%w: strength %f outside [0,1]", storeerr.ErrConstraintViolation, strength)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE entity_relationships
		SET strength = $1, updated_at = NOW()
		WHERE id = $2
	`, strength, id)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return storeerr.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRelationship(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entity_relationships WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return storeerr.ErrNotFound
	}
	return nil
}

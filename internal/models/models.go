// Package models holds the domain types shared across the persistence
// components: relational entities, document content records, vector
// records, and the closed value sets they reference.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType classifies a political entity.
type EntityType string

const (
	EntityPolitician   EntityType = "politician"
	EntityParty        EntityType = "party"
	EntityOrganization EntityType = "organization"
)

// Valid reports whether the entity type is a known value.
func (t EntityType) Valid() bool {
	switch t {
	case EntityPolitician, EntityParty, EntityOrganization:
		return true
	}
	return false
}

// Platform identifies a social media platform.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformOther     Platform = "other"
)

// Valid reports whether the platform is a known value.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformFacebook, PlatformInstagram,
		PlatformLinkedIn, PlatformYouTube, PlatformTikTok, PlatformOther:
		return true
	}
	return false
}

// RelationshipKind classifies a directed relationship between entities.
type RelationshipKind string

const (
	RelationshipAlly     RelationshipKind = "ally"
	RelationshipOpponent RelationshipKind = "opponent"
	RelationshipNeutral  RelationshipKind = "neutral"
)

// Valid reports whether the relationship kind is a known value.
func (k RelationshipKind) Valid() bool {
	switch k {
	case RelationshipAlly, RelationshipOpponent, RelationshipNeutral:
		return true
	}
	return false
}

// ContentKind distinguishes top-level posts from comments.
type ContentKind string

const (
	ContentPost    ContentKind = "post"
	ContentComment ContentKind = "comment"
)

// Resolution tracks whether a content record's account reference has
// been matched against the entity store.
type Resolution string

const (
	ResolutionUnresolved Resolution = "unresolved"
	ResolutionResolved   Resolution = "resolved"
	ResolutionOrphaned   Resolution = "orphaned"
)

// TimeFrame is a trending window identifier.
type TimeFrame string

const (
	TimeFrameHour  TimeFrame = "1h"
	TimeFrameSixH  TimeFrame = "6h"
	TimeFrameDay   TimeFrame = "1d"
	TimeFrameWeek  TimeFrame = "1w"
	TimeFrameMonth TimeFrame = "1m"
)

// PoliticalEntity is a politician, party, or organization tracked by
// the system. Authoritative copy lives in Postgres.
type PoliticalEntity struct {
	ID                 uuid.UUID
	Name               string
	EntityType         EntityType
	Description        string
	Country            string
	Region             string
	PoliticalAlignment string
	Metadata           map[string]string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Validate checks required fields and closed sets.
func (e *PoliticalEntity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if !e.EntityType.Valid() {
		return fmt.Errorf("unknown entity type %q", e.EntityType)
	}
	return nil
}

// EntityPatch carries partial updates for UpdateEntity. Nil fields are
// left unchanged.
type EntityPatch struct {
	Name               *string
	Description        *string
	Country            *string
	Region             *string
	PoliticalAlignment *string
	// Metadata replaces the whole map when set.
	Metadata map[string]string
}

// SocialMediaAccount links a platform presence to a political entity.
// EntityID is immutable after creation.
type SocialMediaAccount struct {
	ID            uuid.UUID
	Platform      Platform
	PlatformID    string
	Handle        string
	Name          string
	URL           string
	Verified      bool
	FollowerCount int
	EntityID      uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks required fields and closed sets.
func (a *SocialMediaAccount) Validate() error {
	if !a.Platform.Valid() {
		return fmt.Errorf("unknown platform %q", a.Platform)
	}
	if a.PlatformID == "" {
		return fmt.Errorf("platform id is required")
	}
	if a.Handle == "" {
		return fmt.Errorf("handle is required")
	}
	if a.EntityID == uuid.Nil {
		return fmt.Errorf("entity id is required")
	}
	return nil
}

// EntityRelationship is a directed edge between two entities.
// (SourceID, TargetID, Kind) is unique and SourceID != TargetID.
type EntityRelationship struct {
	ID        uuid.UUID
	SourceID  uuid.UUID
	TargetID  uuid.UUID
	Kind      RelationshipKind
	Strength  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks closed sets, the strength range, and self-relations.
func (r *EntityRelationship) Validate() error {
	if r.SourceID == uuid.Nil || r.TargetID == uuid.Nil {
		return fmt.Errorf("source and target ids are required")
	}
	if r.SourceID == r.TargetID {
		return fmt.Errorf("relationship cannot reference the same entity twice")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown relationship kind %q", r.Kind)
	}
	if r.Strength < 0 || r.Strength > 1 {
		return fmt.Errorf("strength %f outside [0,1]", r.Strength)
	}
	return nil
}

// RelationshipDirection selects which edges ListRelationships returns.
type RelationshipDirection string

const (
	DirectionOutgoing RelationshipDirection = "outgoing"
	DirectionIncoming RelationshipDirection = "incoming"
	DirectionBoth     RelationshipDirection = "both"
)

// ContentRecord is a captured social media post or comment. Authoritative
// copy lives in MongoDB, keyed internally by ID and externally by
// (Platform, ExternalID).
type ContentRecord struct {
	ID                 string            `bson:"_id,omitempty"`
	ExternalID         string            `bson:"external_id"`
	Platform           Platform          `bson:"platform"`
	AccountID          string            `bson:"account_id"`
	Kind               ContentKind       `bson:"kind"`
	ParentID           string            `bson:"parent_id,omitempty"`
	Body               string            `bson:"body"`
	Language           string            `bson:"language,omitempty"`
	Hashtags           []string          `bson:"hashtags,omitempty"`
	Mentions           []string          `bson:"mentions,omitempty"`
	Engagement         map[string]int64  `bson:"engagement,omitempty"`
	Resolution         Resolution        `bson:"resolution"`
	ResolutionAttempts int               `bson:"resolution_attempts"`
	PostedAt           time.Time         `bson:"posted_at"`
	FirstSeenAt        time.Time         `bson:"first_seen_at"`
	UpdatedAt          time.Time         `bson:"updated_at"`
	VectorChecksum     string            `bson:"vector_checksum,omitempty"`
	Extra              map[string]string `bson:"extra,omitempty"`
}

// Validate checks required fields and closed sets.
func (c *ContentRecord) Validate() error {
	if c.ExternalID == "" {
		return fmt.Errorf("external id is required")
	}
	if !c.Platform.Valid() {
		return fmt.Errorf("unknown platform %q", c.Platform)
	}
	if c.Kind != ContentPost && c.Kind != ContentComment {
		return fmt.Errorf("unknown content kind %q", c.Kind)
	}
	if c.Kind == ContentComment && c.ParentID == "" {
		return fmt.Errorf("comment requires a parent id")
	}
	return nil
}

// AlertEvent is published over the cache's pubsub channel when captured
// content mentions a watched topic.
type AlertEvent struct {
	ContentID string    `json:"content_id"`
	EntityID  string    `json:"entity_id,omitempty"`
	Topic     string    `json:"topic"`
	Platform  Platform  `json:"platform"`
	PostedAt  time.Time `json:"posted_at"`
}

// VectorRecord associates a content record with its stored embedding.
type VectorRecord struct {
	SourceID  string
	AccountID string
	EntityID  string
	PostedAt  time.Time
	Embedding []float32
	Checksum  string
	UpdatedAt time.Time
}

package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestEntityValidate(t *testing.T) {
	entity := &PoliticalEntity{Name: "Example Party", EntityType: EntityParty}
	if err := entity.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entity.EntityType = "committee"
	if err := entity.Validate(); err == nil {
		t.Fatal("expected error for unknown entity type")
	}

	entity.EntityType = EntityParty
	entity.Name = ""
	if err := entity.Validate(); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestAccountValidate(t *testing.T) {
	account := &SocialMediaAccount{
		Platform:   PlatformTwitter,
		PlatformID: "12345",
		Handle:     "example",
		EntityID:   uuid.New(),
	}
	if err := account.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	account.Platform = "myspace"
	if err := account.Validate(); err == nil {
		t.Fatal("expected error for unknown platform")
	}

	account.Platform = PlatformTwitter
	account.EntityID = uuid.Nil
	if err := account.Validate(); err == nil {
		t.Fatal("expected error for missing entity id")
	}
}

func TestRelationshipValidate(t *testing.T) {
	source := uuid.New()
	target := uuid.New()

	rel := &EntityRelationship{SourceID: source, TargetID: target, Kind: RelationshipAlly, Strength: 0.5}
	if err := rel.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rel.TargetID = source
	if err := rel.Validate(); err == nil {
		t.Fatal("expected error for self relation")
	}

	rel.TargetID = target
	rel.Strength = 1.5
	if err := rel.Validate(); err == nil {
		t.Fatal("expected error for out of range strength")
	}

	rel.Strength = 0.5
	rel.Kind = "frenemy"
	if err := rel.Validate(); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestContentValidate(t *testing.T) {
	record := &ContentRecord{
		ExternalID: "tw-1",
		Platform:   PlatformTwitter,
		Kind:       ContentPost,
	}
	if err := record.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record.Kind = ContentComment
	if err := record.Validate(); err == nil {
		t.Fatal("expected error for comment without parent")
	}

	record.ParentID = "tw-0"
	if err := record.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

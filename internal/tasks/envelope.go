// Package tasks implements the Kafka-backed task queue: typed task
// envelopes, the dispatch boundary that validates them, and the worker
// runner with bounded retry and dead lettering.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"soapbox/internal/models"
	"soapbox/internal/storeerr"
)

// TaskKind identifies the handler a task is routed to.
type TaskKind string

const (
	KindIngestContent     TaskKind = "ingestContent"
	KindEmbedContent      TaskKind = "embedContent"
	KindResolveReferences TaskKind = "resolveReferences"
	KindWarmCache         TaskKind = "warmCache"
)

// Priority selects the topic a task is produced to. Priorities are
// independent streams; there is no cross-topic preemption.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// Topic layout.
const (
	topicPrefix = "soapbox.tasks."
	TopicDLQ    = "soapbox.tasks.dlq"
)

// TopicForPriority returns the Kafka topic for a priority level.
func TopicForPriority(p Priority) string {
	return topicPrefix + string(p)
}

// Topics returns all task topics a worker subscribes to.
func Topics() []string {
	return []string{
		TopicForPriority(PriorityHigh),
		TopicForPriority(PriorityNormal),
		TopicForPriority(PriorityLow),
	}
}

// Payload is implemented by every typed task payload.
type Payload interface {
	Kind() TaskKind
	// Key returns the partition key so causally related tasks stay
	// ordered within a priority topic.
	Key() string
	Validate() error
}

// IngestContentPayload carries one captured content record.
type IngestContentPayload struct {
	Record   models.ContentRecord `json:"record"`
	EntityID string               `json:"entity_id,omitempty"`
}

func (p IngestContentPayload) Kind() TaskKind { return KindIngestContent }
func (p IngestContentPayload) Key() string {
	return string(p.Record.Platform) + ":" + p.Record.ExternalID
}
func (p IngestContentPayload) Validate() error {
	if err := p.Record.Validate(); err != nil {
		return fmt.Errorf("%w: %s", storeerr.ErrInvalidPayload, err)
	}
	return nil
}

// EmbedContentPayload carries a precomputed embedding for a stored
// record. Embedding generation happens upstream.
type EmbedContentPayload struct {
	SourceID  string    `json:"source_id"`
	AccountID string    `json:"account_id,omitempty"`
	EntityID  string    `json:"entity_id,omitempty"`
	PostedAt  time.Time `json:"posted_at,omitempty"`
	Embedding []float32 `json:"embedding"`
	Checksum  string    `json:"checksum"`
}

func (p EmbedContentPayload) Kind() TaskKind { return KindEmbedContent }
func (p EmbedContentPayload) Key() string    { return p.SourceID }
func (p EmbedContentPayload) Validate() error {
	if p.SourceID == "" {
		return fmt.Errorf("%w: source id is required", storeerr.ErrInvalidPayload)
	}
	if len(p.Embedding) == 0 {
		return fmt.Errorf("%w: embedding is required", storeerr.ErrInvalidPayload)
	}
	if p.Checksum == "" {
		return fmt.Errorf("%w: checksum is required", storeerr.ErrInvalidPayload)
	}
	return nil
}

// ResolveReferencesPayload triggers one resolver sweep.
type ResolveReferencesPayload struct {
	Limit int `json:"limit,omitempty"`
}

func (p ResolveReferencesPayload) Kind() TaskKind { return KindResolveReferences }
func (p ResolveReferencesPayload) Key() string    { return "resolve" }
func (p ResolveReferencesPayload) Validate() error {
	if p.Limit < 0 {
		return fmt.Errorf("%w: limit cannot be negative", storeerr.ErrInvalidPayload)
	}
	return nil
}

// WarmCachePayload repopulates an entity's cache keys from the
// authoritative stores.
type WarmCachePayload struct {
	EntityID   string   `json:"entity_id"`
	Timeframes []string `json:"timeframes,omitempty"`
}

func (p WarmCachePayload) Kind() TaskKind { return KindWarmCache }
func (p WarmCachePayload) Key() string    { return p.EntityID }
func (p WarmCachePayload) Validate() error {
	if p.EntityID == "" {
		return fmt.Errorf("%w: entity id is required", storeerr.ErrInvalidPayload)
	}
	return nil
}

// Envelope is the wire format for every task.
type Envelope struct {
	TaskKind   TaskKind        `json:"task_kind"`
	Payload    json.RawMessage `json:"payload"`
	Priority   Priority        `json:"priority"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// DecodeEnvelope parses and sanity-checks an envelope off the wire.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", storeerr.ErrInvalidPayload, err)
	}
	switch env.TaskKind {
	case KindIngestContent, KindEmbedContent, KindResolveReferences, KindWarmCache:
	default:
		return nil, fmt.Errorf("%w: unknown task kind %q", storeerr.ErrInvalidPayload, env.TaskKind)
	}
	if !env.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", storeerr.ErrInvalidPayload, env.Priority)
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope payload into the typed struct
// for its kind and validates it.
func DecodePayload[T Payload](env *Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: %s", storeerr.ErrInvalidPayload, err)
	}
	if payload.Kind() != env.TaskKind {
		return payload, fmt.Errorf("%w: payload kind %q does not match envelope %q",
			storeerr.ErrInvalidPayload, payload.Kind(), env.TaskKind)
	}
	if err := payload.Validate(); err != nil {
		return payload, err
	}
	return payload, nil
}

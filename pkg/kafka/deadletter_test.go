package kafka

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDeadLetterRoundTrip(t *testing.T) {
	producedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	msg := Message{
		Topic:     "soapbox.tasks.high",
		Partition: 2,
		Offset:    42,
		Timestamp: producedAt,
		Key:       []byte("post-123"),
		Value:     []byte(`{"task_kind":"embedContent"}`),
		Headers: map[string]string{
			"task_kind": "embedContent",
		},
	}

	encoded, err := NewDeadLetter(msg, errors.New("vector dimension mismatch"), "soapbox-workers").Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var letter DeadLetter
	if err := json.Unmarshal(encoded, &letter); err != nil {
		t.Fatalf("failed to unmarshal letter: %v", err)
	}

	if letter.SourceTopic != msg.Topic || letter.Partition != msg.Partition || letter.Offset != msg.Offset {
		t.Fatalf("letter topic/partition/offset mismatch")
	}
	if !letter.ProducedAt.Equal(producedAt) {
		t.Fatalf("expected produced_at %v, got %v", producedAt, letter.ProducedAt)
	}
	if letter.FailedAt.IsZero() {
		t.Fatal("expected failed_at to be set")
	}
	if letter.Reason == "" {
		t.Fatal("expected reason to be set")
	}
	if letter.WorkerGroup != "soapbox-workers" {
		t.Fatalf("expected worker group soapbox-workers, got %q", letter.WorkerGroup)
	}
	if letter.Headers["task_kind"] != "embedContent" {
		t.Fatalf("expected task_kind header, got %q", letter.Headers["task_kind"])
	}

	key, err := base64.StdEncoding.DecodeString(letter.KeyBase64)
	if err != nil {
		t.Fatalf("failed to decode key: %v", err)
	}
	if string(key) != string(msg.Key) {
		t.Fatalf("expected key %q, got %q", string(msg.Key), string(key))
	}

	task, err := base64.StdEncoding.DecodeString(letter.TaskBase64)
	if err != nil {
		t.Fatalf("failed to decode task: %v", err)
	}
	if string(task) != string(msg.Value) {
		t.Fatalf("expected task %q, got %q", string(msg.Value), string(task))
	}
}

func TestDeadLetterOmitsEmptyKey(t *testing.T) {
	msg := Message{
		Topic:     "soapbox.tasks.normal",
		Partition: 0,
		Offset:    7,
		Timestamp: time.Now(),
		Value:     []byte("not-json"),
	}

	encoded, err := NewDeadLetter(msg, errors.New("decode failure"), "soapbox-workers").Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var letter DeadLetter
	if err := json.Unmarshal(encoded, &letter); err != nil {
		t.Fatalf("failed to unmarshal letter: %v", err)
	}

	if letter.KeyBase64 != "" {
		t.Fatalf("expected empty key_base64, got %q", letter.KeyBase64)
	}
}

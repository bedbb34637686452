package kafka

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// DeadLetter wraps a task message that will never succeed with enough
// context to inspect it or replay it against its source topic.
type DeadLetter struct {
	SourceTopic string            `json:"source_topic"`
	Partition   int32             `json:"partition"`
	Offset      int64             `json:"offset"`
	ProducedAt  time.Time         `json:"produced_at"`
	KeyBase64   string            `json:"key_base64,omitempty"`
	TaskBase64  string            `json:"task_base64"`
	Headers     map[string]string `json:"headers,omitempty"`
	Reason      string            `json:"reason"`
	WorkerGroup string            `json:"worker_group"`
	FailedAt    time.Time         `json:"failed_at"`
}

// NewDeadLetter captures a failed message and its cause. The raw task
// bytes are base64 encoded so the letter survives non-JSON payloads.
func NewDeadLetter(msg Message, cause error, workerGroup string) DeadLetter {
	letter := DeadLetter{
		SourceTopic: msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		ProducedAt:  msg.Timestamp,
		TaskBase64:  base64.StdEncoding.EncodeToString(msg.Value),
		Headers:     msg.Headers,
		WorkerGroup: workerGroup,
		FailedAt:    time.Now().UTC(),
	}

	if len(msg.Key) > 0 {
		letter.KeyBase64 = base64.StdEncoding.EncodeToString(msg.Key)
	}

	if cause != nil {
		letter.Reason = cause.Error()
	}

	return letter
}

// Encode serializes the letter for the dead letter topic.
func (d DeadLetter) Encode() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal dead letter: %w", err)
	}
	return b, nil
}

package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"soapbox/pkg/logging"
)

// Producer is the transport the dispatcher and runner produce through.
// *kafka.Producer satisfies it; tests use an in-memory fake.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Dispatcher is the single write path into the task queue. Payloads are
// validated here so malformed tasks are rejected before they hit the
// broker.
type Dispatcher struct {
	producer Producer
	logger   logging.Logger
	now      func() time.Time
}

func NewDispatcher(producer Producer, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// Enqueue validates the payload, wraps it in an envelope, and produces
// it to the priority's topic.
func (d *Dispatcher) Enqueue(ctx context.Context, payload Payload, priority Priority) error {
	if !priority.Valid() {
		return fmt.Errorf("unknown priority %q", priority)
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	env := Envelope{
		TaskKind:   payload.Kind(),
		Payload:    raw,
		Priority:   priority,
		Attempt:    0,
		EnqueuedAt: d.now(),
	}
	return d.produce(ctx, &env, payload.Key())
}

func (d *Dispatcher) produce(ctx context.Context, env *Envelope, key string) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal task envelope: %w", err)
	}

	topic := TopicForPriority(env.Priority)
	headers := map[string]string{
		"task_kind": string(env.TaskKind),
		"priority":  string(env.Priority),
		"attempt":   strconv.Itoa(env.Attempt),
	}
	if err := d.producer.Produce(ctx, topic, []byte(key), value, headers); err != nil {
		return fmt.Errorf("produce task: %w", err)
	}

	d.logger.WithFields(logging.Fields{
		"task_kind": env.TaskKind,
		"priority":  env.Priority,
		"attempt":   env.Attempt,
	}).Debug("Task enqueued")
	return nil
}

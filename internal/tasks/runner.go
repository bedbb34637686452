package tasks

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"soapbox/internal/storeerr"
	"soapbox/pkg/kafka"
	"soapbox/pkg/logging"
)

// Handler processes one decoded task envelope.
type Handler func(ctx context.Context, env *Envelope) error

// RetryPolicy bounds cross-delivery retries.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Backoff returns the delay before re-enqueueing the given attempt,
// growing exponentially up to the cap.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BackoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if delay > p.BackoffMax {
		return p.BackoffMax
	}
	return delay
}

// Runner consumes task envelopes, routes them to handlers, and applies
// the retry/dead-letter policy. Delivery is at least once; handlers are
// idempotent by construction.
type Runner struct {
	handlers map[TaskKind]Handler
	producer Producer
	policy   RetryPolicy
	logger   logging.Logger
	consumer string
	sleep    func(time.Duration)

	// Optional metric hooks, set before Start.
	OnTaskDone   func(kind TaskKind, priority Priority, status string, elapsed time.Duration)
	OnDeadLetter func(kind TaskKind, reason string)
}

func NewRunner(producer Producer, policy RetryPolicy, consumer string, logger logging.Logger) *Runner {
	return &Runner{
		handlers: make(map[TaskKind]Handler),
		producer: producer,
		policy:   policy,
		logger:   logger,
		consumer: consumer,
		sleep:    time.Sleep,
	}
}

// Register installs the handler for a task kind.
func (r *Runner) Register(kind TaskKind, handler Handler) {
	r.handlers[kind] = handler
}

// HandleMessage is wired as the kafka consumer handler for every task
// topic. It returns an error only when the follow-up produce fails, so
// the offset is held back and the message replays on restart.
func (r *Runner) HandleMessage(ctx context.Context, msg kafka.Message) error {
	env, err := DecodeEnvelope(msg.Value)
	if err != nil {
		// Undecodable envelopes can never succeed; dead letter and move on.
		r.noteDeadLetter("", "undecodable")
		return r.deadLetter(ctx, msg, err)
	}

	handler, ok := r.handlers[env.TaskKind]
	if !ok {
		r.noteDeadLetter(env.TaskKind, "unhandled")
		return r.deadLetter(ctx, msg, storeerr.ErrInvalidPayload)
	}

	start := time.Now()
	handlerErr := handler(ctx, env)
	if handlerErr == nil {
		r.noteDone(env, "ok", start)
		return nil
	}

	if !storeerr.IsRetryable(handlerErr) {
		r.logger.WithError(handlerErr).WithFields(logging.Fields{
			"task_kind": env.TaskKind,
			"attempt":   env.Attempt,
		}).Error("Task failed permanently")
		r.noteDone(env, "failed", start)
		r.noteDeadLetter(env.TaskKind, "permanent")
		return r.deadLetter(ctx, msg, handlerErr)
	}

	nextAttempt := env.Attempt + 1
	if nextAttempt >= r.policy.MaxAttempts {
		r.logger.WithError(handlerErr).WithFields(logging.Fields{
			"task_kind": env.TaskKind,
			"attempt":   env.Attempt,
		}).Error("Task retry budget exhausted")
		r.noteDone(env, "failed", start)
		r.noteDeadLetter(env.TaskKind, "exhausted")
		return r.deadLetter(ctx, msg, storeerr.ErrDeliveryExhausted)
	}
	r.noteDone(env, "retried", start)

	r.logger.WithError(handlerErr).WithFields(logging.Fields{
		"task_kind": env.TaskKind,
		"attempt":   env.Attempt,
		"next":      nextAttempt,
	}).Warn("Task failed, re-enqueueing")

	r.sleep(r.policy.Backoff(env.Attempt))
	return r.reEnqueue(ctx, msg, env, nextAttempt)
}

func (r *Runner) noteDone(env *Envelope, status string, start time.Time) {
	if r.OnTaskDone != nil {
		r.OnTaskDone(env.TaskKind, env.Priority, status, time.Since(start))
	}
}

func (r *Runner) noteDeadLetter(kind TaskKind, reason string) {
	if r.OnDeadLetter != nil {
		r.OnDeadLetter(kind, reason)
	}
}

func (r *Runner) reEnqueue(ctx context.Context, msg kafka.Message, env *Envelope, attempt int) error {
	retry := *env
	retry.Attempt = attempt

	value, err := json.Marshal(&retry)
	if err != nil {
		return r.deadLetter(ctx, msg, err)
	}
	headers := map[string]string{
		"task_kind": string(retry.TaskKind),
		"priority":  string(retry.Priority),
		"attempt":   strconv.Itoa(retry.Attempt),
	}
	return r.producer.Produce(ctx, TopicForPriority(retry.Priority), msg.Key, value, headers)
}

func (r *Runner) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	payload, err := kafka.NewDeadLetter(msg, cause, r.consumer).Encode()
	if err != nil {
		r.logger.WithError(err).Error("Failed to encode dead letter, dropping message")
		return nil
	}
	return r.producer.Produce(ctx, TopicDLQ, msg.Key, payload, nil)
}

// Package messagequeue runs background jobs with at-least-once delivery.
//
// Jobs are addressed by name. Producers call Add; consumers register one
// Handler per job name with Work and then call Start. A job whose handler
// returns an error is retried until its retry limit is exhausted.
package messagequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Queue drivers.
const (
	DriverMemory = "memory"
	DriverAMQP   = "amqp"
)

var (
	// ErrClosed is returned by Add after Close.
	ErrClosed = errors.New("message queue is closed")
	// ErrQueueFull is returned when the in-memory buffer cannot take another job.
	ErrQueueFull = errors.New("message queue is full")
)

// Job is the envelope carried by every driver. ID is stable across retries
// and serves as the idempotency key of the job.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data"`
	Attempt    int             `json:"attempt"`
	RetryLimit int             `json:"retryLimit"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s job %s: %w", j.Name, j.ID, err)
	}
	return nil
}

// CanRetry reports whether another attempt is allowed after this one failed.
func (j Job) CanRetry() bool {
	return j.Attempt < j.RetryLimit
}

// JobOptions tune a single Add call.
type JobOptions struct {
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int
	// ID overrides the generated job id.
	ID string
}

// NewJob wraps data into a job envelope.
func NewJob(name string, data any, opts JobOptions) (Job, error) {
	if name == "" {
		return Job{}, errors.New("job name is required")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return Job{}, fmt.Errorf("failed to encode %s job: %w", name, err)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	retryLimit := opts.RetryLimit
	if retryLimit < 0 {
		retryLimit = 0
	}
	return Job{
		ID:         id,
		Name:       name,
		Data:       payload,
		RetryLimit: retryLimit,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Handler processes one job. Returning an error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// Queue is implemented by every driver.
type Queue interface {
	Add(ctx context.Context, name string, data any, opts JobOptions) error
	Work(name string, handler Handler)
	Start(ctx context.Context) error
	Close() error
}

// Config selects and tunes a driver.
type Config struct {
	Driver       string
	AMQPURL      string
	Exchange     string
	Workers      int
	Buffer       int
	RetryBackoff time.Duration
}

// New builds the configured driver.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryQueue(cfg.Workers, cfg.Buffer, cfg.RetryBackoff, logger), nil
	case DriverAMQP:
		return NewAMQPQueue(ctx, AMQPConfig{
			URL:          cfg.AMQPURL,
			Exchange:     cfg.Exchange,
			Workers:      cfg.Workers,
			Prefetch:     cfg.Buffer,
			RetryBackoff: cfg.RetryBackoff,
			DialAttempts: 5,
			DialDelay:    time.Second,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// backoff returns the delay before retry number attempt (1-based).
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

const maxBackoff = time.Minute

// runHandler calls h and turns a panic into an error.
func runHandler(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return h(ctx, job)
}

// Package jobs runs follow-up work after a progress write: badge evaluation
// and risk-model training. Delivery is at least once; a failed job is
// retried until it runs out of attempts, then logged.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindEvaluateBadges Kind = "evaluate_badges"
	KindTrainModel     Kind = "train_model"
)

type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	UserID     uint      `json:"user_id"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewJob(kind Kind, userID uint) Job {
	return Job{ID: uuid.NewString(), Kind: kind, UserID: userID, EnqueuedAt: time.Now()}
}

type Handler func(ctx context.Context, j Job) error

// Mux routes a job to the handler registered for its kind.
type Mux map[Kind]Handler

func (m Mux) Handle(ctx context.Context, j Job) error {
	h, ok := m[j.Kind]
	if !ok {
		return fmt.Errorf("no handler for job kind %q", j.Kind)
	}
	return h(ctx, j)
}

type Queue interface {
	Enqueue(ctx context.Context, j Job) error
	Stop()
}

// Stats tracks queue throughput.
type Stats struct {
	Enqueued     int64
	Processed    int64
	Retried      int64
	Failed       int64
	Inline       int64
	DeadLettered int64
}

const (
	DefaultWorkers     = 3
	DefaultQueueSize   = 1000
	DefaultMaxAttempts = 5
)

func retryDelay(attempts int) time.Duration {
	d := time.Duration(attempts) * 200 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

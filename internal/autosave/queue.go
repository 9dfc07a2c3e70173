package autosave

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskType is the asynq task type carrying a booking snapshot.
const TaskType = "booking:autosave"

// DefaultQueue is the asynq queue autosave tasks are enqueued on.
const DefaultQueue = "autosave"

// Enqueuer is the subset of *asynq.Client used by QueueStore.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueStore hands snapshots to the worker instead of writing them inline.
type QueueStore struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Name implements Named.
func (QueueStore) Name() string { return "queue" }

// NewTask encodes rec as an autosave task.
func NewTask(rec Record) (*asynq.Task, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskType, payload), nil
}

// Save implements Store.
func (q QueueStore) Save(ctx context.Context, rec Record) error {
	if q.Client == nil {
		return ErrStoreUnavailable
	}
	task, err := NewTask(rec)
	if err != nil {
		return err
	}
	queue := q.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	opts := []asynq.Option{asynq.Queue(queue)}
	if q.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(q.MaxRetry))
	}
	if q.Timeout > 0 {
		opts = append(opts, asynq.Timeout(q.Timeout))
	}
	_, err = q.Client.EnqueueContext(ctx, task, opts...)
	return err
}

// TaskHandler persists queued snapshots in the worker.
type TaskHandler struct {
	Store  Store
	Logger zerolog.Logger
}

// Register mounts the handler on mux.
func (h TaskHandler) Register(mux *asynq.ServeMux) {
	mux.Handle(TaskType, h)
}

// ProcessTask implements asynq.Handler. Undecodable payloads are not retried.
func (h TaskHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if h.Store == nil {
		return ErrStoreUnavailable
	}
	var rec Record
	if err := json.Unmarshal(task.Payload(), &rec); err != nil {
		h.Logger.Error().Err(err).Str("task", task.Type()).Msg("autosave_task_invalid")
		return fmt.Errorf("decode autosave task: %v: %w", err, asynq.SkipRetry)
	}
	if rec.BookingID == "" {
		return fmt.Errorf("autosave task without booking id: %w", asynq.SkipRetry)
	}
	start := time.Now()
	err := h.Store.Save(ctx, rec)
	result := "ok"
	if err != nil {
		result = "error"
		h.Logger.Warn().Err(err).Str("booking_id", rec.BookingID).Msg("autosave_task_failed")
	}
	observeSave(storeName(h.Store), result, time.Since(start))
	return err
}

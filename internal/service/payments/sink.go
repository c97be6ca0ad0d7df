package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"salonbook/backend/internal/failure"
)

const TypePaymentReconcile = "payment:reconcile"

// SignalSink accepts payment signals for reconciliation.
type SignalSink interface {
	Submit(ctx context.Context, sig Signal) error
}

// DirectSink reconciles on the caller's goroutine.
type DirectSink struct {
	Service *Service
}

func (d DirectSink) Submit(ctx context.Context, sig Signal) error {
	_, err := d.Service.Reconcile(ctx, sig)
	return err
}

func NewReconcileTask(sig Signal) (*asynq.Task, error) {
	b, err := json.Marshal(sig)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePaymentReconcile, b,
		asynq.MaxRetry(8),
		asynq.Timeout(time.Minute),
		// One pending task per reference; duplicates collapse while it waits.
		asynq.TaskID("reconcile:"+sig.Reference),
	), nil
}

// QueueSink hands signals to the asynq worker so webhooks can be
// acknowledged without waiting on the provider.
type QueueSink struct {
	client *asynq.Client
}

func NewQueueSink(client *asynq.Client) *QueueSink {
	return &QueueSink{client: client}
}

func (q *QueueSink) Submit(ctx context.Context, sig Signal) error {
	task, err := NewReconcileTask(sig)
	if err != nil {
		return failure.Internal(err)
	}
	_, err = q.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return failure.Upstream("payment queue unavailable", true, fmt.Errorf("enqueue reconcile: %w", err))
	}
	return nil
}

// HandleReconcileTask runs queued signals. Only retryable failures are handed
// back to asynq for another attempt.
func HandleReconcileTask(svc *Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var sig Signal
		if err := json.Unmarshal(task.Payload(), &sig); err != nil {
			logger.Error("invalid reconcile task payload", "err", err)
			return fmt.Errorf("decode reconcile task: %v: %w", err, asynq.SkipRetry)
		}
		_, err := svc.Reconcile(ctx, sig)
		if err == nil {
			return nil
		}
		if failure.KindOf(err) == failure.KindInternal || failure.IsRetryable(err) {
			logger.Warn("reconcile attempt failed, will retry", "reference", sig.Reference, "err", err)
			return err
		}
		logger.Error("reconcile dropped", "reference", sig.Reference, "err", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
}

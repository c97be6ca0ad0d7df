package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

const TypeEmailSend = "email:send"

func NewEmailTask(msg Message) (*asynq.Task, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailSend, b, asynq.MaxRetry(5)), nil
}

// QueueDeliverer enqueues messages for the worker instead of talking to SMTP
// on the request path.
type QueueDeliverer struct {
	client *asynq.Client
}

func NewQueueDeliverer(client *asynq.Client) *QueueDeliverer {
	return &QueueDeliverer{client: client}
}

func (q *QueueDeliverer) Deliver(ctx context.Context, msg Message) error {
	task, err := NewEmailTask(msg)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

// HandleEmailTask sends a queued message. Returning an error lets asynq retry.
func HandleEmailTask(d Deliverer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var msg Message
		if err := json.Unmarshal(task.Payload(), &msg); err != nil {
			logger.Error("invalid email task payload", "err", err)
			return fmt.Errorf("decode email task: %v: %w", err, asynq.SkipRetry)
		}
		if err := d.Deliver(ctx, msg); err != nil {
			logger.Warn("queued email delivery failed", "to", msg.To, "err", err)
			return err
		}
		return nil
	}
}

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/pkg/task"
	"smallbiznis-cashback/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Dispatcher hands committed events to the delivery pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

type taskDispatcher struct {
	enqueuer task.Enqueuer
}

type Params struct {
	fx.In
	Enqueuer task.Enqueuer
}

func NewDispatcher(p Params) Dispatcher {
	return &taskDispatcher{enqueuer: p.Enqueuer}
}

func taskType(kind Kind) (string, error) {
	switch kind {
	case KindCashbackEarned:
		return taskname.CashbackEarned, nil
	case KindCashbackRedeemed:
		return taskname.CashbackRedeemed, nil
	case KindBalanceAdjusted:
		return taskname.BalanceAdjusted, nil
	case KindTierChanged:
		return taskname.TierChanged, nil
	case KindPurchaseUnsettled:
		return taskname.PurchaseUnsettled, nil
	default:
		return "", fmt.Errorf("unknown notification kind %q", kind)
	}
}

// NewEventTask builds the asynq task for an event. Alerts go to their own
// queue so they are not starved by customer notifications.
func NewEventTask(e Event) (*asynq.Task, error) {
	typ, err := taskType(e.Kind)
	if err != nil {
		return nil, err
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	queue := taskname.QueueNotifications
	if e.Kind == KindPurchaseUnsettled {
		queue = taskname.QueueAlerts
	}
	return asynq.NewTask(typ, payload, asynq.Queue(queue), asynq.MaxRetry(5)), nil
}

func (d *taskDispatcher) Dispatch(ctx context.Context, event Event) error {
	t, err := NewEventTask(event)
	if err != nil {
		return err
	}
	_, err = d.enqueuer.Enqueue(ctx, t)
	return err
}

// Send dispatches events after a commit. Failures are logged and dropped;
// the financial change is already durable.
func Send(ctx context.Context, d Dispatcher, events ...Event) {
	if d == nil {
		return
	}
	for _, e := range events {
		if err := d.Dispatch(ctx, e); err != nil {
			logger.FromContext(ctx).Warn("failed to dispatch notification",
				zap.String("kind", e.Kind.String()),
				zap.String("tenant_id", e.TenantID),
				zap.String("customer_id", e.CustomerID),
				zap.Error(err),
			)
		}
	}
}

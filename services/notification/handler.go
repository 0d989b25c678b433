package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"smallbiznis-cashback/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var handled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cashback_notifications_handled_total",
}, []string{"kind"})

// Handler is the worker side of the notification queue. Delivery channels
// (email, push) live outside this service; the handler records the event.
type Handler struct {
	log *zap.Logger
}

func NewHandler(log *zap.Logger) *Handler {
	return &Handler{log: log}
}

func (h *Handler) HandleEventTask(ctx context.Context, t *asynq.Task) error {
	var e Event
	if err := json.Unmarshal(t.Payload(), &e); err != nil {
		h.log.Error("invalid notification payload", zap.String("task_type", t.Type()), zap.Error(err))
		return fmt.Errorf("decode %s: %w", t.Type(), asynq.SkipRetry)
	}

	fields := []zap.Field{
		zap.String("kind", e.Kind.String()),
		zap.String("tenant_id", e.TenantID),
		zap.String("customer_id", e.CustomerID),
		zap.String("transaction_id", e.TransactionID),
		zap.String("amount", FormatMinor(e.Amount)),
		zap.String("cashback", FormatMinor(e.Cashback)),
		zap.String("balance", FormatMinor(e.Balance)),
	}

	switch e.Kind {
	case KindTierChanged:
		h.log.Info("customer tier changed", append(fields, zap.String("from", e.PreviousTier), zap.String("to", e.Tier))...)
	case KindPurchaseUnsettled:
		h.log.Error("purchase confirmed without ledger effect",
			append(fields, zap.String("purchase_id", e.PurchaseID), zap.String("reason", e.Reason))...)
	default:
		h.log.Info("ledger notification", fields...)
	}

	handled.WithLabelValues(e.Kind.String()).Inc()
	return nil
}

// Register wires every notification task type to h.
func Register(mux *asynq.ServeMux, h *Handler) {
	for _, typ := range []string{
		taskname.CashbackEarned,
		taskname.CashbackRedeemed,
		taskname.BalanceAdjusted,
		taskname.TierChanged,
		taskname.PurchaseUnsettled,
	} {
		mux.HandleFunc(typ, h.HandleEventTask)
	}
}

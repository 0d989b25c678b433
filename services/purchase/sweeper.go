package purchase

import (
	"context"
	"time"

	"smallbiznis-cashback/pkg/config"
	"smallbiznis-cashback/pkg/db/option"
	"smallbiznis-cashback/pkg/logger"
	"smallbiznis-cashback/services/ledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepBatch = 100

// RetryUnsettled re-attempts the ledger effect of purchases that completed
// while their card could not be settled. It returns how many were settled.
func (s *Service) RetryUnsettled(ctx context.Context) (int, error) {
	pending, err := s.purchases.Find(ctx,
		&PurchaseTransaction{Status: StatusCompleted, Settlement: SettlementUnsettled},
		option.ApplyOperator(option.Condition{Field: "settlement_attempts", Operator: option.LT, Value: s.maxAttempts}),
		option.WithSortBy(option.QuerySortBy{SortBy: "updated_at", OrderBy: "asc"}),
		option.WithLimit(sweepBatch),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list unsettled purchases", zap.Error(err))
		return 0, wrap(ctx, "list unsettled purchases", err)
	}

	settled := 0
	for _, p := range pending {
		ok, err := s.retryOne(ctx, p.ID)
		if err != nil {
			settlementRetries.WithLabelValues("error").Inc()
			logger.FromContext(ctx).Error("settlement retry failed", zap.String("purchase_id", p.ID), zap.Error(err))
			continue
		}
		if ok {
			settled++
		}
	}
	return settled, nil
}

func (s *Service) retryOne(ctx context.Context, id string) (bool, error) {
	var (
		purchase *PurchaseTransaction
		posted   *ledger.Result
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		purchase, posted = nil, nil

		p, err := s.purchases.WithTrx(tx).FindOne(ctx,
			&PurchaseTransaction{ID: id, Settlement: SettlementUnsettled},
			option.WithLockingUpdate(),
		)
		if err != nil || p == nil {
			return err
		}
		purchase = p
		posted, err = s.settle(ctx, tx, p, string(ledger.RoleSystem), "sweeper")
		return err
	})
	if err != nil {
		return false, err
	}
	if purchase == nil {
		settlementRetries.WithLabelValues("skipped").Inc()
		return false, nil
	}

	if purchase.Settlement == SettlementUnsettled {
		settlementRetries.WithLabelValues("unsettled").Inc()
		s.alert(ctx, purchase)
		return false, nil
	}

	settlementRetries.WithLabelValues("settled").Inc()
	logger.FromContext(ctx).Info("unsettled purchase settled",
		zap.String("purchase_id", purchase.ID),
		zap.String("settlement", string(purchase.Settlement)),
	)
	s.ledger.Notify(ctx, posted)
	return true, nil
}

type Scheduler struct {
	service  *Service
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	interval := cfg.Ledger.SettlementRetryInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{service: svc, interval: interval}
}

// StartScheduler runs the settlement sweeper for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.done = make(chan struct{})
			go s.run(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if s.cancel == nil {
				return nil
			}
			s.cancel()
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	zap.L().Info("[Scheduler] started settlement sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	start := time.Now()
	n, err := s.service.RetryUnsettled(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] settlement sweep failed", zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] settlement sweep finished",
		zap.Int("settled", n),
		zap.Duration("duration", time.Since(start)),
	)
}

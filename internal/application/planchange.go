package application

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// FullRefresher is the refresh a plan change triggers.
type FullRefresher interface {
	RefreshFull(ctx context.Context) error
}

// PlanChangeNotifier reacts to plan and delinquency changes raised by the
// credential store: the catalog is refreshed for the new tier and the user
// is told.
type PlanChangeNotifier struct {
	refresher FullRefresher
	alerts    driven.AlertPresenter
	logger    *slog.Logger

	planCh           <-chan model.PlanChangeEvent
	delinquentCh     <-chan model.DelinquencyEvent
	cancelPlan       func()
	cancelDelinquent func()
}

// NewPlanChangeNotifier subscribes to events immediately so nothing published
// before Run is lost.
func NewPlanChangeNotifier(events *Events, refresher FullRefresher, alerts driven.AlertPresenter, logger *slog.Logger) *PlanChangeNotifier {
	if logger == nil {
		logger = slog.Default()
	}

	planCh, cancelPlan := events.PlanChanged.Subscribe()
	delinquentCh, cancelDelinquent := events.Delinquent.Subscribe()

	return &PlanChangeNotifier{
		refresher:        refresher,
		alerts:           alerts,
		logger:           logger,
		planCh:           planCh,
		delinquentCh:     delinquentCh,
		cancelPlan:       cancelPlan,
		cancelDelinquent: cancelDelinquent,
	}
}

// Run handles events until ctx is canceled, then unsubscribes.
func (n *PlanChangeNotifier) Run(ctx context.Context) {
	defer n.cancelPlan()
	defer n.cancelDelinquent()

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("plan change notifier stopped")
			return
		case ev, ok := <-n.planCh:
			if !ok {
				return
			}
			n.handlePlanChange(ctx, ev)
		case ev, ok := <-n.delinquentCh:
			if !ok {
				return
			}
			n.logger.Warn("account delinquent", "subject", ev.Subject, "tier", ev.Tier)
			n.alerts.PresentDelinquent(ev)
		}
	}
}

func (n *PlanChangeNotifier) handlePlanChange(ctx context.Context, ev model.PlanChangeEvent) {
	n.logger.Info("handling plan change",
		"subject", ev.Subject,
		"old_tier", ev.OldTier,
		"new_tier", ev.NewTier,
		"downgrade", ev.Downgrade(),
	)

	if err := n.refresher.RefreshFull(ctx); err != nil {
		n.logger.Warn("catalog refresh after plan change failed", "error", err)
	}
	n.alerts.PresentPlanChanged(ev)
}

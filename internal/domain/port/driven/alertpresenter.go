package driven

import "github.com/ericfisherdev/vpnsync/internal/domain/model"

// AlertPresenter is the hand-off point to whatever surface shows alerts to
// the user. Implementations must not block.
type AlertPresenter interface {
	PresentFatalUpdateRequired(message string)
	PresentPlanChanged(event model.PlanChangeEvent)
	PresentDelinquent(event model.DelinquencyEvent)
}

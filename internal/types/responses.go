package types

import "time"

// Result codes returned to the trade-execution handler. Callers above the
// engine only ever see these names, never raw exchange errors.
const (
	ResultAlreadyHasOrderID    = "already_has_order_id"
	ResultSubmittingInProgress = "submitting_in_progress"
	ResultSubmitted            = "submitted"
	ResultPlaceOrderFailed     = "place_order_failed"
	ResultFoundOnExchange      = "found_on_exchange"
	ResultNotFoundOnExchange   = "not_found_on_exchange"
	ResultEscalated            = "escalated"
	ResultError                = "error"
)

// SubmitResult is the outcome of a submit or reconcile call.
type SubmitResult struct {
	Code            string `json:"code"`
	ExecutionID     string `json:"execution_id"`
	Status          string `json:"status"`
	ClientOrderID   string `json:"client_order_id,omitempty"`
	ExchangeOrderID string `json:"exchange_order_id,omitempty"`
	Message         string `json:"message,omitempty"`
}

// SweepReport summarizes one pass over stale submissions.
type SweepReport struct {
	StartedAt  time.Time `json:"started_at"`
	Checked    int       `json:"checked"`
	Reconciled int       `json:"reconciled"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
}

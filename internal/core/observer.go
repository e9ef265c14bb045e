package core

import (
	"github.com/0xmetaHQ/merchant-demo/internal/payment"
)

// StatusUpdate is a user facing progress line
type StatusUpdate struct {
	State          PaymentState
	Message        string
	Classification Classification
}

// PaymentObserver receives rendering callbacks from the controller.
// Callbacks run on the paying goroutine and must not block.
type PaymentObserver interface {
	OnStatus(update StatusUpdate)
	OnSuccess(outcome Outcome)
	OnSettlementUpdate(record payment.SettlementRecord, attempt int)
	OnWarning(message string)
}

// NopObserver discards every callback
type NopObserver struct{}

func (NopObserver) OnStatus(StatusUpdate)                            {}
func (NopObserver) OnSuccess(Outcome)                                {}
func (NopObserver) OnSettlementUpdate(payment.SettlementRecord, int) {}
func (NopObserver) OnWarning(string)                                 {}

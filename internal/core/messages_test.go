package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/0xmetaHQ/merchant-demo/internal/payment"
)

func TestClassifyError(t *testing.T) {
	transport := errors.New("dial tcp 10.0.0.1:443: connect: connection refused")

	tests := []struct {
		name  string
		err   error
		class Classification
	}{
		{"in flight", ErrPaymentInFlight, ClassInFlight},
		{"invalidated", ErrSessionInvalidated, ClassInvalidated},
		{"config", &payment.ConfigError{Field: "price_usdc_wei", Reason: "not an integer"}, ClassConfig},
		{"rejected", &payment.SignerError{Kind: payment.ErrSignerRejected, Cause: errors.New("user denied")}, ClassSignerRejected},
		{"signer unavailable", &payment.SignerError{Kind: payment.ErrSignerUnavailable}, ClassSignerUnavailable},
		{"contract read", &payment.ContractReadError{Contract: "0x1", Method: "name", Cause: transport}, ClassContractRead},
		{"verify rejected", &payment.VerificationError{Reason: "bad nonce", StatusCode: 400}, ClassVerification},
		{"verify unreachable", &payment.VerificationError{Reason: "facilitator unreachable", Cause: transport}, ClassVerification},
		{"settle", &payment.SettlementError{Reason: "expired", StatusCode: 409}, ClassSettlement},
		{"transient", &payment.NetworkTransientError{Op: "settlement status", Cause: transport}, ClassNetwork},
		{"timeout", payment.ErrPollTimeout, ClassTimeout},
		{"cancelled", fmt.Errorf("pay: %w", context.Canceled), ClassCancelled},
		{"unknown", errors.New("boom"), ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, message := ClassifyError(tt.err)
			if class != tt.class {
				t.Errorf("Expected class %s, got %s", tt.class, class)
			}
			if message == "" {
				t.Error("Expected a user message")
			}
			if strings.Contains(message, "connection refused") {
				t.Errorf("Transport details leaked into message: %q", message)
			}
		})
	}

	if class, message := ClassifyError(nil); class != ClassNone || message != "" {
		t.Errorf("Expected empty classification for nil, got %s %q", class, message)
	}
}

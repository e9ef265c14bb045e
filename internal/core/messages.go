package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xmetaHQ/merchant-demo/internal/payment"
)

// Classification groups payment errors by what the user can do about them
type Classification string

const (
	ClassNone              Classification = ""
	ClassConfig            Classification = "config"
	ClassSignerUnavailable Classification = "signer_unavailable"
	ClassSignerRejected    Classification = "signer_rejected"
	ClassContractRead      Classification = "contract_read"
	ClassVerification      Classification = "verification"
	ClassSettlement        Classification = "settlement"
	ClassNetwork           Classification = "network"
	ClassTimeout           Classification = "timeout"
	ClassInFlight          Classification = "in_flight"
	ClassInvalidated       Classification = "invalidated"
	ClassCancelled         Classification = "cancelled"
	ClassUnknown           Classification = "unknown"
)

// ClassifyError maps err to a classification and a message safe to show the user.
// Transport error text is never included.
func ClassifyError(err error) (Classification, string) {
	if err == nil {
		return ClassNone, ""
	}

	var (
		configErr       *payment.ConfigError
		verificationErr *payment.VerificationError
		settlementErr   *payment.SettlementError
	)

	switch {
	case errors.Is(err, ErrPaymentInFlight):
		return ClassInFlight, "A payment is already in progress."
	case errors.Is(err, ErrSessionInvalidated):
		return ClassInvalidated, "Wallet changed during payment. Please reconnect and try again."
	case errors.Is(err, ErrWalletNotConnected):
		return ClassSignerUnavailable, "Connect a wallet before paying."
	case errors.As(err, &configErr):
		if configErr.Field != "" {
			return ClassConfig, fmt.Sprintf("Payment configuration is invalid (%s).", configErr.Field)
		}
		return ClassConfig, "Payment configuration is unavailable. Please try again later."
	case errors.Is(err, payment.ErrSignerRejected):
		return ClassSignerRejected, "Signature request was rejected in the wallet."
	case errors.Is(err, payment.ErrSignerUnavailable):
		return ClassSignerUnavailable, "Wallet is not available. Please reconnect your wallet."
	case errors.Is(err, payment.ErrContractRead):
		return ClassContractRead, "Could not read token details from the network. Please try again."
	case errors.As(err, &verificationErr):
		if errors.Is(err, payment.ErrFacilitatorUnavailable) || verificationErr.StatusCode == 0 {
			return ClassVerification, "Payment verification service is unreachable. Please try again."
		}
		return ClassVerification, fmt.Sprintf("Payment verification failed: %s", verificationErr.Reason)
	case errors.As(err, &settlementErr):
		if errors.Is(err, payment.ErrFacilitatorUnavailable) || settlementErr.StatusCode == 0 {
			return ClassSettlement, "Payment settlement service is unreachable. Your payment was not charged."
		}
		return ClassSettlement, fmt.Sprintf("Payment settlement failed: %s", settlementErr.Reason)
	case errors.Is(err, payment.ErrPollTimeout):
		return ClassTimeout, "Settlement is taking longer than expected. Check its status later."
	case errors.Is(err, payment.ErrNetworkTransient):
		return ClassNetwork, "Network problem while talking to the payment service."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCancelled, "Payment was cancelled."
	}

	return ClassUnknown, "Payment failed. Please try again."
}

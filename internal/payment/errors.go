package payment

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrConfig = errors.New("payment configuration unavailable")

	// Signer errors
	ErrSignerUnavailable = errors.New("wallet signer unavailable")
	ErrSignerRejected    = errors.New("signature request rejected")
	ErrContractRead      = errors.New("token metadata unavailable")

	// Facilitator errors
	ErrFacilitatorUnavailable = errors.New("payment facilitator unavailable")
	ErrVerificationFailed     = errors.New("payment verification failed")
	ErrSettlementFailed       = errors.New("payment settlement failed")
	ErrNetworkTransient       = errors.New("transient network error")

	// Settlement confirmation
	ErrPollTimeout = errors.New("settlement confirmation timed out")

	// Gated resource
	ErrResourceRejected = errors.New("payment proof rejected by resource server")

	// Wallet errors
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInvalidPassphrase = errors.New("invalid wallet passphrase")
	ErrWalletExists      = errors.New("wallet already exists")
	ErrInvalidNetwork    = errors.New("invalid payment network")
)

// ConfigError reports a missing or malformed payment configuration field.
// Field is empty when the configuration could not be retrieved at all.
type ConfigError struct {
	Field  string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrConfig, e.Reason)
	}
	return fmt.Sprintf("%v: field %q %s", ErrConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfig, e.Cause}
}

// SignerError wraps a wallet failure. Kind is ErrSignerUnavailable or ErrSignerRejected.
type SignerError struct {
	Kind  error
	Cause error
}

func (e *SignerError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
}

func (e *SignerError) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

// ContractReadError reports a failed token metadata call (name / version)
type ContractReadError struct {
	Contract string
	Method   string
	Cause    error
}

func (e *ContractReadError) Error() string {
	return fmt.Sprintf("%v: %s() on %s: %v", ErrContractRead, e.Method, e.Contract, e.Cause)
}

func (e *ContractReadError) Unwrap() []error {
	return []error{ErrContractRead, e.Cause}
}

// VerificationError is returned when the facilitator does not accept an authorization
type VerificationError struct {
	Reason     string
	StatusCode int
	Cause      error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrVerificationFailed, e.Reason)
}

func (e *VerificationError) Unwrap() []error {
	return []error{ErrVerificationFailed, e.Cause}
}

// SettlementError is returned when the facilitator refuses to settle a verification
type SettlementError struct {
	Reason     string
	StatusCode int
	Cause      error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("%v: %s", ErrSettlementFailed, e.Reason)
}

func (e *SettlementError) Unwrap() []error {
	return []error{ErrSettlementFailed, e.Cause}
}

// NetworkTransientError is an HTTP-layer failure that callers may retry
type NetworkTransientError struct {
	Op    string
	Cause error
}

func (e *NetworkTransientError) Error() string {
	return fmt.Sprintf("%v during %s: %v", ErrNetworkTransient, e.Op, e.Cause)
}

func (e *NetworkTransientError) Unwrap() []error {
	return []error{ErrNetworkTransient, e.Cause}
}

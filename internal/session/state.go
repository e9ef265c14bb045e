package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

// Session keys
const (
	KeyWalletConnected     = "wallet_connected"
	KeyWalletAddress       = "wallet_address"
	KeyPaymentInProgress   = "payment_in_progress"
	KeyCurrentNonce        = "current_nonce"
	KeyVerificationID      = "verification_id"
	KeySettlementID        = "settlement_id"
	KeyPaymentVerified     = "payment_verified"
	KeyTransactionHash     = "transaction_hash"
	KeyCurrentSignature    = "current_signature"
	KeyCurrentValidBefore  = "current_valid_before"
	KeyCurrentAuthorizedTo = "current_authorized_to"

	cachePrefix     = "cache:"
	cacheHashPrefix = "cache_hash:"
)

// StateKeys lists every key owned by State, in display order
var StateKeys = []string{
	KeyWalletConnected,
	KeyWalletAddress,
	KeyPaymentInProgress,
	KeyCurrentNonce,
	KeyVerificationID,
	KeySettlementID,
	KeyPaymentVerified,
	KeyTransactionHash,
	KeyCurrentSignature,
	KeyCurrentValidBefore,
	KeyCurrentAuthorizedTo,
}

// State is the per-session payment state
type State struct {
	WalletConnected     bool   `json:"wallet_connected" yaml:"wallet_connected"`
	WalletAddress       string `json:"wallet_address,omitempty" yaml:"wallet_address,omitempty"`
	PaymentInProgress   bool   `json:"payment_in_progress" yaml:"payment_in_progress"`
	CurrentNonce        string `json:"current_nonce,omitempty" yaml:"current_nonce,omitempty"`
	LastVerificationID  string `json:"verification_id,omitempty" yaml:"verification_id,omitempty"`
	LastSettlementID    string `json:"settlement_id,omitempty" yaml:"settlement_id,omitempty"`
	PaymentVerified     bool   `json:"payment_verified" yaml:"payment_verified"`
	LastTransactionHash string `json:"transaction_hash,omitempty" yaml:"transaction_hash,omitempty"`

	// Last completed authorization, kept so the gated resource can be fetched with a proof
	LastSignature    string `json:"current_signature,omitempty" yaml:"current_signature,omitempty"`
	LastValidBefore  string `json:"current_valid_before,omitempty" yaml:"current_valid_before,omitempty"`
	LastAuthorizedTo string `json:"current_authorized_to,omitempty" yaml:"current_authorized_to,omitempty"`
}

// ToMap renders the state as flat strings. Zero values are omitted.
func (s State) ToMap() map[string]string {
	m := make(map[string]string)
	putBool(m, KeyWalletConnected, s.WalletConnected)
	putString(m, KeyWalletAddress, s.WalletAddress)
	putBool(m, KeyPaymentInProgress, s.PaymentInProgress)
	putString(m, KeyCurrentNonce, s.CurrentNonce)
	putString(m, KeyVerificationID, s.LastVerificationID)
	putString(m, KeySettlementID, s.LastSettlementID)
	putBool(m, KeyPaymentVerified, s.PaymentVerified)
	putString(m, KeyTransactionHash, s.LastTransactionHash)
	putString(m, KeyCurrentSignature, s.LastSignature)
	putString(m, KeyCurrentValidBefore, s.LastValidBefore)
	putString(m, KeyCurrentAuthorizedTo, s.LastAuthorizedTo)
	return m
}

// FromMap is the inverse of ToMap. Unknown keys are ignored.
func FromMap(m map[string]string) State {
	return State{
		WalletConnected:     parseBool(m[KeyWalletConnected]),
		WalletAddress:       m[KeyWalletAddress],
		PaymentInProgress:   parseBool(m[KeyPaymentInProgress]),
		CurrentNonce:        m[KeyCurrentNonce],
		LastVerificationID:  m[KeyVerificationID],
		LastSettlementID:    m[KeySettlementID],
		PaymentVerified:     parseBool(m[KeyPaymentVerified]),
		LastTransactionHash: m[KeyTransactionHash],
		LastSignature:       m[KeyCurrentSignature],
		LastValidBefore:     m[KeyCurrentValidBefore],
		LastAuthorizedTo:    m[KeyCurrentAuthorizedTo],
	}
}

// ClearPayment resets everything except the wallet connection facts
func (s *State) ClearPayment() {
	*s = State{
		WalletConnected: s.WalletConnected,
		WalletAddress:   s.WalletAddress,
	}
}

// BeginAttempt marks a new payment in flight. The previous attempt's ids and
// proof go with it so they can never mix with the new attempt's.
func (s *State) BeginAttempt() {
	s.ClearPayment()
	s.PaymentInProgress = true
}

// HasProof reports whether the authorization needed for an X-PAYMENT proof is present
func (s State) HasProof() bool {
	return s.CurrentNonce != "" && s.LastSignature != "" && s.LastValidBefore != "" && s.LastAuthorizedTo != ""
}

// ConfirmSettlement records a late confirmation of the session's own
// settlement. It refuses when settlementID is another settlement or when the
// authorization behind it is gone.
func (s *State) ConfirmSettlement(settlementID, transactionHash string) bool {
	if settlementID == "" || settlementID != s.LastSettlementID || !s.HasProof() {
		return false
	}
	s.LastTransactionHash = transactionHash
	s.PaymentVerified = true
	return true
}

func putString(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func putBool(m map[string]string, key string, value bool) {
	if value {
		m[key] = strconv.FormatBool(value)
	}
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	return err == nil && b
}

// Load reads the state from store
func Load(ctx context.Context, store Store) (State, error) {
	values, err := store.All(ctx)
	if err != nil {
		return State{}, fmt.Errorf("failed to load session state: %v", err)
	}
	return FromMap(values), nil
}

// Save writes the state to store, removing keys whose values are now empty
func Save(ctx context.Context, store Store, state State) error {
	values := state.ToMap()

	var stale []string
	for _, key := range StateKeys {
		value, ok := values[key]
		if !ok {
			stale = append(stale, key)
			continue
		}
		if err := store.Set(ctx, key, value); err != nil {
			return fmt.Errorf("failed to save session key %s: %v", key, err)
		}
	}

	if len(stale) > 0 {
		if err := store.Delete(ctx, stale...); err != nil {
			return fmt.Errorf("failed to clear session keys: %v", err)
		}
	}

	return nil
}

// CacheResource stores a fetched resource body with its BLAKE3 fingerprint
func CacheResource(ctx context.Context, store Store, resource string, body []byte) error {
	if err := store.Set(ctx, cachePrefix+resource, base64.StdEncoding.EncodeToString(body)); err != nil {
		return err
	}
	return store.Set(ctx, cacheHashPrefix+resource, utils.HashBytes(body))
}

// CachedResource returns a cached body if present and intact
func CachedResource(ctx context.Context, store Store, resource string) ([]byte, bool, error) {
	encoded, ok, err := store.Get(ctx, cachePrefix+resource)
	if err != nil || !ok {
		return nil, false, err
	}

	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, nil
	}

	hash, _, err := store.Get(ctx, cacheHashPrefix+resource)
	if err != nil {
		return nil, false, err
	}
	if !utils.VerifyBytesHash(body, hash) {
		return nil, false, nil
	}

	return body, true, nil
}

// DropResourceCache removes every cached resource body
func DropResourceCache(ctx context.Context, store Store) error {
	values, err := store.All(ctx)
	if err != nil {
		return err
	}

	var keys []string
	for key := range values {
		if strings.HasPrefix(key, cachePrefix) || strings.HasPrefix(key, cacheHashPrefix) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return store.Delete(ctx, keys...)
}

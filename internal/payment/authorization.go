package payment

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

// AuthorizationValidity is how long a signed authorization may be settled
const AuthorizationValidity = 86400 * time.Second

// NonceSource produces a fresh 0x-prefixed 32 byte hex nonce
type NonceSource func() (string, error)

// NewNonce returns 32 bytes from crypto/rand as 0x followed by 64 lowercase hex characters
func NewNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %v", err)
	}
	return hexutil.Encode(buf), nil
}

// IsValidNonce reports whether nonce has the 0x + 64 lowercase hex shape
func IsValidNonce(nonce string) bool {
	hexPart, ok := strings.CutPrefix(nonce, "0x")
	if !ok || len(hexPart) != 64 {
		return false
	}
	for _, c := range hexPart {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// BuilderOption configures an AuthorizationBuilder
type BuilderOption func(*AuthorizationBuilder)

// WithClock overrides the time source used for validBefore
func WithClock(now func() time.Time) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.now = now
	}
}

// WithNonceSource overrides the nonce generator
func WithNonceSource(source NonceSource) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.nonce = source
	}
}

// AuthorizationBuilder produces fee-inclusive, replay-safe signed TransferWithAuthorization messages
type AuthorizationBuilder struct {
	now    func() time.Time
	nonce  NonceSource
	logger *utils.LogsManager
}

// NewAuthorizationBuilder creates a builder using the wall clock and crypto/rand nonces
func NewAuthorizationBuilder(logger *utils.LogsManager, opts ...BuilderOption) *AuthorizationBuilder {
	b := &AuthorizationBuilder{
		now:    time.Now,
		nonce:  NewNonce,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build reads the token's EIP-712 domain, creates a fresh authorization for the
// fee-inclusive total and asks signer to sign it on behalf of payer.
func (b *AuthorizationBuilder) Build(ctx context.Context, cfg *PaymentConfig, payer string, signer Signer) (*SignedAuthorization, error) {
	if cfg == nil {
		return nil, &ConfigError{Reason: "payment configuration not loaded"}
	}
	if signer == nil {
		return nil, &SignerError{Kind: ErrSignerUnavailable, Cause: errors.New("no wallet connected")}
	}
	if !common.IsHexAddress(payer) {
		return nil, &SignerError{Kind: ErrSignerUnavailable, Cause: fmt.Errorf("invalid payer address %q", payer)}
	}

	if err := b.ensureAccount(ctx, payer, signer); err != nil {
		return nil, err
	}

	// Token metadata is read on every attempt, never cached
	name, err := signer.ReadContract(ctx, cfg.TokenAddress, "name")
	if err != nil {
		b.logger.Warn(fmt.Sprintf("Failed to read name() from token %s: %v", cfg.TokenAddress, err), "authorization")
		return nil, &ContractReadError{Contract: cfg.TokenAddress, Method: "name", Cause: err}
	}
	version, err := signer.ReadContract(ctx, cfg.TokenAddress, "version")
	if err != nil {
		b.logger.Warn(fmt.Sprintf("Failed to read version() from token %s: %v", cfg.TokenAddress, err), "authorization")
		return nil, &ContractReadError{Contract: cfg.TokenAddress, Method: "version", Cause: err}
	}

	nonce, err := b.nonce()
	if err != nil {
		return nil, err
	}

	validBefore := b.now().Add(AuthorizationValidity).Unix()

	auth := Authorization{
		From:        common.HexToAddress(payer).Hex(),
		To:          common.HexToAddress(cfg.MerchantAddress).Hex(),
		Value:       cfg.TotalPriceUSDCWei,
		ValidAfter:  "0",
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       nonce,
	}

	domain := TokenDomain{
		Name:              name,
		Version:           version,
		ChainID:           cfg.ChainID,
		VerifyingContract: common.HexToAddress(cfg.TokenAddress).Hex(),
	}

	b.logger.Debug(fmt.Sprintf("Requesting signature: from=%s to=%s value=%s nonce=%s domain=%s/%s chain=%d",
		auth.From, auth.To, auth.Value, auth.Nonce, domain.Name, domain.Version, domain.ChainID), "authorization")

	signature, err := signer.SignTypedData(ctx, auth.From, NewTransferTypedData(domain, auth))
	if err != nil {
		kind := ErrSignerRejected
		if errors.Is(err, ErrSignerUnavailable) {
			kind = ErrSignerUnavailable
		}
		b.logger.Warn(fmt.Sprintf("Signature request failed for %s: %v", auth.From, err), "authorization")
		return nil, &SignerError{Kind: kind, Cause: err}
	}

	b.logger.Info(fmt.Sprintf("Authorization signed: from=%s value=%s nonce=%s", auth.From, auth.Value, auth.Nonce), "authorization")

	return &SignedAuthorization{
		Authorization: auth,
		Domain:        domain,
		Signature:     signature,
	}, nil
}

func (b *AuthorizationBuilder) ensureAccount(ctx context.Context, payer string, signer Signer) error {
	accounts, err := signer.Accounts(ctx)
	if err != nil {
		kind := ErrSignerUnavailable
		if errors.Is(err, ErrSignerRejected) {
			kind = ErrSignerRejected
		}
		return &SignerError{Kind: kind, Cause: err}
	}

	for _, account := range accounts {
		if strings.EqualFold(account, payer) {
			return nil
		}
	}

	return &SignerError{Kind: ErrSignerUnavailable, Cause: fmt.Errorf("account %s is not exposed by the wallet", payer)}
}

package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xmetaHQ/merchant-demo/internal/payment"
	"github.com/0xmetaHQ/merchant-demo/internal/session"
	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

var ErrNoVerifiedPayment = errors.New("no verified payment in this session")

// ResourceFetcher retrieves the gated resource with the proof of the
// session's last verified payment
type ResourceFetcher struct {
	store   session.Store
	configs ConfigProvider
	client  *payment.ResourceClient
	logger  *utils.LogsManager
}

// NewResourceFetcher creates a fetcher over the session in store
func NewResourceFetcher(store session.Store, configs ConfigProvider, client *payment.ResourceClient, logger *utils.LogsManager) *ResourceFetcher {
	return &ResourceFetcher{
		store:   store,
		configs: configs,
		client:  client,
		logger:  logger,
	}
}

// Fetch returns the resource body, from the session cache unless noCache is set.
// A rejected proof clears the verified marker and the cache so the next
// payment starts from scratch.
func (f *ResourceFetcher) Fetch(ctx context.Context, resourceURL string, noCache bool) ([]byte, error) {
	state, err := session.Load(ctx, f.store)
	if err != nil {
		return nil, err
	}
	if !state.PaymentVerified || !state.HasProof() {
		return nil, ErrNoVerifiedPayment
	}

	if !noCache {
		if body, ok, err := session.CachedResource(ctx, f.store, resourceURL); err == nil && ok {
			f.logger.Debug(fmt.Sprintf("Serving %s from session cache", resourceURL), "session")
			return body, nil
		}
	}

	cfg, err := f.configs.Get(ctx)
	if err != nil {
		return nil, err
	}

	body, err := f.client.Fetch(ctx, resourceURL, PaymentProof(state, cfg))
	if err != nil {
		if errors.Is(err, payment.ErrResourceRejected) {
			f.invalidate(ctx, state)
		}
		return nil, err
	}

	if err := session.CacheResource(ctx, f.store, resourceURL, body); err != nil {
		f.logger.Warn(fmt.Sprintf("Failed to cache resource: %v", err), "session")
	}
	return body, nil
}

func (f *ResourceFetcher) invalidate(ctx context.Context, state session.State) {
	state.PaymentVerified = false
	if err := session.Save(ctx, f.store, state); err != nil {
		f.logger.Error(fmt.Sprintf("Failed to clear verified marker: %v", err), "session")
	}
	if err := session.DropResourceCache(ctx, f.store); err != nil {
		f.logger.Warn(fmt.Sprintf("Failed to drop resource cache: %v", err), "session")
	}
}

// PaymentProof rebuilds the proof of the session's last completed authorization
func PaymentProof(state session.State, cfg *payment.PaymentConfig) payment.PaymentProof {
	signed := &payment.SignedAuthorization{
		Authorization: payment.Authorization{
			From:        state.WalletAddress,
			To:          state.LastAuthorizedTo,
			Value:       cfg.TotalPriceUSDCWei,
			ValidAfter:  "0",
			ValidBefore: state.LastValidBefore,
			Nonce:       state.CurrentNonce,
		},
		Signature: state.LastSignature,
	}

	return payment.PaymentProof{
		Payload:        payment.NewPaymentPayload(signed, cfg.Network),
		VerificationID: state.LastVerificationID,
	}
}

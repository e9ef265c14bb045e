package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmetaHQ/merchant-demo/internal/payment"
	"github.com/0xmetaHQ/merchant-demo/internal/session"
)

type gatedServer struct {
	status   atomic.Int32
	hits     atomic.Int32
	lastSeen atomic.Value
}

func newGatedServer(t *testing.T) (*gatedServer, string) {
	t.Helper()
	g := &gatedServer{}
	g.status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.hits.Add(1)
		g.lastSeen.Store(r.Header.Get("X-PAYMENT"))
		status := int(g.status.Load())
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"payment required"}`))
			return
		}
		w.Write([]byte(`{"data":"premium"}`))
	}))
	t.Cleanup(server.Close)
	return g, server.URL + "/api/premium-data"
}

func paidHarness(t *testing.T) (*testHarness, *ResourceFetcher) {
	t.Helper()
	h := newHarness(t)
	outcome, err := h.controller.Pay(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, outcome.State)

	logger := newTestLogger(t)
	fetcher := NewResourceFetcher(h.store, staticConfig{cfg: testConfig(t)},
		payment.NewResourceClient(5*time.Second, logger), logger)
	return h, fetcher
}

func TestFetchSendsSessionProofAndCaches(t *testing.T) {
	h, fetcher := paidHarness(t)
	server, resourceURL := newGatedServer(t)
	ctx := context.Background()

	body, err := fetcher.Fetch(ctx, resourceURL, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":"premium"}`, string(body))

	header, _ := server.lastSeen.Load().(string)
	payload, err := payment.DecodePaymentHeader(header)
	require.NoError(t, err)
	assert.Equal(t, h.controller.Session().CurrentNonce, payload.Payload.Authorization.Nonce)
	assert.Equal(t, "1010000", payload.Payload.Authorization.Value)

	_, err = fetcher.Fetch(ctx, resourceURL, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), server.hits.Load(), "second fetch served from cache")
}

func TestFetchRejectionInvalidatesPayment(t *testing.T) {
	h, fetcher := paidHarness(t)
	server, resourceURL := newGatedServer(t)
	ctx := context.Background()

	_, err := fetcher.Fetch(ctx, resourceURL, false)
	require.NoError(t, err)

	server.status.Store(http.StatusPaymentRequired)
	_, err = fetcher.Fetch(ctx, resourceURL, true)
	require.ErrorIs(t, err, payment.ErrResourceRejected)

	state, err := session.Load(ctx, h.store)
	require.NoError(t, err)
	assert.False(t, state.PaymentVerified)
	assert.True(t, state.WalletConnected)

	_, cached, err := session.CachedResource(ctx, h.store, resourceURL)
	require.NoError(t, err)
	assert.False(t, cached, "cache must be dropped with the proof")

	_, err = fetcher.Fetch(ctx, resourceURL, false)
	assert.ErrorIs(t, err, ErrNoVerifiedPayment)
	assert.Equal(t, int32(2), server.hits.Load())
}

func TestFetchWithoutPayment(t *testing.T) {
	logger := newTestLogger(t)
	store := session.NewMemoryStore()
	fetcher := NewResourceFetcher(store, staticConfig{cfg: testConfig(t)},
		payment.NewResourceClient(time.Second, logger), logger)

	_, err := fetcher.Fetch(context.Background(), "http://127.0.0.1:1/api/premium-data", false)
	assert.ErrorIs(t, err, ErrNoVerifiedPayment)
}

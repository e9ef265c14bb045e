package core

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/0xmetaHQ/merchant-demo/internal/payment"
	"github.com/0xmetaHQ/merchant-demo/internal/session"
	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

func newTestLogger(t *testing.T) *utils.LogsManager {
	t.Helper()
	return utils.NewLogsManagerWithOutput(utils.NewConfigManagerFromMap(nil), io.Discard)
}

func testConfig(t *testing.T) *payment.PaymentConfig {
	t.Helper()
	cfg, err := payment.Normalize(payment.RawConfig{
		"price_usdc":       "1.00",
		"price_usdc_wei":   "1000000",
		"network":          "base-sepolia",
		"chain_id":         84532,
		"merchant_address": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		"usdc_address":     "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"rpc_url":          "https://sepolia.base.org",
		"block_explorer":   "https://sepolia.basescan.org",
	})
	if err != nil {
		t.Fatalf("Failed to normalize test config: %v", err)
	}
	return cfg
}

type staticConfig struct {
	cfg *payment.PaymentConfig
	err error
}

func (s staticConfig) Get(ctx context.Context) (*payment.PaymentConfig, error) {
	return s.cfg, s.err
}

// resettableConfig counts how often the cached configuration is dropped
type resettableConfig struct {
	staticConfig
	invalidations atomic.Int32
}

func (r *resettableConfig) Invalidate() {
	r.invalidations.Add(1)
}

// walletSigner holds several keys and exposes one of them as the active account
type walletSigner struct {
	mu      sync.Mutex
	keys    map[string]*ecdsa.PrivateKey
	active  string
	chainID int64
}

func newWalletSigner(t *testing.T, accounts int) (*walletSigner, []string) {
	t.Helper()
	s := &walletSigner{keys: make(map[string]*ecdsa.PrivateKey), chainID: 84532}
	var addresses []string
	for i := 0; i < accounts; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		address := crypto.PubkeyToAddress(key.PublicKey).Hex()
		s.keys[strings.ToLower(address)] = key
		addresses = append(addresses, address)
	}
	s.active = addresses[0]
	return s, addresses
}

func (s *walletSigner) activate(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = address
}

func (s *walletSigner) Accounts(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []string{s.active}, nil
}

func (s *walletSigner) ChainID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainID, nil
}

func (s *walletSigner) SwitchChain(ctx context.Context, chainID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chainID = chainID
	return nil
}

func (s *walletSigner) ReadContract(ctx context.Context, contract string, method string) (string, error) {
	switch method {
	case "name":
		return "USDC", nil
	case "version":
		return "2", nil
	}
	return "", fmt.Errorf("unknown method %s", method)
}

func (s *walletSigner) SignTypedData(ctx context.Context, account string, typedData apitypes.TypedData) (string, error) {
	s.mu.Lock()
	key, ok := s.keys[strings.ToLower(account)]
	active := s.active
	s.mu.Unlock()
	if !ok || !strings.EqualFold(account, active) {
		return "", payment.ErrSignerUnavailable
	}
	return payment.SignEIP712TypedData(key, typedData)
}

// fakeFacilitator records calls and can hold settle open until released
type fakeFacilitator struct {
	mu           sync.Mutex
	verifyErr    error
	verifyInputs []payment.VerifyInput
	verifyHook   func()
	settleErr    error
	settleRecord payment.SettlementRecord
	settleCalls  int
	statuses     []payment.SettlementRecord
	statusCalls  int

	settleStarted chan struct{}
	settleRelease chan struct{}
}

func newFakeFacilitator() *fakeFacilitator {
	return &fakeFacilitator{
		settleRecord: payment.SettlementRecord{
			SettlementID:    "set_1",
			Status:          payment.SettlementSettled,
			TransactionHash: "0xabc123",
		},
	}
}

func (f *fakeFacilitator) block() {
	f.settleStarted = make(chan struct{}, 1)
	f.settleRelease = make(chan struct{})
}

func (f *fakeFacilitator) Verify(ctx context.Context, in payment.VerifyInput) (*payment.VerificationRecord, error) {
	f.mu.Lock()
	f.verifyInputs = append(f.verifyInputs, in)
	id := fmt.Sprintf("ver_%d", len(f.verifyInputs))
	hook, err := f.verifyHook, f.verifyErr
	f.mu.Unlock()

	// runs after the request reached the facilitator, before the answer is seen
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &payment.VerificationRecord{VerificationID: id}, nil
}

func (f *fakeFacilitator) Settle(ctx context.Context, verificationID string, destination string) (*payment.SettlementRecord, error) {
	f.mu.Lock()
	f.settleCalls++
	started, release := f.settleStarted, f.settleRelease
	record, err := f.settleRecord, f.settleErr
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (f *fakeFacilitator) SettlementStatus(ctx context.Context, settlementID string) (*payment.SettlementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return &payment.SettlementRecord{SettlementID: settlementID, Status: payment.SettlementPending}, nil
	}
	record := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return &record, nil
}

func (f *fakeFacilitator) nonces() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var nonces []string
	for _, in := range f.verifyInputs {
		nonces = append(nonces, in.Authorization.Authorization.Nonce)
	}
	return nonces
}

// recordingObserver keeps every callback for assertions
type recordingObserver struct {
	mu       sync.Mutex
	statuses []StatusUpdate
	success  []Outcome
	updates  []payment.SettlementRecord
	warnings []string
}

func (o *recordingObserver) OnStatus(update StatusUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, update)
}

func (o *recordingObserver) OnSuccess(outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.success = append(o.success, outcome)
}

func (o *recordingObserver) OnSettlementUpdate(record payment.SettlementRecord, attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, record)
}

func (o *recordingObserver) OnWarning(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warnings = append(o.warnings, message)
}

func (o *recordingObserver) states() []PaymentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	var states []PaymentState
	for _, s := range o.statuses {
		states = append(states, s.State)
	}
	return states
}

type testHarness struct {
	controller  *PaymentController
	signer      *walletSigner
	accounts    []string
	facilitator *fakeFacilitator
	store       *session.MemoryStore
	observer    *recordingObserver
}

func newHarness(t *testing.T, opts ...ControllerOption) *testHarness {
	t.Helper()
	logger := newTestLogger(t)
	signer, accounts := newWalletSigner(t, 2)
	h := &testHarness{
		signer:      signer,
		accounts:    accounts,
		facilitator: newFakeFacilitator(),
		store:       session.NewMemoryStore(),
		observer:    &recordingObserver{},
	}

	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	opts = append([]ControllerOption{
		WithObserver(h.observer),
		WithPolling(3, time.Millisecond),
		WithPollSleep(noSleep),
	}, opts...)

	h.controller = NewPaymentController(
		signer,
		staticConfig{cfg: testConfig(t)},
		payment.NewAuthorizationBuilder(logger),
		h.facilitator,
		h.store,
		logger,
		opts...,
	)

	ctx := context.Background()
	if err := h.controller.Restore(ctx); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if _, err := h.controller.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

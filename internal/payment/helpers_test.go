package payment

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

const (
	testMerchant = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	testToken    = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

func newTestLogger(t *testing.T) *utils.LogsManager {
	t.Helper()
	return utils.NewLogsManagerWithOutput(utils.NewConfigManagerFromMap(nil), io.Discard)
}

func testRawConfig() RawConfig {
	return RawConfig{
		"price_usdc":       "1.00",
		"price_usdc_wei":   "1000000",
		"network":          "base-sepolia",
		"chain_id":         "0x14a34",
		"merchant_address": testMerchant,
		"usdc_address":     testToken,
		"rpc_url":          "https://sepolia.base.org",
		"block_explorer":   "https://sepolia.basescan.org",
	}
}

func testPaymentConfig(t *testing.T) *PaymentConfig {
	t.Helper()
	cfg, err := Normalize(testRawConfig())
	if err != nil {
		t.Fatalf("Failed to normalize test config: %v", err)
	}
	return cfg
}

// fakeSigner signs with a real key but serves token metadata from memory
type fakeSigner struct {
	mu        sync.Mutex
	key       *ecdsa.PrivateKey
	accounts  []string
	chainID   int64
	name      string
	version   string
	readErr   error
	signErr   error
	reads     map[string]int
	signed    []apitypes.TypedData
	signedFor []string
}

func newFakeSigner(t *testing.T) *fakeSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return &fakeSigner{
		key:      key,
		accounts: []string{crypto.PubkeyToAddress(key.PublicKey).Hex()},
		chainID:  84532,
		name:     "USDC",
		version:  "2",
		reads:    make(map[string]int),
	}
}

func (f *fakeSigner) address() string {
	return crypto.PubkeyToAddress(f.key.PublicKey).Hex()
}

func (f *fakeSigner) Accounts(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accounts...), nil
}

func (f *fakeSigner) ChainID(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chainID, nil
}

func (f *fakeSigner) SwitchChain(ctx context.Context, chainID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainID = chainID
	return nil
}

func (f *fakeSigner) ReadContract(ctx context.Context, contract string, method string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[method]++
	if f.readErr != nil {
		return "", f.readErr
	}
	switch method {
	case "name":
		return f.name, nil
	case "version":
		return f.version, nil
	}
	return "", errors.New("execution reverted")
}

func (f *fakeSigner) SignTypedData(ctx context.Context, account string, typedData apitypes.TypedData) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return "", f.signErr
	}
	if !strings.EqualFold(account, f.address()) {
		return "", ErrSignerUnavailable
	}
	f.signed = append(f.signed, typedData)
	f.signedFor = append(f.signedFor, account)
	return SignEIP712TypedData(f.key, typedData)
}

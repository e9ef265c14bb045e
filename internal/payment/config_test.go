package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNormalizeComputesFeeInclusiveTotals(t *testing.T) {
	cfg, err := Normalize(testRawConfig())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if cfg.TotalPriceUSDCWei != "1010000" {
		t.Errorf("Expected total 1010000, got %s", cfg.TotalPriceUSDCWei)
	}
	if cfg.TotalPriceUSDC != "1.01" {
		t.Errorf("Expected display total 1.01, got %s", cfg.TotalPriceUSDC)
	}
	if cfg.FeeWei != "10000" {
		t.Errorf("Expected fee 10000, got %s", cfg.FeeWei)
	}
	if cfg.ChainID != 84532 {
		t.Errorf("Expected chain 84532, got %d", cfg.ChainID)
	}
	if cfg.NetworkID != "eip155:84532" {
		t.Errorf("Expected CAIP-2 id eip155:84532, got %s", cfg.NetworkID)
	}
}

func TestNormalizeSmallPrice(t *testing.T) {
	raw := testRawConfig()
	raw["price_usdc"] = json.Number("0.01")
	raw["price_usdc_wei"] = json.Number("10000")

	cfg, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if cfg.TotalPriceUSDCWei != "20000" {
		t.Errorf("Expected total 20000, got %s", cfg.TotalPriceUSDCWei)
	}
	if cfg.TotalPriceUSDC != "0.02" {
		t.Errorf("Expected display total 0.02, got %s", cfg.TotalPriceUSDC)
	}
}

func TestNormalizeTotalIsExactForLargeAmounts(t *testing.T) {
	raw := testRawConfig()
	// Beyond float64 integer precision
	raw["price_usdc_wei"] = "123456789012345678901"
	raw["price_usdc"] = "123456789012345.678901"

	cfg, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if cfg.TotalPriceUSDCWei != "123456789012345688901" {
		t.Errorf("Expected exact integer total, got %s", cfg.TotalPriceUSDCWei)
	}
}

func TestNormalizeDecodedJSON(t *testing.T) {
	body := []byte(`{"price_usdc":0.01,"price_usdc_wei":10000,"network":"base-sepolia","chain_id":84532,
		"merchant_address":"0x209693bc6afc0c5328ba36faf03c514ef312287c","usdc_address":"0x036cbd53842c5426634e7929541ec2318f3dcf7e",
		"rpc_url":"https://sepolia.base.org","block_explorer":"https://sepolia.basescan.org/","facilitator_base_url":"https://facilitator.example/"}`)

	raw, err := DecodeRawConfig(body)
	if err != nil {
		t.Fatalf("DecodeRawConfig failed: %v", err)
	}

	cfg, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if cfg.MerchantAddress != testMerchant {
		t.Errorf("Expected checksummed merchant %s, got %s", testMerchant, cfg.MerchantAddress)
	}
	if cfg.FacilitatorBaseURL != "https://facilitator.example" {
		t.Errorf("Expected trailing slash trimmed, got %s", cfg.FacilitatorBaseURL)
	}
	if got := cfg.ExplorerTxURL("0xabc"); got != "https://sepolia.basescan.org/tx/0xabc" {
		t.Errorf("Unexpected explorer url %s", got)
	}
}

func TestNormalizeRejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value interface{}
	}{
		{"missing price", "price_usdc", nil},
		{"non numeric price", "price_usdc", "one dollar"},
		{"missing minor units", "price_usdc_wei", nil},
		{"fractional minor units", "price_usdc_wei", "100.5"},
		{"negative minor units", "price_usdc_wei", "-1"},
		{"bad chain id", "chain_id", "0xzz"},
		{"chain id mismatch", "chain_id", "8453"},
		{"bad merchant", "merchant_address", "not-an-address"},
		{"missing token", "usdc_address", nil},
		{"missing rpc", "rpc_url", ""},
		{"bad treasury", "treasury_wallet", "0x123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := testRawConfig()
			if tt.value == nil {
				delete(raw, tt.field)
			} else {
				raw[tt.field] = tt.value
			}

			_, err := Normalize(raw)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("Expected ErrConfig, got %v", err)
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected *ConfigError, got %T", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, cfgErr.Field)
			}
		})
	}
}

type countingSource struct {
	calls atomic.Int32
	raw   RawConfig
	err   error
}

func (s *countingSource) FetchConfig(ctx context.Context) (RawConfig, error) {
	s.calls.Add(1)
	return s.raw, s.err
}

func TestConfigCacheFetchesOnce(t *testing.T) {
	source := &countingSource{raw: testRawConfig()}
	cache := NewConfigCache(source, newTestLogger(t))

	for i := 0; i < 3; i++ {
		if _, err := cache.Get(context.Background()); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
	}
	if got := source.calls.Load(); got != 1 {
		t.Errorf("Expected 1 fetch, got %d", got)
	}

	cache.Invalidate()
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := source.calls.Load(); got != 2 {
		t.Errorf("Expected refetch after invalidate, got %d fetches", got)
	}
}

func TestConfigCacheDoesNotCacheFailures(t *testing.T) {
	source := &countingSource{err: &ConfigError{Reason: "configuration endpoint unreachable"}}
	cache := NewConfigCache(source, newTestLogger(t))

	if _, err := cache.Get(context.Background()); !errors.Is(err, ErrConfig) {
		t.Fatalf("Expected ErrConfig, got %v", err)
	}

	source.err = nil
	source.raw = testRawConfig()
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Expected recovery after failure, got %v", err)
	}
}

func TestHTTPConfigSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price_usdc":"0.01","price_usdc_wei":"10000","chain_id":"0x14a34"}`))
	}))
	defer server.Close()

	source := NewHTTPConfigSource(server.URL+"/api/config", 5*time.Second, newTestLogger(t))
	raw, err := source.FetchConfig(context.Background())
	if err != nil {
		t.Fatalf("FetchConfig failed: %v", err)
	}
	if raw["price_usdc_wei"] != "10000" {
		t.Errorf("Unexpected price_usdc_wei %v", raw["price_usdc_wei"])
	}

	missing := NewHTTPConfigSource(server.URL+"/nope", 5*time.Second, newTestLogger(t))
	if _, err := missing.FetchConfig(context.Background()); !errors.Is(err, ErrConfig) {
		t.Errorf("Expected ErrConfig for HTTP 404, got %v", err)
	}
}

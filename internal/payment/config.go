package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

const (
	// FixedFeeWei is the facilitator fee in token minor units added to every authorization
	FixedFeeWei = 10000

	// TokenDecimals of USDC
	TokenDecimals = 6

	// DisplayDecimals used for human readable prices
	DisplayDecimals = 2
)

// RawConfig is the merchant payment configuration as served, before validation
type RawConfig map[string]interface{}

// DecodeRawConfig decodes a JSON object keeping numbers exact
func DecodeRawConfig(data []byte) (RawConfig, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw RawConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("payment configuration is not a JSON object")
	}
	return raw, nil
}

// PaymentConfig is the validated, fee-inclusive payment configuration.
// Monetary values are decimal or integer strings.
type PaymentConfig struct {
	Network            string `json:"network" yaml:"network"`
	NetworkID          string `json:"network_id,omitempty" yaml:"network_id,omitempty"`
	ChainID            int64  `json:"chain_id" yaml:"chain_id"`
	RPCURL             string `json:"rpc_url" yaml:"rpc_url"`
	BlockExplorer      string `json:"block_explorer" yaml:"block_explorer"`
	TokenAddress       string `json:"usdc_address" yaml:"usdc_address"`
	MerchantAddress    string `json:"merchant_address" yaml:"merchant_address"`
	TreasuryAddress    string `json:"treasury_wallet,omitempty" yaml:"treasury_wallet,omitempty"`
	FacilitatorBaseURL string `json:"facilitator_base_url,omitempty" yaml:"facilitator_base_url,omitempty"`
	PriceUSDC          string `json:"price_usdc" yaml:"price_usdc"`
	PriceUSDCWei       string `json:"price_usdc_wei" yaml:"price_usdc_wei"`
	FeeWei             string `json:"fee_wei" yaml:"fee_wei"`
	TotalPriceUSDC     string `json:"total_price_usdc" yaml:"total_price_usdc"`
	TotalPriceUSDCWei  string `json:"total_price_usdc_wei" yaml:"total_price_usdc_wei"`
}

// ExplorerTxURL returns the block explorer link for a transaction hash
func (c *PaymentConfig) ExplorerTxURL(txHash string) string {
	if c == nil || c.BlockExplorer == "" || txHash == "" {
		return ""
	}
	return strings.TrimRight(c.BlockExplorer, "/") + "/tx/" + txHash
}

// Normalize validates a raw configuration and computes the fee-inclusive totals
func Normalize(raw RawConfig) (*PaymentConfig, error) {
	if raw == nil {
		return nil, &ConfigError{Reason: "empty configuration"}
	}

	priceStr, err := requiredNumber(raw, "price_usdc")
	if err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, &ConfigError{Field: "price_usdc", Reason: "is not numeric", Cause: err}
	}
	if price.IsNegative() {
		return nil, &ConfigError{Field: "price_usdc", Reason: "is negative"}
	}

	weiStr, err := requiredNumber(raw, "price_usdc_wei")
	if err != nil {
		return nil, err
	}
	priceWei, err := parseMinorUnits(weiStr)
	if err != nil {
		return nil, &ConfigError{Field: "price_usdc_wei", Reason: err.Error()}
	}

	network, err := requiredString(raw, "network")
	if err != nil {
		return nil, err
	}

	chainStr, err := requiredNumber(raw, "chain_id")
	if err != nil {
		return nil, err
	}
	chainID, ok := math.ParseUint64(chainStr)
	if !ok || chainID == 0 || chainID > 1<<63-1 {
		return nil, &ConfigError{Field: "chain_id", Reason: fmt.Sprintf("is not a valid chain id (%s)", chainStr)}
	}

	mapper := NewNetworkMapper()
	networkID := ""
	if known, ok := mapper.ChainID(network); ok {
		if known != int64(chainID) {
			return nil, &ConfigError{Field: "chain_id", Reason: fmt.Sprintf("%d does not match network %s (%d)", chainID, network, known)}
		}
		networkID, _ = mapper.ToCaip2(network)
	}

	merchant, err := requiredAddress(raw, "merchant_address")
	if err != nil {
		return nil, err
	}
	token, err := requiredAddress(raw, "usdc_address")
	if err != nil {
		return nil, err
	}

	rpcURL, err := requiredString(raw, "rpc_url")
	if err != nil {
		return nil, err
	}
	explorer, err := requiredString(raw, "block_explorer")
	if err != nil {
		return nil, err
	}

	treasury := ""
	if value, ok := optionalString(raw, "treasury_wallet"); ok {
		if !common.IsHexAddress(value) {
			return nil, &ConfigError{Field: "treasury_wallet", Reason: "is not a hex address"}
		}
		treasury = common.HexToAddress(value).Hex()
	}
	facilitator, _ := optionalString(raw, "facilitator_base_url")

	fee := big.NewInt(FixedFeeWei)
	totalWei := new(big.Int).Add(priceWei, fee)
	totalPrice := price.Add(decimal.New(FixedFeeWei, -TokenDecimals)).Round(DisplayDecimals)

	return &PaymentConfig{
		Network:            network,
		NetworkID:          networkID,
		ChainID:            int64(chainID),
		RPCURL:             rpcURL,
		BlockExplorer:      explorer,
		TokenAddress:       token,
		MerchantAddress:    merchant,
		TreasuryAddress:    treasury,
		FacilitatorBaseURL: strings.TrimRight(facilitator, "/"),
		PriceUSDC:          priceStr,
		PriceUSDCWei:       priceWei.String(),
		FeeWei:             fee.String(),
		TotalPriceUSDC:     totalPrice.StringFixed(DisplayDecimals),
		TotalPriceUSDCWei:  totalWei.String(),
	}, nil
}

// parseMinorUnits accepts "10000", "10000.0" or 1e4 style values, but only exact non-negative integers
func parseMinorUnits(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("is not numeric")
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("is negative")
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("is not a whole number of minor units")
	}
	return d.BigInt(), nil
}

func rawValue(raw RawConfig, key string) (interface{}, bool) {
	value, ok := raw[key]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

func requiredString(raw RawConfig, key string) (string, error) {
	value, ok := optionalString(raw, key)
	if !ok {
		return "", &ConfigError{Field: key, Reason: "is missing"}
	}
	return value, nil
}

func optionalString(raw RawConfig, key string) (string, bool) {
	value, ok := rawValue(raw, key)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// requiredNumber returns the textual form of a numeric field served as a number or a string
func requiredNumber(raw RawConfig, key string) (string, error) {
	value, ok := rawValue(raw, key)
	if !ok {
		return "", &ConfigError{Field: key, Reason: "is missing"}
	}

	var s string
	switch v := value.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	default:
		return "", &ConfigError{Field: key, Reason: fmt.Sprintf("has unsupported type %T", value)}
	}

	if s == "" {
		return "", &ConfigError{Field: key, Reason: "is missing"}
	}
	return s, nil
}

func requiredAddress(raw RawConfig, key string) (string, error) {
	value, err := requiredString(raw, key)
	if err != nil {
		return "", err
	}
	if !common.IsHexAddress(value) {
		return "", &ConfigError{Field: key, Reason: "is not a hex address"}
	}
	return common.HexToAddress(value).Hex(), nil
}

// ConfigSource retrieves the merchant payment configuration
type ConfigSource interface {
	FetchConfig(ctx context.Context) (RawConfig, error)
}

// HTTPConfigSource reads the configuration from the merchant's /api/config endpoint
type HTTPConfigSource struct {
	url        string
	httpClient *http.Client
	logger     *utils.LogsManager
}

// NewHTTPConfigSource creates a config source for url
func NewHTTPConfigSource(url string, timeout time.Duration, logger *utils.LogsManager) *HTTPConfigSource {
	return &HTTPConfigSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchConfig performs a single GET of the configuration
func (s *HTTPConfigSource) FetchConfig(ctx context.Context) (RawConfig, error) {
	if s.url == "" {
		return nil, &ConfigError{Reason: "merchant_config_url is not configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &ConfigError{Reason: "invalid configuration url", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Failed to fetch payment configuration from %s: %v", s.url, err), "payment_config")
		return nil, &ConfigError{Reason: "configuration endpoint unreachable", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ConfigError{Reason: "failed to read configuration", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn(fmt.Sprintf("Payment configuration endpoint returned HTTP %d", resp.StatusCode), "payment_config")
		return nil, &ConfigError{Reason: fmt.Sprintf("configuration endpoint returned HTTP %d", resp.StatusCode)}
	}

	raw, err := DecodeRawConfig(body)
	if err != nil {
		return nil, &ConfigError{Reason: "configuration is not valid JSON", Cause: err}
	}

	return raw, nil
}

// ConfigCache holds the normalized configuration for the session, fetching it lazily
type ConfigCache struct {
	source ConfigSource
	logger *utils.LogsManager
	mu     sync.Mutex
	config *PaymentConfig
}

// NewConfigCache creates an empty cache over source
func NewConfigCache(source ConfigSource, logger *utils.LogsManager) *ConfigCache {
	return &ConfigCache{
		source: source,
		logger: logger,
	}
}

// Get returns the cached configuration, fetching and normalizing it if absent
func (c *ConfigCache) Get(ctx context.Context) (*PaymentConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config != nil {
		return c.config, nil
	}

	raw, err := c.source.FetchConfig(ctx)
	if err != nil {
		return nil, err
	}

	config, err := Normalize(raw)
	if err != nil {
		c.logger.Error(fmt.Sprintf("Invalid payment configuration: %v", err), "payment_config")
		return nil, err
	}

	c.logger.Info(fmt.Sprintf("Payment configuration loaded: network=%s chain=%d price=%s total=%s (%s minor units)",
		config.Network, config.ChainID, config.PriceUSDC, config.TotalPriceUSDC, config.TotalPriceUSDCWei), "payment_config")

	c.config = config
	return config, nil
}

// Invalidate drops the cached configuration so the next Get refetches it
func (c *ConfigCache) Invalidate() {
	c.mu.Lock()
	c.config = nil
	c.mu.Unlock()
}

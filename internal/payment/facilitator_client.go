package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

const (
	userAgent = "x402-pay/1.0"

	// VerifySource identifies this client in verify metadata
	VerifySource = "x402_merchant_demo"
)

// FacilitatorClient talks to the x402 facilitator. Calls are made exactly once; callers decide on retries.
type FacilitatorClient struct {
	baseURL        string
	verifyEndpoint string
	settleEndpoint string
	statusEndpoint string
	httpClient     *http.Client
	logger         *utils.LogsManager
}

// DefaultHTTPTimeoutSeconds bounds every call to the merchant, the facilitator and the gated resource
const DefaultHTTPTimeoutSeconds = 30

// FacilitatorTimeout reads facilitator_timeout_seconds (1-300)
func FacilitatorTimeout(config *utils.ConfigManager) time.Duration {
	return time.Duration(config.GetConfigInt("facilitator_timeout_seconds", DefaultHTTPTimeoutSeconds, 1, 300)) * time.Second
}

// NewFacilitatorClient creates a facilitator client for baseURL
func NewFacilitatorClient(baseURL string, config *utils.ConfigManager, logger *utils.LogsManager) *FacilitatorClient {
	client := &FacilitatorClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		verifyEndpoint: config.GetConfigWithDefault("facilitator_verify_endpoint", "/v1/verify"),
		settleEndpoint: config.GetConfigWithDefault("facilitator_settle_endpoint", "/v1/settle"),
		statusEndpoint: config.GetConfigWithDefault("facilitator_status_endpoint", "/v1/settlements"),
		httpClient: &http.Client{
			Timeout: FacilitatorTimeout(config),
		},
		logger: logger,
	}

	logger.Info(fmt.Sprintf("Facilitator client initialized: url=%s, verify=%s, settle=%s, status=%s",
		client.baseURL, client.verifyEndpoint, client.settleEndpoint, client.statusEndpoint), "facilitator")

	return client
}

// BaseURL returns the facilitator base URL in use
func (c *FacilitatorClient) BaseURL() string {
	return c.baseURL
}

// VerifyInput is everything needed to build a verify request
type VerifyInput struct {
	Authorization *SignedAuthorization
	Config        *PaymentConfig
	Resource      string
}

// NewPaymentPayload wraps a signed authorization in the x402 exact-scheme envelope
func NewPaymentPayload(signed *SignedAuthorization, network string) PaymentPayload {
	return PaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemeExact,
		Network:     network,
		Payload: ExactPayload{
			Authorization: signed.Authorization,
			Signature:     signed.Signature,
		},
	}
}

// BuildVerifyRequest assembles the verify body. The expected amount is the merchant's base price;
// the authorization itself carries the fee-inclusive total.
func BuildVerifyRequest(in VerifyInput) (*VerifyRequest, error) {
	if in.Authorization == nil || in.Config == nil {
		return nil, fmt.Errorf("verify input requires an authorization and a configuration")
	}

	auth := in.Authorization.Authorization
	total, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("authorization value %q is not an integer", auth.Value)
	}
	fee, _ := new(big.Int).SetString(in.Config.FeeWei, 10)
	if fee == nil {
		fee = big.NewInt(FixedFeeWei)
	}
	merchantAmount := new(big.Int).Sub(total, fee)

	return &VerifyRequest{
		TransactionHash: strings.ToLower(auth.Nonce),
		Chain:           in.Config.Network,
		SellerAddress:   strings.ToLower(in.Config.MerchantAddress),
		ExpectedAmount:  in.Config.PriceUSDCWei,
		ExpectedToken:   strings.ToLower(in.Config.TokenAddress),
		Metadata: VerifyMetadata{
			Source:         VerifySource,
			Resource:       in.Resource,
			PaymentPayload: NewPaymentPayload(in.Authorization, in.Config.Network),
			Payer:          auth.From,
			PaymentBreakdown: PaymentBreakdown{
				MerchantAmount:  merchantAmount.String(),
				FeeAmount:       fee.String(),
				TotalAuthorized: total.String(),
			},
		},
	}, nil
}

// Verify submits a signed authorization for verification
func (c *FacilitatorClient) Verify(ctx context.Context, in VerifyInput) (*VerificationRecord, error) {
	if c.baseURL == "" {
		return nil, &VerificationError{Reason: "facilitator is not configured", Cause: ErrFacilitatorUnavailable}
	}

	body, err := BuildVerifyRequest(in)
	if err != nil {
		return nil, &VerificationError{Reason: err.Error()}
	}

	status, respBody, err := c.sendRequest(ctx, http.MethodPost, c.baseURL+c.verifyEndpoint, body)
	if err != nil {
		return nil, &VerificationError{Reason: "facilitator unreachable", Cause: err}
	}

	if status < 200 || status >= 300 {
		reason := extractReason(respBody, status)
		c.logger.Warn(fmt.Sprintf("Verification rejected (HTTP %d): %s", status, reason), "facilitator")
		return nil, &VerificationError{Reason: reason, StatusCode: status}
	}

	var resp VerifyResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &VerificationError{Reason: "malformed verify response", StatusCode: status, Cause: err}
	}

	id := resp.VerificationIDValue()
	if id == "" {
		return nil, &VerificationError{Reason: "verify response carried no verification id", StatusCode: status}
	}

	c.logger.Info(fmt.Sprintf("Payment verified: verification_id=%s nonce=%s", id, body.TransactionHash), "facilitator")
	return &VerificationRecord{VerificationID: id}, nil
}

// Settle asks the facilitator to settle a verified authorization to destination
func (c *FacilitatorClient) Settle(ctx context.Context, verificationID string, destination string) (*SettlementRecord, error) {
	if c.baseURL == "" {
		return nil, &SettlementError{Reason: "facilitator is not configured", Cause: ErrFacilitatorUnavailable}
	}

	req := &SettleRequest{
		VerificationID:     verificationID,
		DestinationAddress: destination,
	}

	status, respBody, err := c.sendRequest(ctx, http.MethodPost, c.baseURL+c.settleEndpoint, req)
	if err != nil {
		return nil, &SettlementError{Reason: "facilitator unreachable", Cause: err}
	}

	if status < 200 || status >= 300 {
		reason := extractReason(respBody, status)
		c.logger.Warn(fmt.Sprintf("Settlement rejected (HTTP %d): %s", status, reason), "facilitator")
		return nil, &SettlementError{Reason: reason, StatusCode: status}
	}

	var resp SettleResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &SettlementError{Reason: "malformed settle response", StatusCode: status, Cause: err}
	}
	if resp.SettlementID == "" {
		return nil, &SettlementError{Reason: "settle response carried no settlement id", StatusCode: status}
	}

	record := &SettlementRecord{
		SettlementID:    resp.SettlementID,
		Status:          normalizeStatus(resp.Status),
		TransactionHash: firstNonEmpty(resp.SettlementTxHash, resp.TransactionHash),
	}

	c.logger.Info(fmt.Sprintf("Settlement submitted: settlement_id=%s status=%s tx=%s",
		record.SettlementID, record.Status, record.TransactionHash), "facilitator")
	return record, nil
}

// SettlementStatus fetches the current status of a settlement
func (c *FacilitatorClient) SettlementStatus(ctx context.Context, settlementID string) (*SettlementRecord, error) {
	if c.baseURL == "" {
		return nil, &NetworkTransientError{Op: "settlement status", Cause: ErrFacilitatorUnavailable}
	}

	endpoint := fmt.Sprintf("%s%s/%s", c.baseURL, strings.TrimRight(c.statusEndpoint, "/"), url.PathEscape(settlementID))
	status, respBody, err := c.sendRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &NetworkTransientError{Op: "settlement status", Cause: err}
	}

	if status < 200 || status >= 300 {
		return nil, &NetworkTransientError{Op: "settlement status", Cause: fmt.Errorf("HTTP %d: %s", status, extractReason(respBody, status))}
	}

	var resp SettlementStatusResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &NetworkTransientError{Op: "settlement status", Cause: fmt.Errorf("malformed response: %v", err)}
	}

	return &SettlementRecord{
		SettlementID:    firstNonEmpty(resp.SettlementID, settlementID),
		Status:          normalizeStatus(resp.Status),
		TransactionHash: resp.TransactionHash,
	}, nil
}

// sendRequest performs one HTTP exchange and returns the status code and body
func (c *FacilitatorClient) sendRequest(ctx context.Context, method string, endpoint string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(jsonData)
		c.logger.Debug(fmt.Sprintf("Facilitator request body: %s", string(jsonData)), "facilitator")
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %v", err)
	}

	requestID := uuid.NewString()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)

	c.logger.Debug(fmt.Sprintf("Facilitator request %s: %s %s", requestID, method, endpoint), "facilitator")
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error(fmt.Sprintf("Facilitator request %s failed: %v (ctx.Err=%v)", requestID, err, ctx.Err()), "facilitator")
		return 0, nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %v", err)
	}

	c.logger.Debug(fmt.Sprintf("Facilitator response %s: HTTP %d, Body: %s", requestID, httpResp.StatusCode, string(respBody)), "facilitator")

	if httpResp.StatusCode >= 500 {
		c.logger.Warn(fmt.Sprintf("Facilitator server error (HTTP %d)", httpResp.StatusCode), "facilitator")
	}

	return httpResp.StatusCode, respBody, nil
}

// extractReason pulls a human readable reason out of an error body
func extractReason(body []byte, status int) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "error", "message", "reason"} {
			if reason := reasonText(payload[key]); reason != "" {
				return reason
			}
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

func reasonText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]interface{}:
		for _, key := range []string{"error", "message", "detail", "reason"} {
			if reason := reasonText(v[key]); reason != "" {
				return reason
			}
		}
	case []interface{}:
		// FastAPI validation errors: [{"msg": ...}]
		for _, item := range v {
			if entry, ok := item.(map[string]interface{}); ok {
				if msg, ok := entry["msg"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}
	return ""
}

func normalizeStatus(status string) SettlementStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "settled", "confirmed", "success", "completed":
		return SettlementSettled
	case "failed", "error", "reverted":
		return SettlementFailed
	default:
		return SettlementPending
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

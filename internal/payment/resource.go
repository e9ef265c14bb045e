package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

// PaymentProof is what the gated resource needs to accept a completed payment
type PaymentProof struct {
	Payload        PaymentPayload
	VerificationID string
}

// Header returns the base64 JSON X-PAYMENT value
func (p PaymentProof) Header() (string, error) {
	data, err := json.Marshal(p.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment payload: %v", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader parses an X-PAYMENT header value
func DecodePaymentHeader(header string) (PaymentPayload, error) {
	var payload PaymentPayload
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return payload, fmt.Errorf("payment header is not base64: %v", err)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("payment header is not a payment payload: %v", err)
	}
	if payload.Scheme != SchemeExact {
		return payload, fmt.Errorf("unsupported payment scheme %q", payload.Scheme)
	}
	return payload, nil
}

// HashHeader returns the X-Payment-Hash value "<verification id>:<nonce>"
func (p PaymentProof) HashHeader() string {
	return p.VerificationID + ":" + p.Payload.Payload.Authorization.Nonce
}

// ResourceClient retrieves the paid resource using a payment proof
type ResourceClient struct {
	httpClient *http.Client
	logger     *utils.LogsManager
}

// NewResourceClient creates a gated resource client
func NewResourceClient(timeout time.Duration, logger *utils.LogsManager) *ResourceClient {
	return &ResourceClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Fetch GETs resourceURL with the proof headers. A non-2xx answer means the proof is no longer accepted.
func (c *ResourceClient) Fetch(ctx context.Context, resourceURL string, proof PaymentProof) ([]byte, error) {
	header, err := proof.Header()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("X-PAYMENT", header)
	req.Header.Set("X-Payment-Hash", proof.HashHeader())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkTransientError{Op: "resource fetch", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &NetworkTransientError{Op: "resource fetch", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn(fmt.Sprintf("Resource %s rejected payment proof (HTTP %d)", resourceURL, resp.StatusCode), "resource")
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrResourceRejected, resp.StatusCode, extractReason(body, resp.StatusCode))
	}

	c.logger.Info(fmt.Sprintf("Resource %s delivered %d bytes", resourceURL, len(body)), "resource")
	return body, nil
}

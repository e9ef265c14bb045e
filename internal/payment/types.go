package payment

// SchemeExact is the only x402 scheme this client pays with
const SchemeExact = "exact"

// X402Version is the protocol version embedded in payment payloads
const X402Version = 1

// SettlementStatus as reported by the facilitator
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementSettled SettlementStatus = "settled"
	SettlementFailed  SettlementStatus = "failed"
)

// Authorization is the EIP-3009 TransferWithAuthorization message.
// Every numeric field is a decimal string.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// TokenDomain is the EIP-712 domain of the token contract
type TokenDomain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// SignedAuthorization is an authorization together with the payer's signature
type SignedAuthorization struct {
	Authorization Authorization `json:"authorization"`
	Domain        TokenDomain   `json:"domain"`
	Signature     string        `json:"signature"`
}

// VerificationRecord is produced by verify and consumed by settle
type VerificationRecord struct {
	VerificationID string `json:"verification_id"`
}

// SettlementRecord is the facilitator's view of a settlement
type SettlementRecord struct {
	SettlementID    string           `json:"settlement_id"`
	Status          SettlementStatus `json:"status"`
	TransactionHash string           `json:"transaction_hash,omitempty"`
}

// PaymentPayload is the x402 envelope carried in verify metadata and the X-PAYMENT header
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// ExactPayload wraps the authorization and signature for the exact scheme
type ExactPayload struct {
	Authorization Authorization `json:"authorization"`
	Signature     string        `json:"signature"`
}

// PaymentBreakdown is the human-auditable split of the authorized amount
type PaymentBreakdown struct {
	MerchantAmount  string `json:"merchant_amount"`
	FeeAmount       string `json:"fee_amount"`
	TotalAuthorized string `json:"total_authorized"`
}

// VerifyRequest is the body POSTed to the facilitator verify endpoint
type VerifyRequest struct {
	TransactionHash string         `json:"transaction_hash"`
	Chain           string         `json:"chain"`
	SellerAddress   string         `json:"seller_address"`
	ExpectedAmount  string         `json:"expected_amount"`
	ExpectedToken   string         `json:"expected_token"`
	Metadata        VerifyMetadata `json:"metadata"`
}

// VerifyMetadata carries the signed payload and the amount breakdown
type VerifyMetadata struct {
	Source           string           `json:"source"`
	Resource         string           `json:"resource"`
	PaymentPayload   PaymentPayload   `json:"paymentPayload"`
	Payer            string           `json:"payer"`
	PaymentBreakdown PaymentBreakdown `json:"payment_breakdown"`
}

// VerifyResponse from the verify endpoint. Older facilitators use id / verificationId.
type VerifyResponse struct {
	VerificationID      string `json:"verification_id"`
	ID                  string `json:"id"`
	VerificationIDCamel string `json:"verificationId"`
}

// VerificationIDValue returns the first non-empty verification id field
func (r *VerifyResponse) VerificationIDValue() string {
	for _, id := range []string{r.VerificationID, r.ID, r.VerificationIDCamel} {
		if id != "" {
			return id
		}
	}
	return ""
}

// SettleRequest is the body POSTed to the facilitator settle endpoint
type SettleRequest struct {
	VerificationID     string `json:"verification_id"`
	DestinationAddress string `json:"destination_address"`
}

// SettleResponse from the settle endpoint
type SettleResponse struct {
	SettlementID     string `json:"settlement_id"`
	Status           string `json:"status"`
	SettlementTxHash string `json:"settlement_tx_hash,omitempty"`
	TransactionHash  string `json:"transaction_hash,omitempty"`
}

// SettlementStatusResponse from the settlement status endpoint
type SettlementStatusResponse struct {
	SettlementID    string      `json:"settlement_id,omitempty"`
	Status          string      `json:"status"`
	TransactionHash string      `json:"transaction_hash,omitempty"`
	Details         interface{} `json:"details,omitempty"`
}

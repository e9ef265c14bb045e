package payment

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// PrimaryTypeTransferWithAuthorization is the EIP-3009 typed data name
const PrimaryTypeTransferWithAuthorization = "TransferWithAuthorization"

var transferWithAuthorizationTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryTypeTransferWithAuthorization: []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// NewTransferTypedData builds the EIP-712 typed data for a TransferWithAuthorization message
func NewTransferTypedData(domain TokenDomain, auth Authorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: PrimaryTypeTransferWithAuthorization,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           math.NewHexOrDecimal256(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}
}

// HashEIP712TypedData computes keccak256("\x19\x01" || domainSeparator || hashStruct(message))
func HashEIP712TypedData(typedData apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %v", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %v", err)
	}

	rawData := make([]byte, 0, 2+len(domainSeparator)+len(typedDataHash))
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, typedDataHash...)

	return crypto.Keccak256Hash(rawData), nil
}

// SignEIP712TypedData signs typed data with a local key and returns a 65 byte signature with v in {27, 28}
func SignEIP712TypedData(privateKey *ecdsa.PrivateKey, typedData apitypes.TypedData) (string, error) {
	hash, err := HashEIP712TypedData(typedData)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(hash.Bytes(), privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign typed data: %v", err)
	}

	// Ethereum signatures use v = 27/28
	signature[64] += 27

	return hexutil.Encode(signature), nil
}

// RecoverEIP712Signer returns the address that produced signature over typedData
func RecoverEIP712Signer(typedData apitypes.TypedData, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %v", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(sig))
	}

	hash, err := HashEIP712TypedData(typedData)
	if err != nil {
		return common.Address{}, err
	}

	// Copy before normalizing v back to {0, 1}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %v", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

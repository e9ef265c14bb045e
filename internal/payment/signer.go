package payment

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

// Signer is the wallet capability used to authorize payments
type Signer interface {
	// Accounts returns the addresses the wallet currently exposes
	Accounts(ctx context.Context) ([]string, error)
	// ChainID returns the wallet's active chain
	ChainID(ctx context.Context) (int64, error)
	// SwitchChain asks the wallet to change its active chain
	SwitchChain(ctx context.Context, chainID int64) error
	// ReadContract performs a read-only call of a string returning view method
	ReadContract(ctx context.Context, contract string, method string) (string, error)
	// SignTypedData returns a hex encoded EIP-712 signature
	SignTypedData(ctx context.Context, account string, typedData apitypes.TypedData) (string, error)
}

const tokenMetadataABI = `[
	{"inputs":[],"name":"name","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"version","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var tokenMetadata = mustParseABI(tokenMetadataABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid token metadata ABI: %v", err))
	}
	return parsed
}

// KeySigner signs with a locally held ECDSA key and reads contracts over JSON-RPC
type KeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	caller     ethereum.ContractCaller
	logger     *utils.LogsManager

	mu      sync.RWMutex
	chainID int64
}

// NewKeySigner creates a signer for privateKey. caller may be nil when no contract reads are needed.
func NewKeySigner(privateKey *ecdsa.PrivateKey, caller ethereum.ContractCaller, chainID int64, logger *utils.LogsManager) *KeySigner {
	return &KeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		caller:     caller,
		logger:     logger,
		chainID:    chainID,
	}
}

// DialKeySigner connects to rpcURL and creates a signer bound to the node's chain
func DialKeySigner(ctx context.Context, privateKey *ecdsa.PrivateKey, rpcURL string, logger *utils.LogsManager) (*KeySigner, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, &SignerError{Kind: ErrSignerUnavailable, Cause: fmt.Errorf("failed to connect to RPC %s: %v", rpcURL, err)}
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, &SignerError{Kind: ErrSignerUnavailable, Cause: fmt.Errorf("failed to query chain id: %v", err)}
	}

	signer := NewKeySigner(privateKey, client, chainID.Int64(), logger)
	logger.Info(fmt.Sprintf("Key signer %s connected to %s (chain %d)", signer.address.Hex(), rpcURL, chainID.Int64()), "wallet")

	return signer, client.Close, nil
}

// Address returns the signer's account
func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) Accounts(ctx context.Context) ([]string, error) {
	return []string{s.address.Hex()}, nil
}

func (s *KeySigner) ChainID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID, nil
}

func (s *KeySigner) SwitchChain(ctx context.Context, chainID int64) error {
	if chainID <= 0 {
		return fmt.Errorf("%w: invalid chain id %d", ErrSignerRejected, chainID)
	}

	s.mu.Lock()
	previous := s.chainID
	s.chainID = chainID
	s.mu.Unlock()

	if previous != chainID {
		s.logger.Info(fmt.Sprintf("Signer switched from chain %d to %d", previous, chainID), "wallet")
	}
	return nil
}

func (s *KeySigner) ReadContract(ctx context.Context, contract string, method string) (string, error) {
	if s.caller == nil {
		return "", fmt.Errorf("no RPC connection for contract reads")
	}
	if !common.IsHexAddress(contract) {
		return "", fmt.Errorf("invalid contract address %s", contract)
	}

	input, err := tokenMetadata.Pack(method)
	if err != nil {
		return "", fmt.Errorf("unsupported contract method %s: %v", method, err)
	}

	to := common.HexToAddress(contract)
	output, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return "", err
	}

	values, err := tokenMetadata.Unpack(method, output)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s() result: %v", method, err)
	}
	if len(values) != 1 {
		return "", fmt.Errorf("unexpected %s() result", method)
	}

	value, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s() result type %T", method, values[0])
	}

	return value, nil
}

func (s *KeySigner) SignTypedData(ctx context.Context, account string, typedData apitypes.TypedData) (string, error) {
	if !common.IsHexAddress(account) || common.HexToAddress(account) != s.address {
		return "", fmt.Errorf("%w: account %s is not managed by this signer", ErrSignerUnavailable, account)
	}

	active, _ := s.ChainID(ctx)
	if typedData.Domain.ChainId != nil {
		requested := (*big.Int)(typedData.Domain.ChainId)
		if requested.Int64() != active {
			return "", fmt.Errorf("%w: typed data chain %s does not match active chain %d", ErrSignerRejected, requested, active)
		}
	}

	return SignEIP712TypedData(s.privateKey, typedData)
}

package payment

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNonceFormatAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		nonce, err := NewNonce()
		require.NoError(t, err)
		require.True(t, IsValidNonce(nonce), "nonce %q has wrong format", nonce)
		require.Len(t, nonce, 66)

		_, dup := seen[nonce]
		require.False(t, dup, "duplicate nonce %s after %d draws", nonce, i)
		seen[nonce] = struct{}{}
	}
}

func TestIsValidNonce(t *testing.T) {
	assert.False(t, IsValidNonce(""))
	assert.False(t, IsValidNonce("0x1234"))
	assert.False(t, IsValidNonce("0xABCDEF0000000000000000000000000000000000000000000000000000000000"))
	assert.True(t, IsValidNonce("0xabcdef0000000000000000000000000000000000000000000000000000000000"))
}

func TestBuildSignsFeeInclusiveTotal(t *testing.T) {
	signer := newFakeSigner(t)
	cfg := testPaymentConfig(t)
	now := time.Unix(1_700_000_000, 0)

	builder := NewAuthorizationBuilder(newTestLogger(t), WithClock(func() time.Time { return now }))
	signed, err := builder.Build(context.Background(), cfg, signer.address(), signer)
	require.NoError(t, err)

	auth := signed.Authorization
	assert.Equal(t, "1010000", auth.Value)
	assert.Equal(t, "0", auth.ValidAfter)
	assert.Equal(t, strconv.FormatInt(now.Unix()+86400, 10), auth.ValidBefore)
	assert.Equal(t, signer.address(), auth.From)
	assert.Equal(t, testMerchant, auth.To)
	assert.True(t, IsValidNonce(auth.Nonce))

	assert.Equal(t, "USDC", signed.Domain.Name)
	assert.Equal(t, "2", signed.Domain.Version)
	assert.Equal(t, int64(84532), signed.Domain.ChainID)
	assert.Equal(t, testToken, signed.Domain.VerifyingContract)

	// Signature recovers to the payer over the exact typed data
	recovered, err := RecoverEIP712Signer(NewTransferTypedData(signed.Domain, auth), signed.Signature)
	require.NoError(t, err)
	assert.Equal(t, signer.address(), recovered.Hex())
}

func TestBuildReadsTokenMetadataEveryAttempt(t *testing.T) {
	signer := newFakeSigner(t)
	cfg := testPaymentConfig(t)
	builder := NewAuthorizationBuilder(newTestLogger(t))

	first, err := builder.Build(context.Background(), cfg, signer.address(), signer)
	require.NoError(t, err)
	second, err := builder.Build(context.Background(), cfg, signer.address(), signer)
	require.NoError(t, err)

	assert.Equal(t, 2, signer.reads["name"])
	assert.Equal(t, 2, signer.reads["version"])
	assert.NotEqual(t, first.Authorization.Nonce, second.Authorization.Nonce)
}

func TestBuildContractReadFailure(t *testing.T) {
	signer := newFakeSigner(t)
	signer.readErr = errors.New("execution reverted")

	builder := NewAuthorizationBuilder(newTestLogger(t))
	_, err := builder.Build(context.Background(), testPaymentConfig(t), signer.address(), signer)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContractRead)

	var readErr *ContractReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "name", readErr.Method)
	assert.Empty(t, signer.signed, "nothing may be signed without token metadata")
}

func TestBuildSignerRejection(t *testing.T) {
	signer := newFakeSigner(t)
	signer.signErr = errors.New("user denied message signature")

	builder := NewAuthorizationBuilder(newTestLogger(t))
	_, err := builder.Build(context.Background(), testPaymentConfig(t), signer.address(), signer)
	assert.ErrorIs(t, err, ErrSignerRejected)
	assert.NotErrorIs(t, err, ErrSignerUnavailable)
}

func TestBuildRequiresExposedAccount(t *testing.T) {
	signer := newFakeSigner(t)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	builder := NewAuthorizationBuilder(newTestLogger(t))
	_, err = builder.Build(context.Background(), testPaymentConfig(t), crypto.PubkeyToAddress(other.PublicKey).Hex(), signer)
	assert.ErrorIs(t, err, ErrSignerUnavailable)

	_, err = builder.Build(context.Background(), testPaymentConfig(t), signer.address(), nil)
	assert.ErrorIs(t, err, ErrSignerUnavailable)
}

func TestBuildUsesInjectedNonceSource(t *testing.T) {
	signer := newFakeSigner(t)
	fixed := "0x" + strings.Repeat("ab", 32)

	builder := NewAuthorizationBuilder(newTestLogger(t), WithNonceSource(func() (string, error) { return fixed, nil }))
	signed, err := builder.Build(context.Background(), testPaymentConfig(t), signer.address(), signer)
	require.NoError(t, err)
	assert.Equal(t, fixed, signed.Authorization.Nonce)
}

// stubCaller answers eth_call with ABI encoded token metadata
type stubCaller struct {
	values map[string]string
}

func (s *stubCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := tokenMetadata.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	value, ok := s.values[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return method.Outputs.Pack(value)
}

func TestKeySignerEndToEnd(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	caller := &stubCaller{values: map[string]string{"name": "USD Coin", "version": "2"}}
	signer := NewKeySigner(key, caller, 84532, newTestLogger(t))

	name, err := signer.ReadContract(context.Background(), testToken, "name")
	require.NoError(t, err)
	assert.Equal(t, "USD Coin", name)

	builder := NewAuthorizationBuilder(newTestLogger(t))
	signed, err := builder.Build(context.Background(), testPaymentConfig(t), signer.Address().Hex(), signer)
	require.NoError(t, err)
	assert.Equal(t, "USD Coin", signed.Domain.Name)

	recovered, err := RecoverEIP712Signer(NewTransferTypedData(signed.Domain, signed.Authorization), signed.Signature)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestKeySignerRejectsWrongChain(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	caller := &stubCaller{values: map[string]string{"name": "USDC", "version": "2"}}
	signer := NewKeySigner(key, caller, 8453, newTestLogger(t))

	builder := NewAuthorizationBuilder(newTestLogger(t))
	_, err = builder.Build(context.Background(), testPaymentConfig(t), signer.Address().Hex(), signer)
	assert.ErrorIs(t, err, ErrSignerRejected)

	require.NoError(t, signer.SwitchChain(context.Background(), 84532))
	_, err = builder.Build(context.Background(), testPaymentConfig(t), signer.Address().Hex(), signer)
	assert.NoError(t, err)
}

func TestRecoverRejectsTamperedMessage(t *testing.T) {
	signer := newFakeSigner(t)
	builder := NewAuthorizationBuilder(newTestLogger(t))
	signed, err := builder.Build(context.Background(), testPaymentConfig(t), signer.address(), signer)
	require.NoError(t, err)

	tampered := signed.Authorization
	tampered.Value = "1000000"
	recovered, err := RecoverEIP712Signer(NewTransferTypedData(signed.Domain, tampered), signed.Signature)
	require.NoError(t, err)
	assert.NotEqual(t, common.HexToAddress(signer.address()), recovered)
}

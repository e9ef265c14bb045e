package payment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zalando/go-keyring"
)

func TestCreateAndUnlockWallet(t *testing.T) {
	dir := t.TempDir()
	wm, err := NewWalletManager(dir, newTestLogger(t))
	if err != nil {
		t.Fatalf("Failed to create wallet manager: %v", err)
	}

	created, err := wm.CreateWallet("eip155:84532", "test-passphrase-123")
	if err != nil {
		t.Fatalf("Failed to create wallet: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, created.ID+".json")); err != nil {
		t.Fatalf("Wallet file not written: %v", err)
	}

	wallet, err := wm.GetWallet(created.ID, "test-passphrase-123")
	if err != nil {
		t.Fatalf("Failed to unlock wallet: %v", err)
	}

	key, err := wallet.ECDSAKey()
	if err != nil {
		t.Fatalf("Failed to parse key: %v", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey).Hex() != created.Address {
		t.Errorf("Decrypted key does not match address %s", created.Address)
	}

	if _, err := wm.GetWallet(created.ID, "wrong-passphrase"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("Expected ErrInvalidPassphrase, got %v", err)
	}
}

func TestWalletsReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	wm, err := NewWalletManager(dir, newTestLogger(t))
	if err != nil {
		t.Fatalf("Failed to create wallet manager: %v", err)
	}

	created, err := wm.CreateWallet("eip155:8453", "pass")
	if err != nil {
		t.Fatalf("Failed to create wallet: %v", err)
	}

	reloaded, err := NewWalletManager(dir, newTestLogger(t))
	if err != nil {
		t.Fatalf("Failed to reload wallet manager: %v", err)
	}

	wallets := reloaded.ListWallets()
	if len(wallets) != 1 {
		t.Fatalf("Expected 1 wallet, got %d", len(wallets))
	}
	if wallets[0].ID != created.ID || wallets[0].Address != created.Address {
		t.Errorf("Reloaded wallet mismatch: %+v", wallets[0])
	}
	if len(wallets[0].PrivateKey) != 0 {
		t.Error("Listed wallets must not carry key material")
	}
}

func TestImportWalletAndSigner(t *testing.T) {
	wm, err := NewWalletManager(t.TempDir(), newTestLogger(t))
	if err != nil {
		t.Fatalf("Failed to create wallet manager: %v", err)
	}

	key, _ := crypto.GenerateKey()
	keyHex := hexutil.Encode(crypto.FromECDSA(key))
	address := crypto.PubkeyToAddress(key.PublicKey)

	imported, err := wm.ImportWallet(keyHex, "eip155:84532", "pass")
	if err != nil {
		t.Fatalf("Failed to import wallet: %v", err)
	}
	if imported.Address != address.Hex() {
		t.Errorf("Expected address %s, got %s", address.Hex(), imported.Address)
	}

	if _, err := wm.ImportWallet(keyHex, "eip155:84532", "pass"); !errors.Is(err, ErrWalletExists) {
		t.Errorf("Expected ErrWalletExists on duplicate import, got %v", err)
	}

	id, err := wm.FindWalletByAddress(address.Hex(), "eip155:84532")
	if err != nil || id != imported.ID {
		t.Fatalf("FindWalletByAddress returned %s, %v", id, err)
	}

	signer, err := wm.Signer(imported.ID, "pass", nil, 84532)
	if err != nil {
		t.Fatalf("Failed to build signer: %v", err)
	}
	if signer.Address() != address {
		t.Errorf("Signer address %s does not match %s", signer.Address().Hex(), address.Hex())
	}
}

func TestCreateWalletRejectsNonEVMNetwork(t *testing.T) {
	wm, err := NewWalletManager(t.TempDir(), newTestLogger(t))
	if err != nil {
		t.Fatalf("Failed to create wallet manager: %v", err)
	}

	if _, err := wm.CreateWallet("solana:devnet", "pass"); !errors.Is(err, ErrInvalidNetwork) {
		t.Errorf("Expected ErrInvalidNetwork, got %v", err)
	}
	if _, err := wm.CreateWallet("eip155:84532", ""); err == nil {
		t.Error("Expected error for empty passphrase")
	}
}

func TestDeleteWallet(t *testing.T) {
	dir := t.TempDir()
	wm, err := NewWalletManager(dir, newTestLogger(t))
	if err != nil {
		t.Fatalf("Failed to create wallet manager: %v", err)
	}

	created, err := wm.CreateWallet("eip155:84532", "pass")
	if err != nil {
		t.Fatalf("Failed to create wallet: %v", err)
	}

	if err := wm.DeleteWallet(created.ID, "nope"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("Expected ErrInvalidPassphrase, got %v", err)
	}
	if err := wm.DeleteWallet(created.ID, "pass"); err != nil {
		t.Fatalf("Failed to delete wallet: %v", err)
	}
	if _, _, err := wm.GetWalletAddress(created.ID); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("Expected ErrWalletNotFound after delete, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, created.ID+".json")); !os.IsNotExist(err) {
		t.Errorf("Wallet file still present: %v", err)
	}
}

func TestPassphraseStore(t *testing.T) {
	keyring.MockInit()
	store := NewPassphraseStore()

	if _, found, err := store.Lookup("wallet-1"); err != nil || found {
		t.Fatalf("Expected no stored passphrase, got found=%v err=%v", found, err)
	}

	if err := store.Remember("wallet-1", "secret"); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	passphrase, found, err := store.Lookup("wallet-1")
	if err != nil || !found || passphrase != "secret" {
		t.Fatalf("Lookup returned %q, %v, %v", passphrase, found, err)
	}

	if err := store.Forget("wallet-1"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if err := store.Forget("wallet-1"); err != nil {
		t.Errorf("Forgetting twice should not fail: %v", err)
	}
}

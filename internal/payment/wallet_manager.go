package payment

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/scrypt"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

// keyringService is the OS keyring service wallet passphrases are stored under
const keyringService = "x402-pay"

// WalletManager manages locally encrypted EVM payer keys
type WalletManager struct {
	walletsDir string
	wallets    map[string]*Wallet // walletID -> Wallet
	mu         sync.RWMutex
	logger     *utils.LogsManager
}

// Wallet represents a payer wallet
type Wallet struct {
	ID         string `json:"id"`
	Network    string `json:"network"` // CAIP-2, e.g. "eip155:84532"
	Address    string `json:"address"`
	PrivateKey []byte `json:"-"`
	CreatedAt  int64  `json:"created_at"`
}

// walletFile represents the encrypted wallet file format
type walletFile struct {
	ID           string `json:"id"`
	Network      string `json:"network"`
	Address      string `json:"address"`
	EncryptedKey string `json:"encrypted_key"` // Hex-encoded encrypted private key
	Salt         string `json:"salt"`          // Hex-encoded salt for key derivation
	Nonce        string `json:"nonce"`         // Hex-encoded nonce for AES-GCM
	CreatedAt    int64  `json:"created_at"`
}

// NewWalletManager creates a wallet manager storing wallets under walletsDir.
// An empty walletsDir uses the application data directory.
func NewWalletManager(walletsDir string, logger *utils.LogsManager) (*WalletManager, error) {
	if walletsDir == "" {
		walletsDir = filepath.Join(utils.GetAppPaths("").DataDir, "wallets")
	}

	if err := os.MkdirAll(walletsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create wallets directory: %v", err)
	}

	wm := &WalletManager{
		walletsDir: walletsDir,
		wallets:    make(map[string]*Wallet),
		logger:     logger,
	}

	if err := wm.loadWallets(); err != nil {
		return nil, fmt.Errorf("failed to load existing wallets: %v", err)
	}

	return wm, nil
}

// CreateWallet creates a new wallet for the specified CAIP-2 network
func (wm *WalletManager) CreateWallet(network string, passphrase string) (*Wallet, error) {
	if err := validateWalletNetwork(network); err != nil {
		return nil, err
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %v", err)
	}

	return wm.storeWallet(privateKey, network, passphrase)
}

// ImportWallet imports a hex encoded private key (with or without 0x)
func (wm *WalletManager) ImportWallet(privateKeyHex string, network string, passphrase string) (*Wallet, error) {
	if err := validateWalletNetwork(network); err != nil {
		return nil, err
	}

	privateKeyBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %v", err)
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid ECDSA private key: %v", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey).Hex()
	if _, err := wm.FindWalletByAddress(address, network); err == nil {
		return nil, fmt.Errorf("%w: %s on %s", ErrWalletExists, address, network)
	}

	return wm.storeWallet(privateKey, network, passphrase)
}

func (wm *WalletManager) storeWallet(privateKey *ecdsa.PrivateKey, network string, passphrase string) (*Wallet, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("wallet passphrase must not be empty")
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey).Hex()
	now := time.Now()

	wallet := &Wallet{
		ID:         fmt.Sprintf("%s-%d", strings.ToLower(address[2:10]), now.UnixNano()),
		Network:    network,
		Address:    address,
		PrivateKey: crypto.FromECDSA(privateKey),
		CreatedAt:  now.Unix(),
	}

	wm.mu.Lock()
	defer wm.mu.Unlock()

	if err := wm.saveWallet(wallet, passphrase); err != nil {
		return nil, fmt.Errorf("failed to save wallet: %v", err)
	}

	// Keep metadata only in memory
	wm.wallets[wallet.ID] = &Wallet{
		ID:        wallet.ID,
		Network:   wallet.Network,
		Address:   wallet.Address,
		CreatedAt: wallet.CreatedAt,
	}

	wm.logger.Info(fmt.Sprintf("Wallet %s stored for %s on %s", wallet.ID, wallet.Address, wallet.Network), "wallet")

	return wallet, nil
}

// ListWallets returns wallet metadata ordered by creation time
func (wm *WalletManager) ListWallets() []*Wallet {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	wallets := make([]*Wallet, 0, len(wm.wallets))
	for _, wallet := range wm.wallets {
		wallets = append(wallets, &Wallet{
			ID:        wallet.ID,
			Network:   wallet.Network,
			Address:   wallet.Address,
			CreatedAt: wallet.CreatedAt,
		})
	}

	sort.Slice(wallets, func(i, j int) bool {
		if wallets[i].CreatedAt == wallets[j].CreatedAt {
			return wallets[i].ID < wallets[j].ID
		}
		return wallets[i].CreatedAt < wallets[j].CreatedAt
	})

	return wallets
}

// GetWalletAddress retrieves a wallet's address and network without requiring the passphrase
func (wm *WalletManager) GetWalletAddress(walletID string) (string, string, error) {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	wallet, exists := wm.wallets[walletID]
	if !exists {
		return "", "", ErrWalletNotFound
	}

	return wallet.Address, wallet.Network, nil
}

// FindWalletByAddress finds a wallet ID by address (case-insensitive) and network
func (wm *WalletManager) FindWalletByAddress(address string, network string) (string, error) {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	for _, wallet := range wm.wallets {
		if strings.EqualFold(wallet.Address, address) && wallet.Network == network {
			return wallet.ID, nil
		}
	}

	return "", fmt.Errorf("%w: no wallet for address %s on network %s", ErrWalletNotFound, address, network)
}

// GetWallet retrieves and decrypts a wallet by ID
func (wm *WalletManager) GetWallet(walletID string, passphrase string) (*Wallet, error) {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	if _, exists := wm.wallets[walletID]; !exists {
		return nil, ErrWalletNotFound
	}

	return wm.loadAndDecryptWallet(wm.walletPath(walletID), passphrase)
}

// Signer decrypts a wallet and returns a KeySigner for it
func (wm *WalletManager) Signer(walletID string, passphrase string, caller ethereum.ContractCaller, chainID int64) (*KeySigner, error) {
	wallet, err := wm.GetWallet(walletID, passphrase)
	if err != nil {
		return nil, err
	}

	privateKey, err := wallet.ECDSAKey()
	if err != nil {
		return nil, err
	}

	return NewKeySigner(privateKey, caller, chainID, wm.logger), nil
}

// ECDSAKey parses the decrypted private key
func (w *Wallet) ECDSAKey() (*ecdsa.PrivateKey, error) {
	if len(w.PrivateKey) == 0 {
		return nil, errors.New("wallet private key is not decrypted")
	}

	privateKey, err := crypto.ToECDSA(w.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet private key: %v", err)
	}
	if common.HexToAddress(w.Address) != crypto.PubkeyToAddress(privateKey.PublicKey) {
		return nil, fmt.Errorf("wallet %s key does not match address %s", w.ID, w.Address)
	}

	return privateKey, nil
}

// DeleteWallet removes a wallet after verifying the passphrase
func (wm *WalletManager) DeleteWallet(walletID string, passphrase string) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if _, exists := wm.wallets[walletID]; !exists {
		return ErrWalletNotFound
	}

	walletPath := wm.walletPath(walletID)
	if _, err := wm.loadAndDecryptWallet(walletPath, passphrase); err != nil {
		return err
	}

	if err := os.Remove(walletPath); err != nil {
		return fmt.Errorf("failed to delete wallet file: %v", err)
	}

	delete(wm.wallets, walletID)
	wm.logger.Info(fmt.Sprintf("Wallet %s deleted", walletID), "wallet")

	return nil
}

func (wm *WalletManager) walletPath(walletID string) string {
	return filepath.Join(wm.walletsDir, walletID+".json")
}

// saveWallet encrypts and writes a wallet file
func (wm *WalletManager) saveWallet(wallet *Wallet, passphrase string) error {
	// Generate salt for key derivation
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %v", err)
	}

	encryptionKey, err := scrypt.Key([]byte(passphrase), salt, 32768, 8, 1, 32)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %v", err)
	}

	// AES-256-GCM
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %v", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %v", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %v", err)
	}

	wf := &walletFile{
		ID:           wallet.ID,
		Network:      wallet.Network,
		Address:      wallet.Address,
		EncryptedKey: hex.EncodeToString(gcm.Seal(nil, nonce, wallet.PrivateKey, nil)),
		Salt:         hex.EncodeToString(salt),
		Nonce:        hex.EncodeToString(nonce),
		CreatedAt:    wallet.CreatedAt,
	}

	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal wallet: %v", err)
	}

	if err := os.WriteFile(wm.walletPath(wallet.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write wallet file: %v", err)
	}

	return nil
}

// loadAndDecryptWallet loads and decrypts a wallet from disk
func (wm *WalletManager) loadAndDecryptWallet(walletPath string, passphrase string) (*Wallet, error) {
	data, err := os.ReadFile(walletPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet file: %v", err)
	}

	var wf walletFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet: %v", err)
	}

	encryptedKey, err := hex.DecodeString(wf.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted key: %v", err)
	}
	salt, err := hex.DecodeString(wf.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %v", err)
	}
	nonce, err := hex.DecodeString(wf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %v", err)
	}

	decryptionKey, err := scrypt.Key([]byte(passphrase), salt, 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive decryption key: %v", err)
	}

	block, err := aes.NewCipher(decryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %v", err)
	}

	privateKey, err := gcm.Open(nil, nonce, encryptedKey, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}

	return &Wallet{
		ID:         wf.ID,
		Network:    wf.Network,
		Address:    wf.Address,
		PrivateKey: privateKey,
		CreatedAt:  wf.CreatedAt,
	}, nil
}

// loadWallets loads all wallet metadata (without private keys) from disk
func (wm *WalletManager) loadWallets() error {
	files, err := os.ReadDir(wm.walletsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read wallets directory: %v", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(wm.walletsDir, file.Name()))
		if err != nil {
			continue
		}

		var wf walletFile
		if err := json.Unmarshal(data, &wf); err != nil || wf.ID == "" {
			wm.logger.Warn(fmt.Sprintf("Skipping unreadable wallet file %s", file.Name()), "wallet")
			continue
		}

		wm.wallets[wf.ID] = &Wallet{
			ID:        wf.ID,
			Network:   wf.Network,
			Address:   wf.Address,
			CreatedAt: wf.CreatedAt,
		}
	}

	return nil
}

func validateWalletNetwork(network string) error {
	if _, err := ChainIDFromCaip2(network); err != nil {
		return fmt.Errorf("unsupported wallet network %s: %w", network, err)
	}
	return nil
}

// PassphraseStore keeps wallet passphrases in the OS keyring
type PassphraseStore struct {
	service string
}

// NewPassphraseStore creates a keyring backed passphrase store
func NewPassphraseStore() *PassphraseStore {
	return &PassphraseStore{service: keyringService}
}

// Remember stores the passphrase for walletID
func (ps *PassphraseStore) Remember(walletID string, passphrase string) error {
	if err := keyring.Set(ps.service, walletID, passphrase); err != nil {
		return fmt.Errorf("failed to store passphrase in keyring: %v", err)
	}
	return nil
}

// Lookup returns the stored passphrase for walletID, if any
func (ps *PassphraseStore) Lookup(walletID string) (string, bool, error) {
	passphrase, err := keyring.Get(ps.service, walletID)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read passphrase from keyring: %v", err)
	}
	return passphrase, true, nil
}

// Forget removes the stored passphrase for walletID
func (ps *PassphraseStore) Forget(walletID string) error {
	err := keyring.Delete(ps.service, walletID)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to remove passphrase from keyring: %v", err)
	}
	return nil
}

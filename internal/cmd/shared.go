package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/0xmetaHQ/merchant-demo/internal/database"
	"github.com/0xmetaHQ/merchant-demo/internal/payment"
	"github.com/0xmetaHQ/merchant-demo/internal/session"
)

const separator = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// openSessionStore opens the configured session backend
func openSessionStore(ctx context.Context) (session.Store, func(), error) {
	backend := config.GetConfigWithDefault("session_backend", "sqlite")

	switch backend {
	case "memory":
		return session.NewMemoryStore(), func() {}, nil

	case "redis":
		redisURL := config.GetConfigWithDefault("redis_url", "redis://localhost:6379/0")
		sessionID := config.GetConfigWithDefault("session_id", "default")
		ttl := config.GetConfigDuration("session_ttl", 24*time.Hour)
		store, err := session.DialRedisStore(ctx, redisURL, sessionID, ttl)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case "sqlite":
		sqlm, err := database.NewSQLiteManager(config, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlm.PerformMaintenance(); err != nil {
			logger.Warn(fmt.Sprintf("Session database maintenance failed: %v", err), "session")
		}
		sessionID, err := sqlm.ActiveSessionID()
		if err != nil {
			sqlm.Close()
			return nil, nil, err
		}
		logger.Debug(fmt.Sprintf("Using session %s", sessionID), "session")
		return sqlm.SessionStore(sessionID), func() { sqlm.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown session_backend %q (expected sqlite, redis or memory)", backend)
}

// newConfigCache creates the merchant configuration cache
func newConfigCache() *payment.ConfigCache {
	source := payment.NewHTTPConfigSource(config.GetConfigWithDefault("merchant_config_url", ""), payment.FacilitatorTimeout(config), logger)
	return payment.NewConfigCache(source, logger)
}

// newFacilitator prefers the locally configured facilitator over the merchant's
func newFacilitator(cfg *payment.PaymentConfig) *payment.FacilitatorClient {
	baseURL := config.GetConfigWithDefault("facilitator_base_url", "")
	if baseURL == "" {
		baseURL = cfg.FacilitatorBaseURL
	}
	return payment.NewFacilitatorClient(baseURL, config, logger)
}

// resourcePath returns the path part of resource_url, used in verify metadata
func resourcePath() string {
	raw := config.GetConfigWithDefault("resource_url", "")
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Path == "" {
		return "/api/premium-data"
	}
	return parsed.Path
}

// unlockSigner decrypts the selected wallet and connects it to the merchant's RPC
func unlockSigner(ctx context.Context, cfg *payment.PaymentConfig, walletID string) (*payment.KeySigner, func(), error) {
	wm, err := payment.NewWalletManager("", logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize wallet manager: %v", err)
	}

	if walletID == "" {
		walletID = config.GetConfigWithDefault("default_wallet_id", "")
	}
	if walletID == "" {
		wallets := wm.ListWallets()
		if len(wallets) != 1 {
			return nil, nil, errors.New("no wallet selected: pass --wallet-id or set default_wallet_id")
		}
		walletID = wallets[0].ID
	}

	_, network, err := wm.GetWalletAddress(walletID)
	if err != nil {
		return nil, nil, err
	}
	if expected, err := payment.NewNetworkMapper().ToCaip2(cfg.Network); err == nil && expected != network {
		logger.Warn(fmt.Sprintf("Wallet %s was created for %s, merchant uses %s", walletID, network, expected), "wallet")
	}

	passphrase, err := walletPassphrase(walletID)
	if err != nil {
		return nil, nil, err
	}

	wallet, err := wm.GetWallet(walletID, passphrase)
	if err != nil {
		return nil, nil, err
	}
	key, err := wallet.ECDSAKey()
	if err != nil {
		return nil, nil, err
	}

	return payment.DialKeySigner(ctx, key, cfg.RPCURL, logger)
}

// walletPassphrase reads the passphrase from the OS keyring when enabled, else prompts
func walletPassphrase(walletID string) (string, error) {
	if config.GetConfigBool("wallet_use_keyring", false) {
		passphrase, found, err := payment.NewPassphraseStore().Lookup(walletID)
		if err != nil {
			logger.Warn(fmt.Sprintf("Keyring lookup failed: %v", err), "wallet")
		} else if found {
			return passphrase, nil
		}
	}
	return promptPassphrase(fmt.Sprintf("Passphrase for wallet %s: ", walletID))
}

func promptPassphrase(prompt string) (string, error) {
	fmt.Print(prompt)
	passphraseBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %v", err)
	}
	return string(passphraseBytes), nil
}

// printStructured writes v as json or yaml. It returns false for text output.
func printStructured(v interface{}) (bool, error) {
	switch strings.ToLower(outputFormat) {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case "", "text":
		return false, nil
	}
	return false, fmt.Errorf("unknown output format %q", outputFormat)
}

// startMetricsServer exposes reg on metrics_listen_addr when configured
func startMetricsServer(reg *prometheus.Registry) func() {
	addr := config.GetConfigWithDefault("metrics_listen_addr", "")
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn(fmt.Sprintf("Metrics listener on %s stopped: %v", addr, err), "cli")
		}
	}()
	logger.Info(fmt.Sprintf("Serving metrics on http://%s/metrics", addr), "cli")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}

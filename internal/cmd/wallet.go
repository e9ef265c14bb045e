package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/0xmetaHQ/merchant-demo/internal/payment"
)

var (
	walletNetwork    string
	walletPrivateKey string
	walletID         string
	forceWallet      bool
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage payer wallets",
	Long: `Manage the EVM wallets used to sign x402 payment authorizations.

Wallets are encrypted with a passphrase (scrypt + AES-256-GCM) and stored
in the application data directory. Passphrases can optionally be kept in the
OS keyring (set wallet_use_keyring = true).`,
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new payer wallet",
	Long: `Create a new payer wallet for an EVM network.

Supported networks:
  - eip155:84532  (Base Sepolia testnet - default)
  - eip155:8453   (Base mainnet)
  - any other eip155:<chain id>

Example:
  x402-pay wallet create --network eip155:84532`,
	Run: func(cmd *cobra.Command, args []string) {
		walletManager := mustWalletManager()

		// Default to Base Sepolia testnet
		if walletNetwork == "" {
			walletNetwork = "eip155:84532"
		}

		fmt.Println("Creating new wallet...")
		fmt.Printf("Network: %s\n", getNetworkName(walletNetwork))
		fmt.Println()

		passphrase := mustConfirmedPassphrase()

		wallet, err := walletManager.CreateWallet(walletNetwork, passphrase)
		if err != nil {
			fmt.Printf("Error: Failed to create wallet: %v\n", err)
			os.Exit(1)
		}

		printWalletCreated("created", wallet)
	},
}

var walletImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an existing wallet from private key",
	Long: `Import an existing wallet using a private key.

The private key should be provided in hexadecimal format (with or without 0x prefix).

SECURITY WARNING: Never share your private key with anyone or enter it on
untrusted systems. The private key grants full control over the wallet.

Example:
  x402-pay wallet import --private-key 0x1234... --network eip155:84532`,
	Run: func(cmd *cobra.Command, args []string) {
		walletManager := mustWalletManager()

		if walletPrivateKey == "" {
			fmt.Println("Error: --private-key is required")
			os.Exit(1)
		}
		if walletNetwork == "" {
			walletNetwork = "eip155:84532"
		}

		fmt.Println("⚠️  SECURITY WARNING ⚠️")
		fmt.Println(separator)
		fmt.Println("You are about to import a wallet using a private key.")
		fmt.Println("Make sure you are on a TRUSTED system and the private key is from")
		fmt.Println("a wallet you control.")
		fmt.Println(separator)
		fmt.Println()

		if !forceWallet && !confirm("Do you want to continue? (yes/no): ") {
			fmt.Println("Import cancelled.")
			os.Exit(0)
		}

		passphrase := mustConfirmedPassphrase()

		wallet, err := walletManager.ImportWallet(walletPrivateKey, walletNetwork, passphrase)
		if err != nil {
			fmt.Printf("Error: Failed to import wallet: %v\n", err)
			os.Exit(1)
		}

		printWalletCreated("imported", wallet)
	},
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all wallets",
	Run: func(cmd *cobra.Command, args []string) {
		walletManager := mustWalletManager()
		wallets := walletManager.ListWallets()

		if structured, err := printStructured(wallets); err != nil || structured {
			return
		}

		if len(wallets) == 0 {
			fmt.Println("No wallets found. Create one with:")
			fmt.Println("  x402-pay wallet create")
			return
		}

		defaultID := config.GetConfigWithDefault("default_wallet_id", "")
		fmt.Printf("Wallets (%d)\n", len(wallets))
		fmt.Println(separator)
		for _, w := range wallets {
			marker := " "
			if w.ID == defaultID {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, w.ID)
			fmt.Printf("    Network:  %s\n", getNetworkName(w.Network))
			fmt.Printf("    Address:  %s\n", w.Address)
			fmt.Printf("    Created:  %s\n", time.Unix(w.CreatedAt, 0).Format(time.RFC3339))
		}
	},
}

var walletDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a wallet",
	Run: func(cmd *cobra.Command, args []string) {
		walletManager := mustWalletManager()
		requireWalletID()

		address, _, err := walletManager.GetWalletAddress(walletID)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		if !forceWallet {
			fmt.Printf("Deleting wallet %s (%s). This cannot be undone.\n", walletID, address)
			if !confirm("Type 'yes' to confirm: ") {
				fmt.Println("Deletion cancelled.")
				os.Exit(0)
			}
		}

		passphrase, err := promptPassphrase("Enter wallet passphrase: ")
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		if err := walletManager.DeleteWallet(walletID, passphrase); err != nil {
			fmt.Printf("Error: Failed to delete wallet: %v\n", err)
			os.Exit(1)
		}
		if err := payment.NewPassphraseStore().Forget(walletID); err != nil {
			logger.Warn(fmt.Sprintf("Failed to remove keyring entry: %v", err), "wallet")
		}

		fmt.Println("✓ Wallet deleted")
	},
}

var walletRememberCmd = &cobra.Command{
	Use:   "remember",
	Short: "Store a wallet passphrase in the OS keyring",
	Run: func(cmd *cobra.Command, args []string) {
		walletManager := mustWalletManager()
		requireWalletID()

		passphrase, err := promptPassphrase("Enter wallet passphrase: ")
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		// only remember passphrases that actually unlock the wallet
		if _, err := walletManager.GetWallet(walletID, passphrase); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		if err := payment.NewPassphraseStore().Remember(walletID, passphrase); err != nil {
			fmt.Printf("Error: Failed to store passphrase: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("✓ Passphrase stored in the OS keyring")
		if !config.GetConfigBool("wallet_use_keyring", false) {
			fmt.Println("Enable keyring lookups with:")
			fmt.Println("  x402-pay config set wallet_use_keyring true")
		}
	},
}

var walletForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Remove a wallet passphrase from the OS keyring",
	Run: func(cmd *cobra.Command, args []string) {
		requireWalletID()
		if err := payment.NewPassphraseStore().Forget(walletID); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✓ Passphrase removed from the OS keyring")
	},
}

func mustWalletManager() *payment.WalletManager {
	walletManager, err := payment.NewWalletManager("", logger)
	if err != nil {
		fmt.Printf("Error: Failed to initialize wallet manager: %v\n", err)
		os.Exit(1)
	}
	return walletManager
}

func requireWalletID() {
	if walletID == "" {
		fmt.Println("Error: --wallet-id is required")
		os.Exit(1)
	}
}

func mustConfirmedPassphrase() string {
	passphrase, err := promptPassphrase("Enter passphrase to encrypt wallet: ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	confirmedPassphrase, err := promptPassphrase("Confirm passphrase: ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if passphrase != confirmedPassphrase {
		fmt.Println("Error: Passphrases do not match")
		os.Exit(1)
	}
	return passphrase
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	var response string
	fmt.Scanln(&response)
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "yes", "y":
		return true
	}
	return false
}

func printWalletCreated(verb string, wallet *payment.Wallet) {
	fmt.Println()
	fmt.Printf("✓ Wallet %s successfully\n", verb)
	fmt.Println(separator)
	fmt.Printf("Wallet ID:  %s\n", wallet.ID)
	fmt.Printf("Network:    %s\n", wallet.Network)
	fmt.Printf("Address:    %s\n", wallet.Address)
	fmt.Println()
	fmt.Println("To set this as your default wallet:")
	fmt.Printf("  x402-pay config set default_wallet_id %s\n", wallet.ID)
	fmt.Println()
	fmt.Println("Remember your passphrase - it cannot be recovered if lost!")
	fmt.Println()
}

// Helper function to get human-readable network name
func getNetworkName(network string) string {
	switch network {
	case "eip155:84532":
		return "Base Sepolia (Testnet)"
	case "eip155:8453":
		return "Base (Mainnet)"
	}

	if name, err := payment.NewNetworkMapper().ToName(network); err == nil {
		return fmt.Sprintf("%s (%s)", name, network)
	}
	if strings.HasPrefix(network, "eip155:") {
		return "EVM Chain (ID: " + strings.TrimPrefix(network, "eip155:") + ")"
	}
	return network
}

func init() {
	// Register wallet command
	rootCmd.AddCommand(walletCmd)

	// Register subcommands
	walletCmd.AddCommand(walletCreateCmd)
	walletCmd.AddCommand(walletImportCmd)
	walletCmd.AddCommand(walletListCmd)
	walletCmd.AddCommand(walletDeleteCmd)
	walletCmd.AddCommand(walletRememberCmd)
	walletCmd.AddCommand(walletForgetCmd)

	walletCreateCmd.Flags().StringVarP(&walletNetwork, "network", "n", "", "EVM network in CAIP-2 form (e.g., eip155:84532)")

	walletImportCmd.Flags().StringVarP(&walletPrivateKey, "private-key", "k", "", "private key in hexadecimal format (required)")
	walletImportCmd.Flags().StringVarP(&walletNetwork, "network", "n", "", "EVM network in CAIP-2 form (e.g., eip155:84532)")
	walletImportCmd.Flags().BoolVar(&forceWallet, "force", false, "skip confirmation prompt (use with caution)")

	walletDeleteCmd.Flags().StringVarP(&walletID, "wallet-id", "w", "", "wallet ID (required)")
	walletDeleteCmd.Flags().BoolVar(&forceWallet, "force", false, "skip confirmation prompt (use with caution)")

	walletRememberCmd.Flags().StringVarP(&walletID, "wallet-id", "w", "", "wallet ID (required)")
	walletForgetCmd.Flags().StringVarP(&walletID, "wallet-id", "w", "", "wallet ID (required)")
}

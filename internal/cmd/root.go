package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

var (
	configPath   string
	envFile      string
	verbose      bool
	outputFormat string
	config       *utils.ConfigManager
	logger       *utils.LogsManager
)

var rootCmd = &cobra.Command{
	Use:   "x402-pay",
	Short: "x402 pay-per-resource client",
	Long: `Pay for x402-gated resources with USDC.

The client signs an EIP-3009 TransferWithAuthorization for the merchant's
fee-inclusive price, has the facilitator verify and settle it, and tracks the
settlement until it is confirmed on chain. Payment state is kept per session
so an interrupted client can pick up where it left off.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize configuration
		config = utils.NewConfigManager(configPath)

		// .env and process environment override the config file
		if err := config.LoadEnvOverrides(envFile); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}

		// Initialize logging
		logger = utils.NewLogsManager(config)
		if verbose {
			if err := logger.SetLogLevel("debug"); err != nil {
				fmt.Printf("Warning: %v\n", err)
			}
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Cleanup
		if logger != nil {
			logger.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with FACILITATOR_BASE_URL, MERCHANT_CONFIG_URL, ...")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "text", "output format: text, json or yaml")
}

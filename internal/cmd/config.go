package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/0xmetaHQ/merchant-demo/internal/core"
	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and change client configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		value, ok := config.GetConfig(args[0])
		if !ok {
			fmt.Printf("Error: %s is not set\n", args[0])
			os.Exit(1)
		}
		fmt.Println(value)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a configuration value and save it",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		// reload without the environment overlay so it is not written to disk
		fileConfig := utils.NewConfigManager(configPath)
		fileConfig.SetConfig(args[0], args[1])
		if err := fileConfig.Save(); err != nil {
			fmt.Printf("Error: Failed to save configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ %s = %s\n", args[0], args[1])
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Run: func(cmd *cobra.Command, args []string) {
		all := config.GetAllConfigs()
		if structured, err := printStructured(all); err != nil || structured {
			return
		}

		keys := make([]string, 0, len(all))
		for key := range all {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("%s = %s\n", key, all[key])
		}
	},
}

var configMerchantCmd = &cobra.Command{
	Use:   "merchant",
	Short: "Fetch and show the merchant's normalized payment configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := newConfigCache().Get(context.Background())
		if err != nil {
			_, message := core.ClassifyError(err)
			fmt.Printf("Error: %s\n", message)
			logger.Error(fmt.Sprintf("Failed to load payment configuration: %v", err), "cli")
			os.Exit(1)
		}

		if structured, err := printStructured(cfg); err != nil || structured {
			return
		}

		fmt.Println("Merchant payment configuration")
		fmt.Println(separator)
		fmt.Printf("Network:      %s (chain %d)\n", cfg.Network, cfg.ChainID)
		fmt.Printf("Merchant:     %s\n", cfg.MerchantAddress)
		fmt.Printf("Token:        %s\n", cfg.TokenAddress)
		fmt.Printf("Price:        %s USDC (%s)\n", cfg.PriceUSDC, cfg.PriceUSDCWei)
		fmt.Printf("Fee:          %s\n", cfg.FeeWei)
		fmt.Printf("Total:        %s USDC (%s)\n", cfg.TotalPriceUSDC, cfg.TotalPriceUSDCWei)
		fmt.Printf("Facilitator:  %s\n", newFacilitator(cfg).BaseURL())
		fmt.Printf("Explorer:     %s\n", cfg.BlockExplorer)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configMerchantCmd)
}

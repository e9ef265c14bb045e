package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/0xmetaHQ/merchant-demo/internal/core"
	"github.com/0xmetaHQ/merchant-demo/internal/payment"
)

var (
	payWalletID string
	payFetch    bool
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Pay for the gated resource",
	Long: `Sign a fee-inclusive USDC authorization and run it through the facilitator.

The merchant configuration is fetched from merchant_config_url. The signed
amount is the merchant price plus a fixed 0.01 USDC fee. If settlement is
still pending when the polling budget runs out, check it later with:
  x402-pay status

Example:
  x402-pay pay --wallet-id <id> --fetch`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openSessionStore(ctx)
		if err != nil {
			fmt.Printf("Error: Failed to open session store: %v\n", err)
			os.Exit(1)
		}
		defer closeStore()

		configs := newConfigCache()
		cfg, err := configs.Get(ctx)
		if err != nil {
			_, message := core.ClassifyError(err)
			fmt.Printf("Error: %s\n", message)
			logger.Error(fmt.Sprintf("Failed to load payment configuration: %v", err), "cli")
			os.Exit(1)
		}

		signer, closeSigner, err := unlockSigner(ctx, cfg, payWalletID)
		if err != nil {
			fmt.Printf("Error: Failed to unlock wallet: %v\n", err)
			os.Exit(1)
		}
		defer closeSigner()

		metrics := core.NewMetrics()
		registry := prometheus.NewRegistry()
		if err := metrics.Register(registry); err != nil {
			logger.Warn(fmt.Sprintf("Failed to register metrics: %v", err), "cli")
		}
		stopMetrics := startMetricsServer(registry)
		defer stopMetrics()

		pollInterval := time.Duration(config.GetConfigInt("poll_interval_ms", 3000, 100, 60000)) * time.Millisecond
		pollAttempts := config.GetConfigInt("poll_max_attempts", payment.DefaultPollMaxAttempts, 1, 1000)

		controller := core.NewPaymentController(
			signer,
			configs,
			payment.NewAuthorizationBuilder(logger),
			newFacilitator(cfg),
			store,
			logger,
			core.WithObserver(&consoleObserver{}),
			core.WithMetrics(metrics),
			core.WithPolling(pollAttempts, pollInterval),
			core.WithResource(resourcePath()),
		)

		if err := controller.Restore(ctx); err != nil {
			fmt.Printf("Error: Failed to restore session: %v\n", err)
			os.Exit(1)
		}
		if _, err := controller.Connect(ctx); err != nil {
			_, message := core.ClassifyError(err)
			fmt.Printf("Error: %s\n", message)
			os.Exit(1)
		}

		go controller.Run(ctx)
		if eventURL := config.GetConfigWithDefault("wallet_event_url", ""); eventURL != "" {
			source := core.NewWalletEventSource(eventURL, logger)
			go source.Run(ctx, controller.Events())
		}

		fmt.Printf("Paying %s USDC (%s + 0.01 fee) on %s\n", cfg.TotalPriceUSDC, cfg.PriceUSDC, cfg.Network)
		fmt.Printf("Payer: %s\n", signer.Address().Hex())
		fmt.Println(separator)

		outcome, err := controller.Pay(ctx)
		if err != nil {
			if message, ok := unreportedPayError(err); ok {
				fmt.Printf("Error: %s\n", message)
			}
			os.Exit(1)
		}

		fmt.Println(separator)
		if structured, err := printStructured(outcome); err != nil {
			fmt.Printf("Error: %v\n", err)
		} else if !structured {
			printOutcome(outcome)
		}

		if payFetch && outcome.State == core.StateConfirmed {
			fmt.Println()
			body, err := fetchResource(ctx, store, false)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			os.Stdout.Write(body)
			fmt.Println()
		}

		if outcome.State != core.StateConfirmed {
			os.Exit(2)
		}
	},
}

// unreportedPayError returns the message for errors Pay rejects before an
// attempt starts. Everything later has already reached the observer.
func unreportedPayError(err error) (string, bool) {
	if !errors.Is(err, core.ErrPaymentInFlight) && !errors.Is(err, core.ErrWalletNotConnected) {
		return "", false
	}
	_, message := core.ClassifyError(err)
	return message, true
}

func printOutcome(outcome *core.Outcome) {
	fmt.Printf("State:            %s\n", outcome.State)
	fmt.Printf("Amount:           %s USDC (%s)\n", outcome.AmountUSDC, outcome.AmountWei)
	fmt.Printf("Verification ID:  %s\n", outcome.VerificationID)
	fmt.Printf("Settlement ID:    %s\n", outcome.SettlementID)
	if outcome.TransactionHash != "" {
		fmt.Printf("Transaction:      %s\n", outcome.TransactionHash)
	}
	if outcome.ExplorerURL != "" {
		fmt.Printf("Explorer:         %s\n", outcome.ExplorerURL)
	}
	if outcome.State == core.StateTimedOut {
		fmt.Println()
		fmt.Println("Settlement is still pending. Check again later with:")
		fmt.Printf("  x402-pay status %s\n", outcome.SettlementID)
	}
}

// consoleObserver renders controller progress on stdout
type consoleObserver struct{}

func (o *consoleObserver) OnStatus(update core.StatusUpdate) {
	switch update.State {
	case core.StateConfirmed:
		fmt.Printf("✓ %s\n", update.Message)
	case core.StateFailed, core.StateFailedOnChain:
		fmt.Printf("✗ %s\n", update.Message)
	default:
		fmt.Printf("→ %s\n", update.Message)
	}
}

func (o *consoleObserver) OnSuccess(outcome core.Outcome) {}

func (o *consoleObserver) OnSettlementUpdate(record payment.SettlementRecord, attempt int) {
	fmt.Printf("  poll #%d: %s\n", attempt, record.Status)
}

func (o *consoleObserver) OnWarning(message string) {
	fmt.Printf("⚠ %s\n", message)
}

func init() {
	rootCmd.AddCommand(payCmd)

	payCmd.Flags().StringVarP(&payWalletID, "wallet-id", "w", "", "wallet ID (defaults to default_wallet_id)")
	payCmd.Flags().BoolVar(&payFetch, "fetch", false, "fetch the gated resource after a confirmed payment")
}

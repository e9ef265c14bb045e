package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/0xmetaHQ/merchant-demo/internal/payment"
	"github.com/0xmetaHQ/merchant-demo/internal/session"
)

var statusOnce bool

var statusCmd = &cobra.Command{
	Use:   "status [settlement-id]",
	Short: "Check a settlement that was still pending",
	Long: `Poll the facilitator for a settlement until it is confirmed, fails, or the
polling budget runs out. Without an argument the session's last settlement is used.

Example:
  x402-pay status
  x402-pay status set_123 --once`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openSessionStore(ctx)
		if err != nil {
			fmt.Printf("Error: Failed to open session store: %v\n", err)
			os.Exit(1)
		}
		defer closeStore()

		state, err := session.Load(ctx, store)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		settlementID := state.LastSettlementID
		if len(args) == 1 {
			settlementID = args[0]
		}
		if settlementID == "" {
			fmt.Println("Error: No settlement in this session. Pass a settlement ID.")
			os.Exit(1)
		}

		cfg, err := newConfigCache().Get(ctx)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		facilitator := newFacilitator(cfg)

		attempts := config.GetConfigInt("poll_max_attempts", payment.DefaultPollMaxAttempts, 1, 1000)
		if statusOnce {
			attempts = 1
		}
		interval := time.Duration(config.GetConfigInt("poll_interval_ms", 3000, 100, 60000)) * time.Millisecond

		poller := payment.NewSettlementPoller(facilitator.SettlementStatus, logger,
			payment.WithUpdateHook(func(record payment.SettlementRecord, attempt int) {
				if outputFormat == "text" {
					fmt.Printf("  poll #%d: %s\n", attempt, record.Status)
				}
			}))
		result := poller.Poll(ctx, settlementID, attempts, interval)

		if result.Outcome == payment.PollConfirmed && settlementID == state.LastSettlementID {
			if state.ConfirmSettlement(settlementID, result.TransactionHash) {
				if err := session.Save(ctx, store, state); err != nil {
					logger.Error(fmt.Sprintf("Failed to update session: %v", err), "session")
				}
			} else {
				logger.Warn(fmt.Sprintf("Settlement %s confirmed but its authorization is no longer in the session", settlementID), "session")
			}
		}

		report := map[string]interface{}{
			"settlement_id":    settlementID,
			"outcome":          result.Outcome,
			"status":           result.Status,
			"transaction_hash": result.TransactionHash,
			"attempts":         result.Attempts,
		}
		if result.TransactionHash != "" {
			report["explorer_url"] = cfg.ExplorerTxURL(result.TransactionHash)
		}

		if structured, err := printStructured(report); err != nil {
			fmt.Printf("Error: %v\n", err)
		} else if !structured {
			fmt.Println(separator)
			fmt.Printf("Settlement:   %s\n", settlementID)
			fmt.Printf("Outcome:      %s (after %d polls)\n", result.Outcome, result.Attempts)
			if result.TransactionHash != "" {
				fmt.Printf("Transaction:  %s\n", result.TransactionHash)
				fmt.Printf("Explorer:     %s\n", cfg.ExplorerTxURL(result.TransactionHash))
			}
		}

		if result.Outcome != payment.PollConfirmed {
			os.Exit(2)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusOnce, "once", false, "query the status a single time")
}

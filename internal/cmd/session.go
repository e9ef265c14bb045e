package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0xmetaHQ/merchant-demo/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or reset the payment session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the persisted session state",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
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

		structured, err := printStructured(state)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if structured {
			return
		}

		fmt.Println("Payment session")
		fmt.Println(separator)
		values := state.ToMap()
		for _, key := range session.StateKeys {
			value, ok := values[key]
			if !ok {
				value = "-"
			}
			fmt.Printf("%-22s %s\n", key+":", value)
		}
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the session, including the connected wallet and cached resources",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store, closeStore, err := openSessionStore(ctx)
		if err != nil {
			fmt.Printf("Error: Failed to open session store: %v\n", err)
			os.Exit(1)
		}
		defer closeStore()

		if err := store.Clear(ctx); err != nil {
			fmt.Printf("Error: Failed to clear session: %v\n", err)
			os.Exit(1)
		}
		logger.Info("Session cleared", "session")
		fmt.Println("✓ Session cleared")
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}

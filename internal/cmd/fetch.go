package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0xmetaHQ/merchant-demo/internal/core"
	"github.com/0xmetaHQ/merchant-demo/internal/payment"
	"github.com/0xmetaHQ/merchant-demo/internal/session"
)

var fetchNoCache bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the gated resource with the session's payment proof",
	Long: `Request resource_url with the X-PAYMENT proof of the last verified payment.

Bodies are cached in the session and checked against their BLAKE3 fingerprint
before reuse. A rejected proof clears the verified marker so the next
"x402-pay pay" starts a new payment.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		store, closeStore, err := openSessionStore(ctx)
		if err != nil {
			fmt.Printf("Error: Failed to open session store: %v\n", err)
			os.Exit(1)
		}
		defer closeStore()

		body, err := fetchResource(ctx, store, fetchNoCache)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		os.Stdout.Write(body)
		fmt.Println()
	},
}

func fetchResource(ctx context.Context, store session.Store, noCache bool) ([]byte, error) {
	resourceURL := config.GetConfigWithDefault("resource_url", "")
	if resourceURL == "" {
		return nil, errors.New("resource_url is not configured")
	}

	client := payment.NewResourceClient(payment.FacilitatorTimeout(config), logger)
	body, err := core.NewResourceFetcher(store, newConfigCache(), client, logger).Fetch(ctx, resourceURL, noCache)
	if errors.Is(err, core.ErrNoVerifiedPayment) {
		return nil, fmt.Errorf("%w, run \"x402-pay pay\" first", err)
	}
	return body, err
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().BoolVar(&fetchNoCache, "no-cache", false, "always request the resource from the server")
}

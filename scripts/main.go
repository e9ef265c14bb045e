package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "decode-payment":
		RunDecodePayment(args)
	case "dump-sessions":
		RunDumpSessions(args)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run ./scripts <command> [args...]")
	fmt.Println("")
	fmt.Println("Available commands:")
	fmt.Println("  decode-payment <x-payment-header> [<token_name> <token_version>]")
	fmt.Println("    Decode an X-PAYMENT header and, given the token's EIP-712 domain, recover the payer")
	fmt.Println("    Example: go run ./scripts decode-payment eyJ4NDAy... USDC 2")
	fmt.Println("")
	fmt.Println("  dump-sessions [db_file]")
	fmt.Println("    Print every session stored in the SQLite session database")
	fmt.Println("    Example: go run ./scripts dump-sessions ~/.local/share/x402-pay/session.db")
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/0xmetaHQ/merchant-demo/internal/payment"
)

func RunDecodePayment(args []string) {
	if len(args) != 1 && len(args) != 3 {
		fmt.Println("Usage: go run ./scripts decode-payment <x-payment-header> [<token_name> <token_version>]")
		os.Exit(1)
	}

	payload, err := payment.DecodePaymentHeader(args[0])
	if err != nil {
		fmt.Printf("Failed to decode header: %v\n", err)
		os.Exit(1)
	}

	pretty, _ := json.MarshalIndent(payload, "", "  ")
	fmt.Println(string(pretty))

	if len(args) == 1 {
		return
	}

	chainID, ok := payment.NewNetworkMapper().ChainID(payload.Network)
	if !ok {
		// payloads may carry a CAIP-2 id instead of a network name
		chainID, err = payment.ChainIDFromCaip2(payload.Network)
		if err != nil {
			fmt.Printf("Unknown network %q: %v\n", payload.Network, err)
			os.Exit(1)
		}
	}

	fmt.Print("Token contract (verifyingContract): ")
	var token string
	fmt.Scanln(&token)

	domain := payment.TokenDomain{
		Name:              args[1],
		Version:           args[2],
		ChainID:           chainID,
		VerifyingContract: strings.TrimSpace(token),
	}
	typedData := payment.NewTransferTypedData(domain, payload.Payload.Authorization)

	signer, err := payment.RecoverEIP712Signer(typedData, payload.Payload.Signature)
	if err != nil {
		fmt.Printf("Failed to recover signer: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("Recovered signer: %s\n", signer.Hex())
	if strings.EqualFold(signer.Hex(), payload.Payload.Authorization.From) {
		fmt.Println("✓ Signature matches authorization.from")
	} else {
		fmt.Printf("✗ Signature does not match authorization.from (%s)\n", payload.Payload.Authorization.From)
	}
}

package payment

import (
	"fmt"
	"strconv"
	"strings"
)

// NetworkMapper converts between merchant network names, CAIP-2 identifiers and EVM chain ids
type NetworkMapper struct {
	nameToCaip2 map[string]string
	caip2ToName map[string]string
}

// NewNetworkMapper creates a new network mapper
func NewNetworkMapper() *NetworkMapper {
	nameToCaip2 := map[string]string{
		// Base networks
		"base":         "eip155:8453",
		"base-sepolia": "eip155:84532",

		// Ethereum networks
		"ethereum":         "eip155:1",
		"ethereum-sepolia": "eip155:11155111",

		// Polygon networks
		"polygon":      "eip155:137",
		"polygon-amoy": "eip155:80002",

		// Avalanche networks
		"avalanche":      "eip155:43114",
		"avalanche-fuji": "eip155:43113",
	}

	caip2ToName := make(map[string]string)
	for name, caip2 := range nameToCaip2 {
		caip2ToName[caip2] = name
	}

	return &NetworkMapper{
		nameToCaip2: nameToCaip2,
		caip2ToName: caip2ToName,
	}
}

// ToCaip2 converts a merchant network name to its CAIP-2 identifier
func (nm *NetworkMapper) ToCaip2(network string) (string, error) {
	if caip2, ok := nm.nameToCaip2[strings.ToLower(network)]; ok {
		return caip2, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
}

// ToName converts a CAIP-2 identifier to the merchant network name
func (nm *NetworkMapper) ToName(caip2 string) (string, error) {
	if name, ok := nm.caip2ToName[caip2]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidNetwork, caip2)
}

// ChainID returns the EVM chain id for a known network name
func (nm *NetworkMapper) ChainID(network string) (int64, bool) {
	caip2, err := nm.ToCaip2(network)
	if err != nil {
		return 0, false
	}
	id, err := ChainIDFromCaip2(caip2)
	if err != nil {
		return 0, false
	}
	return id, true
}

// NameForChainID returns the network name for an EVM chain id
func (nm *NetworkMapper) NameForChainID(chainID int64) (string, bool) {
	name, ok := nm.caip2ToName[fmt.Sprintf("eip155:%d", chainID)]
	return name, ok
}

// IsSupported checks if a network name is known
func (nm *NetworkMapper) IsSupported(network string) bool {
	_, ok := nm.nameToCaip2[strings.ToLower(network)]
	return ok
}

// ChainIDFromCaip2 extracts the numeric chain id from an eip155 CAIP-2 identifier
func ChainIDFromCaip2(caip2 string) (int64, error) {
	reference, ok := strings.CutPrefix(caip2, "eip155:")
	if !ok {
		return 0, fmt.Errorf("%w: %s is not an EVM network", ErrInvalidNetwork, caip2)
	}
	id, err := strconv.ParseInt(reference, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid chain id in %s", ErrInvalidNetwork, caip2)
	}
	return id, nil
}

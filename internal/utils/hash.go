package utils

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashBytes calculates the BLAKE3 hash of a byte slice, hex encoded
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyBytesHash reports whether data hashes to expectedHash
func VerifyBytesHash(data []byte, expectedHash string) bool {
	return expectedHash != "" && HashBytes(data) == expectedHash
}

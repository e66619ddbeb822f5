package tables

import (
	"crypto/sha256"
	"encoding/hex"
)

const checksumPrefix = "sha256:"

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(hash[:])
}

// VerifyChecksum reports whether data matches a checksum from a manifest.
func VerifyChecksum(data []byte, expected string) bool {
	return ComputeChecksum(data) == expected
}

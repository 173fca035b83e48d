package domain

import "github.com/mr-tron/base58"

// solanaAddressLen is the decoded length of an ed25519 public key.
const solanaAddressLen = 32

// ValidAddress reports whether s is a base58-encoded 32-byte Solana address.
func ValidAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	b, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(b) == solanaAddressLen
}

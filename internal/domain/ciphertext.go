package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Ciphertext is an opaque encrypted blob. The ledger stores and forwards it by
// reference and never interprets its contents.
type Ciphertext []byte

// BlobRef is the only view of a ciphertext that appears in receipts and audit events.
type BlobRef struct {
	Slot   string `json:"slot"`
	Digest string `json:"digest"` // hex sha256 of the ciphertext
	Size   int    `json:"size"`
}

// Ref returns the reference of c for the given input slot.
func (c Ciphertext) Ref(slot string) BlobRef {
	sum := sha256.Sum256(c)
	return BlobRef{
		Slot:   slot,
		Digest: hex.EncodeToString(sum[:]),
		Size:   len(c),
	}
}

// Check enforces the size bounds on an encrypted input.
func (c Ciphertext) Check(slot string, maxBytes int) error {
	if len(c) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidEncryptedInput, slot)
	}
	if maxBytes > 0 && len(c) > maxBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidEncryptedInput, slot, len(c), maxBytes)
	}
	return nil
}

package model

import "time"

// EncryptedBundle is the opaque ciphertext produced for a swap payload.
// Ciphertext and nonce always come from the same encryption operation;
// the nonce is never reused across bundles.
type EncryptedBundle struct {
	Ciphertext  string    `json:"ciphertext"` // base64
	Nonce       string    `json:"nonce"`      // base64, 96-bit
	KeyRef      string    `json:"key_ref,omitempty"`
	CustodianID string    `json:"custodian_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func (b EncryptedBundle) Empty() bool {
	return b.Ciphertext == "" && b.Nonce == ""
}

package txbuilder

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// PrivateKeySigner is a minimal in-process Signer backed by a single
// solana.PrivateKey. It exists to exercise the Signer boundary in tests
// and single-key deployments; it is not the out-of-scope wallet signer
// (a production deployment would consume an external signing service
// through the same Signer interface instead).
type PrivateKeySigner struct {
	key solana.PrivateKey
}

// NewPrivateKeySigner wraps key as a Signer.
func NewPrivateKeySigner(key solana.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key}
}

func (s *PrivateKeySigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *PrivateKeySigner) SignTransaction(tx *solana.Transaction) error {
	pub := s.key.PublicKey()
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("txbuilder: sign: %w", err)
	}
	return nil
}

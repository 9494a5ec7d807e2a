// Package chain wraps the Solana RPC node and the signing lifecycle used by
// every execution venue.
package chain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrInvalidSigner is returned when the signer secret cannot be parsed or
// does not belong to the transaction.
var ErrInvalidSigner = errors.New("invalid signer")

// Signer holds the wallet key.
type Signer struct {
	key solana.PrivateKey
}

// ParseSigner accepts a base58 secret key or a JSON byte array as written by
// solana-keygen.
func ParseSigner(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidSigner)
	}
	if strings.HasPrefix(secret, "[") {
		var raw []byte
		var ints []int
		if err := json.Unmarshal([]byte(secret), &ints); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSigner, err)
		}
		for _, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte out of range", ErrInvalidSigner)
			}
			raw = append(raw, byte(v))
		}
		if len(raw) != 64 {
			return nil, fmt.Errorf("%w: expected 64 bytes, got %d", ErrInvalidSigner, len(raw))
		}
		return &Signer{key: solana.PrivateKey(raw)}, nil
	}
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigner, err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: expected 64 bytes, got %d", ErrInvalidSigner, len(key))
	}
	return &Signer{key: key}, nil
}

// NewSigner wraps an existing key.
func NewSigner(key solana.PrivateKey) *Signer { return &Signer{key: key} }

// PublicKey returns the wallet address.
func (s *Signer) PublicKey() solana.PublicKey { return s.key.PublicKey() }

// Sign writes the wallet signature into its slot of tx. Other signature
// slots are left untouched, so partially signed venue transactions stay
// valid.
func (s *Signer) Sign(tx *solana.Transaction) error {
	n := int(tx.Message.Header.NumRequiredSignatures)
	idx := -1
	pub := s.PublicKey()
	for i := 0; i < n && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(pub) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s is not a required signer", ErrInvalidSigner, pub)
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	sig, err := s.key.Sign(msg)
	if err != nil {
		return fmt.Errorf("sign message: %w", err)
	}
	if len(tx.Signatures) < n {
		sigs := make([]solana.Signature, n)
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}
	tx.Signatures[idx] = sig
	return nil
}

// DecodeTransaction parses a base64 wire transaction as returned by swap
// APIs.
func DecodeTransaction(b64 string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode base64 transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// EncodeTransaction renders tx as base64 wire bytes.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	data, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Package crypto provides key management and transaction signing for
// ledger accounts: secp256k1 keys, digest derivation for transactions and
// predicate roots, and encrypted key files.
package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/quillfi/orderlock/internal/domain"
)

// TxDigest returns the digest a witness signs: keccak256 of the
// transaction's canonical encoding.
func TxDigest(tx domain.Transaction) domain.Hash {
	var h domain.Hash
	copy(h[:], ethcrypto.Keccak256(tx.CanonicalBytes()))
	return h
}

// PubKeyAddress derives the ledger address of a public key: keccak256 of
// the uncompressed point, without the format prefix byte.
func PubKeyAddress(pub *ecdsa.PublicKey) domain.Address {
	raw := ethcrypto.FromECDSAPub(pub)
	var a domain.Address
	copy(a[:], ethcrypto.Keccak256(raw[1:]))
	return a
}

// Signer signs transaction digests with a secp256k1 private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    domain.Address
}

// NewSigner creates a Signer from a hex-encoded private key (with or
// without 0x prefix).
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    PubKeyAddress(&pk.PublicKey),
	}, nil
}

// Address returns the signer's ledger address.
func (s *Signer) Address() domain.Address {
	return s.address
}

// Sign produces a 65-byte recoverable signature over the digest.
func (s *Signer) Sign(digest domain.Hash) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign digest: %w", err)
	}
	return sig, nil
}

// RecoverSigner returns the address that produced the signature over the
// digest. Used by the ledger to authorize account-owned inputs.
func RecoverSigner(digest domain.Hash, sig []byte) (domain.Address, error) {
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return domain.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return PubKeyAddress(pub), nil
}

// GenerateKey creates a fresh private key and returns its hex encoding.
func GenerateKey() (string, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("crypto: generate key: %w", err)
	}
	return fmt.Sprintf("%x", ethcrypto.FromECDSA(pk)), nil
}

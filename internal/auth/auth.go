// Package auth verifies that a mutating request was signed by the account it
// claims to act for. Requests are signed over the exact payload bytes with a
// secp256k1 key; verification recovers the signer address and compares it to
// the claimed account. Verification always completes before any ledger lock
// is taken.
package auth

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrInvalidSignature is returned when a signature cannot be decoded or
	// does not recover to any address.
	ErrInvalidSignature = errors.New("auth: invalid signature")

	// ErrWrongSigner is returned when a valid signature recovers to an
	// address other than the claimed account.
	ErrWrongSigner = errors.New("auth: signature does not match account")
)

// ValidAddress reports whether s is a well-formed 20-byte hex address, the
// recognized identity format for accounts and oracles.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// Digest computes the signing digest for a payload:
//
//	keccak256("\x19Ethereum Signed Message:\n" + len(payload) + payload)
//
// The prefix binds signatures to this scheme so a signed request can never
// double as a raw transaction.
func Digest(payload []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(payload))
	return ethcrypto.Keccak256([]byte(prefix), payload)
}

// Verify checks that sigHex is a valid signature over payload by account.
// A decode or recovery failure yields ErrInvalidSignature; a recovery to a
// different address yields ErrWrongSigner.
func Verify(payload []byte, sigHex, account string) error {
	sig, err := decodeSignature(sigHex)
	if err != nil {
		return err
	}

	pub, err := ethcrypto.SigToPub(Digest(payload), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	recovered := ethcrypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(account) {
		return ErrWrongSigner
	}
	return nil
}

// decodeSignature parses a hex signature and normalizes the recovery byte:
// wallets emit v in {27,28}, go-ethereum expects {0,1}.
func decodeSignature(sigHex string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("%w: expected 65 bytes, got %d", ErrInvalidSignature, len(sig))
	}
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}
	return sig, nil
}

// Signer holds a secp256k1 key and produces request signatures. It is used
// by oracles and test clients; the engine itself only verifies.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("auth: generate key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the hex address derived from the signer's private key.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign produces a hex-encoded 65-byte signature (r || s || v, v in {27,28})
// over the payload digest.
func (s *Signer) Sign(payload []byte) (string, error) {
	sig, err := ethcrypto.Sign(Digest(payload), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("auth: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

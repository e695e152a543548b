// Package crypto implements the message encryption protocol: NaCl box
// authenticated public-key encryption with fresh random nonces, keypair
// persistence, and content canonicalization.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"orgchat/models"
)

const (
	// KeySize is the Curve25519 key length in bytes.
	KeySize = 32
	// NonceSize is the NaCl box nonce length in bytes.
	NonceSize = 24
	// Overhead is the Poly1305 tag length added to every ciphertext.
	Overhead = box.Overhead
)

// KeyPair is a NaCl box keypair. The private half must never leave secure
// local storage except inside this struct, which is zeroed on session
// teardown.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair creates a new random box keypair.
func GenerateKeyPair() (*KeyPair, error) {
	public, private, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate box keypair: %w", err)
	}

	return &KeyPair{Public: *public, Private: *private}, nil
}

// FromPrivateKey rebuilds a keypair from a stored private half by deriving
// the public half.
func FromPrivateKey(private [KeySize]byte) (*KeyPair, error) {
	if isZeroKey(private) {
		return nil, errors.New("invalid private key: all zeros")
	}

	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	keyPair := &KeyPair{Private: private}
	copy(keyPair.Public[:], public)
	return keyPair, nil
}

// Zero wipes the private key material in place.
func (kp *KeyPair) Zero() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

// GenerateNonce returns a fresh cryptographically random box nonce.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// Encrypt seals plaintext for peerPublic using ownPrivate and a fresh
// nonce. Two calls with identical inputs yield different ciphertext/nonce
// pairs because the nonce is random per call.
func Encrypt(plaintext []byte, peerPublic, ownPrivate [KeySize]byte) (ciphertext, nonce []byte, err error) {
	if len(plaintext) == 0 {
		return nil, nil, fmt.Errorf("%w: empty plaintext", models.ErrInvalidContent)
	}

	nonce, err = GenerateNonce()
	if err != nil {
		return nil, nil, err
	}

	ciphertext = box.Seal(nil, plaintext, (*[NonceSize]byte)(nonce), &peerPublic, &ownPrivate)
	return ciphertext, nonce, nil
}

// Decrypt opens an authenticated ciphertext. Any tamper or key mismatch
// fails closed with models.ErrDecryptionFailed; no partial plaintext is
// returned.
func Decrypt(ciphertext, nonce []byte, peerPublic, ownPrivate [KeySize]byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", models.ErrDecryptionFailed)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: invalid nonce length %d", models.ErrDecryptionFailed, len(nonce))
	}

	plaintext, ok := box.Open(nil, ciphertext, (*[NonceSize]byte)(nonce), &peerPublic, &ownPrivate)
	if !ok {
		return nil, models.ErrDecryptionFailed
	}

	return plaintext, nil
}

func isZeroKey(key [KeySize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}

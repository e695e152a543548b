package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

const boxPrivatePEMType = "X25519 PRIVATE KEY"

// SavePrivateKey writes a box private key PEM file with 0600 permissions.
func SavePrivateKey(path string, key [KeySize]byte) error {
	block := &pem.Block{
		Type:  boxPrivatePEMType,
		Bytes: key[:],
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write box private key: %w", err)
	}

	return nil
}

// LoadPrivateKey reads a box private key from a PEM file. The underlying
// fs.ErrNotExist surfaces unwrapped-compatible for absence checks.
func LoadPrivateKey(path string) ([KeySize]byte, error) {
	var key [KeySize]byte

	raw, err := os.ReadFile(path)
	if err != nil {
		return key, fmt.Errorf("read box private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return key, fmt.Errorf("decode box private PEM: no PEM block")
	}
	if block.Type != boxPrivatePEMType {
		return key, fmt.Errorf("decode box private PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != KeySize {
		return key, fmt.Errorf("decode box private PEM: invalid key size %d", len(block.Bytes))
	}

	copy(key[:], block.Bytes)
	return key, nil
}

// Fingerprint returns the truncated SHA-256 hex fingerprint of a public key.
// Fingerprints are the only key-derived value that may appear in logs.
func Fingerprint(public [KeySize]byte) string {
	sum := sha256.Sum256(public[:])
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4
// uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}

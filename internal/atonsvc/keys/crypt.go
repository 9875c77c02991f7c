package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Sealed layout: [version(1B)][salt(16B)][nonce(12B)][ciphertext(N)]
const (
	sealVersion = 0x01

	saltSize    = 16
	keySize     = 32
	nonceSize   = 12
	memory      = 64 * 1024
	iterations  = 3
	parallelism = 4

	minSealedSize = 1 + saltSize + nonceSize + 1
)

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func deriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, iterations, memory, uint8(parallelism), keySize)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := deriveKey([]byte(password), salt)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// Seal encrypts data with a key derived from password using Argon2id and
// AES-GCM.
func Seal(data []byte, password string) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize) // #nosec G407
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := []byte{sealVersion}
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, nil), nil
}

func Open(sealed []byte, password string) ([]byte, error) {
	if len(sealed) < minSealedSize {
		return nil, fmt.Errorf("invalid sealed length: %d (minimum: %d)", len(sealed), minSealedSize)
	}
	if sealed[0] != sealVersion {
		return nil, fmt.Errorf("unsupported format version: %d", sealed[0])
	}
	salt := sealed[1 : 1+saltSize]
	nonce := sealed[1+saltSize : 1+saltSize+nonceSize]
	ciphertext := sealed[1+saltSize+nonceSize:]

	aead, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plain, nil
}

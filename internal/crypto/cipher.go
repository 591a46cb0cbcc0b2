package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// NonceSize - размер nonce для AES-GCM (12 bytes стандартный размер)
const NonceSize = 12

// Sealer шифрует значения локального хранилища AES-256-GCM.
// Формат результата: nonce (12 bytes) + ciphertext + auth_tag (16 bytes).
// Нулевой Sealer (nil) пропускает данные без изменений.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer создает Sealer для 32-байтового ключа
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal шифрует plaintext. additional связывает шифротекст с ключом записи,
// чтобы значение нельзя было подменить значением другой записи.
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	if s == nil {
		return plaintext, nil
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open расшифровывает данные, созданные Seal
func (s *Sealer) Open(sealed, additional []byte) ([]byte, error) {
	if s == nil {
		return sealed, nil
	}
	if len(sealed) < NonceSize {
		return nil, fmt.Errorf("encrypted data too short")
	}

	plaintext, err := s.aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], additional)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: authentication failed or corrupted data: %w", err)
	}
	return plaintext, nil
}

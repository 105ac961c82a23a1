// Пакет credstore — хранилище пары токенов в двух уровнях (durable / ephemeral).
// sealer.go — шифрование значений durable-уровня AES-256-GCM.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sealer шифрует и расшифровывает значения слотов.
type Sealer struct {
	// gcm — AEAD cipher для шифрования/дешифрования.
	gcm cipher.AEAD
}

// NewSealer создаёт Sealer из строкового ключа.
// Base64-ключ длиной 32 байта используется как есть, любая другая строка
// хешируется SHA-256 до 32 байт.
func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return nil, errors.New("пустой ключ шифрования хранилища")
	}

	keyBytes, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(keyBytes) != 32 {
		h := sha256.Sum256([]byte(key))
		keyBytes = h[:]
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	return &Sealer{gcm: gcm}, nil
}

// LoadOrCreateKey читает ключ из файла или генерирует новый (32 байта, base64)
// и сохраняет его с правами 0600.
func LoadOrCreateKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key := strings.TrimSpace(string(data))
		if key != "" {
			return key, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("чтение ключа хранилища: %w", err)
	}

	keyBytes := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
		return "", fmt.Errorf("ошибка генерации ключа хранилища: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(keyBytes)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("создание каталога ключа: %w", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("запись ключа хранилища: %w", err)
	}
	return key, nil
}

// Seal шифрует plaintext и возвращает base64url-строку (nonce || ciphertext).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	// Уникальный nonce для каждого шифрования
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	ciphertext := s.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// Open расшифровывает строку, полученную от Seal.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования base64: %w", err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("зашифрованные данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка дешифрования: %w", err)
	}
	return plaintext, nil
}

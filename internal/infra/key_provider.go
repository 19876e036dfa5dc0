package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keyFileName = ".audit.key"
	keySize     = 32 // 256-bit SQLCipher passphrase
)

// FileKeyProvider stores the audit database key in a 0600 file inside
// the data directory.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a provider rooted at dataDir.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, keyFileName)}
}

// EnsureKey returns the existing key, generating and persisting a new
// one on first run.
func (p *FileKeyProvider) EnsureKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err == nil {
		key, derr := base64.StdEncoding.DecodeString(string(encoded))
		if derr != nil {
			return nil, fmt.Errorf("decode audit key: %w", derr)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("audit key has %d bytes, want %d", len(key), keySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read audit key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate audit key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	encodedKey := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(p.keyPath, []byte(encodedKey), 0o600); err != nil {
		return nil, fmt.Errorf("store audit key: %w", err)
	}
	return key, nil
}

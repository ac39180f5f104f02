// Package crypto handles the manual-resolution operator key: encrypted
// at-rest storage and derivation of the operator's on-record identity.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// keyfileVersion is the schema version of the encrypted keyfile.
const keyfileVersion = 1

// kdfIterations follows the OWASP minimum for PBKDF2-HMAC-SHA256.
const kdfIterations = 480_000

// keyfile is the on-disk envelope: a PBKDF2-derived AES-256 key seals the
// 32-byte private key under GCM. All binary fields are standard base64.
type keyfile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names the sources LoadKey tries for the operator's private key.
type KeyConfig struct {
	// RawPrivateKey short-circuits file handling; hex, 0x prefix optional.
	RawPrivateKey string

	// EncryptedKeyPath points at a keyfile produced by SealKey.
	EncryptedKeyPath string

	// KeyPassword unseals the keyfile.
	KeyPassword string
}

func sealCipher(password string, salt []byte) (cipher.AEAD, error) {
	aesKey := pbkdf2.Key([]byte(password), salt, kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func normalizeKeyHex(privateKeyHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: private key must be 32 bytes, got %d", len(raw))
	}
	return raw, nil
}

// SealKey encrypts a hex private key under a password and returns the
// keyfile JSON for writing to disk.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password required")
	}
	raw, err := normalizeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := sealCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	kf := keyfile{
		Version:    keyfileVersion,
		KDF:        "pbkdf2-sha256",
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, raw, nil)),
	}
	return json.MarshalIndent(kf, "", "  ")
}

// OpenKeyfile decrypts a keyfile produced by SealKey, returning the hex key
// without the 0x prefix.
func OpenKeyfile(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password required")
	}

	var kf keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse keyfile: %w", err)
	}
	if kf.Version != keyfileVersion {
		return "", fmt.Errorf("crypto: unsupported keyfile version %d", kf.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, field := range []struct {
		name string
		src  string
		dst  *[]byte
	}{
		{"salt", kf.Salt, &salt},
		{"nonce", kf.Nonce, &nonce},
		{"ciphertext", kf.Ciphertext, &ciphertext},
	} {
		decoded, err := base64.StdEncoding.DecodeString(field.src)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", field.name, err)
		}
		*field.dst = decoded
	}

	aead, err := sealCipher(password, salt)
	if err != nil {
		return "", err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: unseal failed, check password: %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadKey resolves the operator key. A raw key wins over a keyfile.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		raw, err := normalizeKeyHex(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(raw), nil
	}

	if cfg.EncryptedKeyPath == "" {
		return "", errors.New("crypto: no key source configured")
	}
	data, err := os.ReadFile(cfg.EncryptedKeyPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read keyfile: %w", err)
	}
	return OpenKeyfile(data, cfg.KeyPassword)
}

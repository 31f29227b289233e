// Package cryptox protects the identity secret key at rest. The key is
// sealed in a JSON keyfile with AES-GCM under a key derived from the
// user's passphrase via argon2id.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
)

// DeriveKey stretches a passphrase into a 32-byte AES key.
func DeriveKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// keyfile is the on-disk envelope. All binary fields are base64 via
// encoding/json's []byte handling.
type keyfile struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SealKeyfile encrypts secretKey under passphrase and writes it to path
// with owner-only permissions.
func SealKeyfile(path string, secretKey []byte, passphrase []byte) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	block, err := aes.NewCipher(DeriveKey(passphrase, salt))
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	kf := keyfile{
		Version:    1,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aesgcm.Seal(nil, nonce, secretKey, nil),
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// OpenKeyfile reads path and decrypts the secret key with passphrase.
// A wrong passphrase surfaces as a decryption error.
func OpenKeyfile(path string, passphrase []byte) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keyfile: %w", err)
	}

	var kf keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parsing keyfile: %w", err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported keyfile version %d", kf.Version)
	}

	block, err := aes.NewCipher(DeriveKey(passphrase, kf.Salt))
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	secretKey, err := aesgcm.Open(nil, kf.Nonce, kf.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting keyfile: %w", err)
	}
	return secretKey, nil
}

// Package credentials stores the upstream API credentials as an encrypted
// bundle on disk, so the secrets never sit in plaintext config files.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	pbkdf2Iter = 600_000
)

// ErrBadPassphrase means decryption failed; either the passphrase is wrong
// or the bundle file was tampered with.
var ErrBadPassphrase = errors.New("cannot decrypt credential bundle")

// Bundle holds the secrets for both upstream platforms.
type Bundle struct {
	FormAPIKey     string `json:"form_api_key"`
	FormID         string `json:"form_id"`
	SurveyAPIToken string `json:"survey_api_token"`
	SurveyID       string `json:"survey_id"`
	SurveyBaseURL  string `json:"survey_base_url"`
}

// Save encrypts the bundle with a passphrase-derived key and writes it to
// path. File layout: salt || nonce || ciphertext.
func Save(path string, bundle Bundle, passphrase string) error {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	return nil
}

// Load reads and decrypts a bundle written by Save.
func Load(path string, passphrase string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("read bundle: %w", err)
	}
	gcm, err := newGCM(passphrase, dataSlice(data, 0, saltSize))
	if err != nil {
		return Bundle{}, err
	}
	nonceEnd := saltSize + gcm.NonceSize()
	if len(data) < nonceEnd+gcm.Overhead() {
		return Bundle{}, fmt.Errorf("bundle file truncated")
	}

	plaintext, err := gcm.Open(nil, data[saltSize:nonceEnd], data[nonceEnd:], nil)
	if err != nil {
		return Bundle{}, ErrBadPassphrase
	}
	var bundle Bundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return Bundle{}, fmt.Errorf("unmarshal bundle: %w", err)
	}
	return bundle, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iter, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

func dataSlice(data []byte, from, to int) []byte {
	if len(data) < to {
		return make([]byte, to-from)
	}
	return data[from:to]
}

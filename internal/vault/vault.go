// Package vault encrypts exchange credentials at rest with AES-256-GCM.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keySize   = 32
	ivSize    = 12
	tagSize   = 16
	separator = ":"
)

var (
	ErrDecryptionFailed = errors.New("vault: decryption failed")
	ErrEmptySecret      = errors.New("vault: secret is empty")
)

// Cipher is the capability the rest of the service depends on.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Vault seals values as hex(iv):hex(tag):hex(ciphertext). A previous secret is
// kept for decryption only while keys are being rotated.
type Vault struct {
	primary  cipher.AEAD
	previous cipher.AEAD
}

func New(secret, previousSecret string) (*Vault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	primary, err := newGCM(deriveKey(secret))
	if err != nil {
		return nil, err
	}
	v := &Vault{primary: primary}
	if strings.TrimSpace(previousSecret) != "" && previousSecret != secret {
		prev, err := newGCM(deriveKey(previousSecret))
		if err != nil {
			return nil, err
		}
		v.previous = prev
	}
	return v, nil
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v == nil || v.primary == nil {
		return "", ErrEmptySecret
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: read iv: %w", err)
	}
	sealed := v.primary.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(iv) + separator + hex.EncodeToString(tag) + separator + hex.EncodeToString(ct), nil
}

func (v *Vault) Decrypt(blob string) (string, error) {
	if v == nil || v.primary == nil {
		return "", ErrEmptySecret
	}
	iv, tag, ct, err := splitBlob(blob)
	if err != nil {
		return "", err
	}
	sealed := append(ct, tag...)
	for _, gcm := range []cipher.AEAD{v.primary, v.previous} {
		if gcm == nil {
			continue
		}
		pt, err := gcm.Open(nil, iv, sealed, nil)
		if err == nil {
			return string(pt), nil
		}
	}
	return "", ErrDecryptionFailed
}

// Reencrypt reseals a blob under the primary secret. The bool reports whether
// the blob changed key.
func (v *Vault) Reencrypt(blob string) (string, bool, error) {
	if v == nil || v.primary == nil {
		return "", false, ErrEmptySecret
	}
	iv, tag, ct, err := splitBlob(blob)
	if err != nil {
		return "", false, err
	}
	if _, err := v.primary.Open(nil, iv, append(ct, tag...), nil); err == nil {
		return blob, false, nil
	}
	plain, err := v.Decrypt(blob)
	if err != nil {
		return "", false, err
	}
	out, err := v.Encrypt(plain)
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

func splitBlob(blob string) (iv, tag, ct []byte, err error) {
	parts := strings.Split(strings.TrimSpace(blob), separator)
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("%w: malformed blob", ErrDecryptionFailed)
	}
	iv, err = hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return nil, nil, nil, fmt.Errorf("%w: bad iv", ErrDecryptionFailed)
	}
	tag, err = hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, nil, nil, fmt.Errorf("%w: bad tag", ErrDecryptionFailed)
	}
	ct, err = hex.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: bad ciphertext", ErrDecryptionFailed)
	}
	return iv, tag, ct, nil
}

// deriveKey accepts a base64 encoded 32 byte key, otherwise uses the raw secret
// right-padded with '0' (or truncated) to 32 bytes.
func deriveKey(secret string) []byte {
	secret = strings.TrimSpace(secret)
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == keySize {
		return raw
	}
	key := []byte(secret)
	if len(key) >= keySize {
		return key[:keySize]
	}
	out := make([]byte, keySize)
	copy(out, key)
	for i := len(key); i < keySize; i++ {
		out[i] = '0'
	}
	return out
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

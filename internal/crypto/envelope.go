// Package crypto implements envelope encryption for secret values: a
// per-secret data key (DEK) encrypts the payload with AES-GCM, and a
// key-encryption-key (KEK) — local file or cloud KMS — wraps the DEK.
// Plaintext secret values and unwrapped DEKs never touch disk.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Envelope is the persisted shape of an encrypted secret: the AEAD-sealed
// payload, the wrapped DEK, and the id of the KEK that wrapped it.
type Envelope struct {
	Ciphertext []byte
	WrappedDEK []byte
	KEKID      string
}

const dekSize = 32 // AES-256

// Seal generates a fresh DEK, encrypts plaintext under it with AES-GCM
// (AAD binds the envelope to its owning record), and wraps the DEK with
// the active KEK.
func Seal(kek KEKProvider, plaintext, aad []byte) (*Envelope, error) {
	dek := make([]byte, dekSize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("crypto: generate dek: %w", err)
	}
	defer zero(dek)

	ciphertext, err := aeadSeal(dek, plaintext, aad)
	if err != nil {
		return nil, err
	}

	wrapped, kekID, err := kek.Wrap(dek)
	if err != nil {
		return nil, fmt.Errorf("crypto: wrap dek: %w", err)
	}

	return &Envelope{Ciphertext: ciphertext, WrappedDEK: wrapped, KEKID: kekID}, nil
}

// Open unwraps the DEK via the KEK identified by env.KEKID and decrypts
// the payload. aad must match the value passed to Seal.
func Open(kek KEKProvider, env *Envelope, aad []byte) ([]byte, error) {
	dek, err := kek.Unwrap(env.WrappedDEK, env.KEKID)
	if err != nil {
		return nil, fmt.Errorf("crypto: unwrap dek: %w", err)
	}
	defer zero(dek)

	plaintext, err := aeadOpen(dek, env.Ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt: %w", err)
	}
	return plaintext, nil
}

// Rewrap unwraps env's DEK under its current KEK and re-wraps it under
// newKEK, without touching the ciphertext payload. Used for KEK rotation.
// env must still be wrapped under oldKEK: an envelope whose KEKID already
// names newKEK is not skipped here, and a LocalFileKEK oldKEK rejects it
// with an id-mismatch error.
func Rewrap(oldKEK, newKEK KEKProvider, env *Envelope) (*Envelope, error) {
	dek, err := oldKEK.Unwrap(env.WrappedDEK, env.KEKID)
	if err != nil {
		return nil, fmt.Errorf("crypto: unwrap for rotation: %w", err)
	}
	defer zero(dek)

	wrapped, kekID, err := newKEK.Wrap(dek)
	if err != nil {
		return nil, fmt.Errorf("crypto: rewrap: %w", err)
	}

	return &Envelope{Ciphertext: env.Ciphertext, WrappedDEK: wrapped, KEKID: kekID}, nil
}

func aeadSeal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func aeadOpen(key, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, aad)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// KEKProvider wraps and unwraps data encryption keys. Implementations are
// the boundary between plaintext DEKs and durable storage.
type KEKProvider interface {
	// Wrap encrypts dek and returns the wrapped bytes plus the id of the
	// key used, so Unwrap can later locate it even after rotation.
	Wrap(dek []byte) (wrapped []byte, kekID string, err error)
	// Unwrap decrypts wrapped bytes that were sealed under kekID.
	Unwrap(wrapped []byte, kekID string) (dek []byte, err error)
}

// LocalFileKEK wraps DEKs with a static AES-256 key read from
// LOCAL_KEK_BASE64. Intended for single-node deployments and local
// development; production multi-tenant deployments should use KMSKEK.
type LocalFileKEK struct {
	key []byte
	id  string
}

// NewLocalFileKEK decodes a base64 32-byte key. id labels this key so
// rewrap operations can tell which KEK sealed a given envelope.
func NewLocalFileKEK(base64Key, id string) (*LocalFileKEK, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode local kek: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: local kek must be 32 bytes, got %d", len(key))
	}
	if id == "" {
		id = "local"
	}
	return &LocalFileKEK{key: key, id: id}, nil
}

func (k *LocalFileKEK) Wrap(dek []byte) ([]byte, string, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, "", fmt.Errorf("crypto: local kek cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", fmt.Errorf("crypto: local kek nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, dek, nil), k.id, nil
}

func (k *LocalFileKEK) Unwrap(wrapped []byte, kekID string) ([]byte, error) {
	if kekID != k.id {
		return nil, fmt.Errorf("crypto: local kek id mismatch: have %s, want %s", k.id, kekID)
	}
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: local kek cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: wrapped dek too short")
	}
	nonce, body := wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

// KMSKEK wraps DEKs via a cloud KMS key (AWS KMS Encrypt/Decrypt). The
// key reference (KEK_REF) is the key ARN or alias; the returned kekID is
// that same reference so rotation can target a specific KMS key version
// by re-pointing KEK_REF and rewrapping existing rows.
type KMSKEK struct {
	client *kms.Client
	keyRef string
}

// NewKMSKEK loads the default AWS credential chain and binds to keyRef.
func NewKMSKEK(ctx context.Context, keyRef string) (*KMSKEK, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("crypto: load aws config: %w", err)
	}
	return &KMSKEK{client: kms.NewFromConfig(cfg), keyRef: keyRef}, nil
}

func (k *KMSKEK) Wrap(dek []byte) ([]byte, string, error) {
	out, err := k.client.Encrypt(context.Background(), &kms.EncryptInput{
		KeyId:     aws.String(k.keyRef),
		Plaintext: dek,
	})
	if err != nil {
		return nil, "", fmt.Errorf("crypto: kms encrypt: %w", err)
	}
	return out.CiphertextBlob, k.keyRef, nil
}

func (k *KMSKEK) Unwrap(wrapped []byte, kekID string) ([]byte, error) {
	out, err := k.client.Decrypt(context.Background(), &kms.DecryptInput{
		KeyId:          aws.String(kekID),
		CiphertextBlob: wrapped,
	})
	if err != nil {
		return nil, fmt.Errorf("crypto: kms decrypt: %w", err)
	}
	return out.Plaintext, nil
}

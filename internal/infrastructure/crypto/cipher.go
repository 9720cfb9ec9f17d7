package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
)

const envelopeAlg = "aes-256-gcm"

// envelope is the self-describing stored form of an encrypted payload:
// algorithm tag, per-record nonce and ciphertext are enough to decrypt.
type envelope struct {
	Alg   string `json:"alg"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// FieldCipher encrypts sensitive event payloads at rest using AES-256-GCM
// with a fresh random nonce per record. When disabled, payloads pass through
// as plain JSON. An encryption failure fails the write; there is no silent
// plaintext fallback.
type FieldCipher struct {
	enabled bool
	aead    cipher.AEAD
}

// NewFieldCipher creates a cipher from a 32-byte key. The key is required
// only when encryption is enabled.
func NewFieldCipher(key []byte, enabled bool) (*FieldCipher, error) {
	if !enabled {
		return &FieldCipher{}, nil
	}

	if len(key) != 32 {
		return nil, errors.NewCryptoError("INVALID_KEY_LENGTH",
			"encryption key must be 32 bytes for AES-256")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewCryptoError("CIPHER_INIT_FAILED",
			"failed to initialize AES cipher").WithCause(err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewCryptoError("CIPHER_INIT_FAILED",
			"failed to initialize GCM mode").WithCause(err)
	}

	return &FieldCipher{enabled: true, aead: aead}, nil
}

// Enabled reports whether payloads are encrypted at rest
func (c *FieldCipher) Enabled() bool {
	return c.enabled
}

// Encrypt serializes the payload and, when enabled, wraps it in an
// authenticated envelope. Returns the string stored in the details column.
func (c *FieldCipher) Encrypt(payload map[string]interface{}) (string, error) {
	if payload == nil {
		return "", nil
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", errors.NewCryptoError("PAYLOAD_MARSHAL_FAILED",
			"failed to serialize payload").WithCause(err)
	}

	if !c.enabled {
		return string(plaintext), nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.NewCryptoError("NONCE_GENERATION_FAILED",
			"failed to generate nonce").WithCause(err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)

	env := envelope{
		Alg:   envelopeAlg,
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(sealed),
	}

	stored, err := json.Marshal(env)
	if err != nil {
		return "", errors.NewCryptoError("ENVELOPE_MARSHAL_FAILED",
			"failed to serialize envelope").WithCause(err)
	}

	return string(stored), nil
}

// Decrypt reverses Encrypt. Failures return a typed crypto error, never a
// silently empty payload.
func (c *FieldCipher) Decrypt(stored string) (map[string]interface{}, error) {
	if stored == "" {
		return nil, nil
	}

	if !c.enabled {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(stored), &payload); err != nil {
			return nil, errors.NewCryptoError("PAYLOAD_UNMARSHAL_FAILED",
				"failed to parse stored payload").WithCause(err)
		}
		return payload, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(stored), &env); err != nil {
		return nil, errors.NewCryptoError("ENVELOPE_UNMARSHAL_FAILED",
			"failed to parse ciphertext envelope").WithCause(err)
	}
	if env.Alg != envelopeAlg {
		return nil, errors.NewCryptoError("UNSUPPORTED_ALGORITHM",
			"unsupported envelope algorithm: "+env.Alg)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, errors.NewCryptoError("INVALID_NONCE",
			"failed to decode nonce").WithCause(err)
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, errors.NewCryptoError("INVALID_CIPHERTEXT",
			"failed to decode ciphertext").WithCause(err)
	}

	plaintext, err := c.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return nil, errors.NewCryptoError("DECRYPTION_FAILED",
			"failed to decrypt payload").WithCause(err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, errors.NewCryptoError("PAYLOAD_UNMARSHAL_FAILED",
			"failed to parse decrypted payload").WithCause(err)
	}

	return payload, nil
}

// ParseKey decodes a configured key string. Accepts a base64-encoded
// 32-byte key or a raw 32-byte string.
func ParseKey(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.NewCryptoError("MISSING_KEY", "encryption key is required")
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(value) == 32 {
		return []byte(value), nil
	}
	return nil, errors.NewCryptoError("INVALID_KEY",
		"encryption key must be 32 bytes, raw or base64 encoded")
}

package privacy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// EnvelopeVersion identifies the current envelope layout.
const EnvelopeVersion = 1

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	ErrInvalidKey      = errors.New("encryption key must be 32 bytes (raw or base64)")
	ErrInvalidEnvelope = errors.New("malformed PII envelope")
)

// Cipher encrypts and decrypts PII flag maps with AES-256-GCM. The zero
// value is unusable; construct with NewCipher.
type Cipher struct {
	key []byte
}

// NewCipher accepts a 32-byte key, raw or base64-encoded.
func NewCipher(key string) (*Cipher, error) {
	material, err := DecodeKey(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{key: material}, nil
}

// DecodeKey normalizes a raw or base64-encoded 32-byte key.
func DecodeKey(key string) ([]byte, error) {
	trimmed := strings.TrimSpace(key)
	if len(trimmed) == keySize {
		return []byte(trimmed), nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding} {
		decoded, err := enc.DecodeString(trimmed)
		if err == nil && len(decoded) == keySize {
			return decoded, nil
		}
	}
	return nil, ErrInvalidKey
}

// Encrypt seals the flag map into a persisted envelope.
func (c *Cipher) Encrypt(flags map[string]bool) (*memcore.PIIEnvelope, error) {
	plaintext, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PII flags: %w", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	return &memcore.PIIEnvelope{
		Version: EnvelopeVersion,
		IV:      base64.StdEncoding.EncodeToString(iv),
		Tag:     base64.StdEncoding.EncodeToString(tag),
		Data:    base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt opens a persisted envelope back into the flag map.
func (c *Cipher) Decrypt(env *memcore.PIIEnvelope) (map[string]bool, error) {
	if env == nil {
		return nil, ErrInvalidEnvelope
	}
	if env.Version != EnvelopeVersion {
		return nil, core.InvalidArgument("unsupported PII envelope version %d", env.Version)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != nonceSize {
		return nil, ErrInvalidEnvelope
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != tagSize {
		return nil, ErrInvalidEnvelope
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	sealed := append(append([]byte{}, data...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt PII envelope: %w", err)
	}
	var flags map[string]bool
	if err := json.Unmarshal(plaintext, &flags); err != nil {
		return nil, fmt.Errorf("failed to decode PII flags: %w", err)
	}
	return flags, nil
}

// SanitizeFlags trims flag names and drops empties; nil stays nil.
func SanitizeFlags(flags map[string]bool) map[string]bool {
	if flags == nil {
		return nil
	}
	out := make(map[string]bool, len(flags))
	for name, raised := range flags {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out[name] = raised
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// AnyRaised reports whether at least one flag is set.
func AnyRaised(flags map[string]bool) bool {
	for _, raised := range flags {
		if raised {
			return true
		}
	}
	return false
}

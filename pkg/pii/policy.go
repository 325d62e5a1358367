// Package pii implements the field-level PII handling policy: scrub,
// one-way hash, envelope-encrypt, or pass a value through unchanged.
// Ported from _examples/original_source/src/pii/pii_policy.rs, with the
// AES-256-GCM envelope encryption itself adapted from
// _examples/cuemby-warren/pkg/security/secrets.go's SecretsManager
// (stdlib crypto/cipher instead of the original's ring crate).
package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// Action is how a field's value should be protected.
type Action string

const (
	ActionScrub       Action = "scrub"
	ActionHash        Action = "hash"
	ActionEncrypt     Action = "encrypt"
	ActionPassthrough Action = "passthrough"
)

// PolicyConfig maps field names to the Action applied to them, falling
// back to DefaultAction for any field with no explicit rule.
type PolicyConfig struct {
	Rules         map[string]Action
	DefaultAction Action
}

// Envelope is the serialized form of an AES-256-GCM-encrypted value.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
}

const algorithmAESGCM = "AES-256-GCM"
const scrubbedPlaceholder = "[REDACTED]"

// Engine applies a PolicyConfig to field values, encrypting with a
// single 32-byte master key identified by keyID.
type Engine struct {
	config    PolicyConfig
	gcm       cipher.AEAD
	masterKey []byte
	keyID     string
}

// NewEngine builds an Engine. masterKey must be exactly 32 bytes
// (AES-256).
func NewEngine(config PolicyConfig, masterKey []byte, keyID string) (*Engine, error) {
	if len(masterKey) != 32 {
		return nil, vigilerr.New(vigilerr.KindPiiInvalidKey, "master key must be exactly 32 bytes for AES-256")
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindPiiInvalidKey, "failed to initialize AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindPiiInvalidKey, "failed to initialize AES-GCM", err)
	}

	if config.DefaultAction == "" {
		config.DefaultAction = ActionPassthrough
	}

	return &Engine{config: config, gcm: gcm, masterKey: masterKey, keyID: keyID}, nil
}

// ParseMasterKeyHex decodes a 64-character hex string into a 32-byte key.
func ParseMasterKeyHex(hexKey string) ([]byte, error) {
	if len(hexKey) != 64 {
		return nil, vigilerr.New(vigilerr.KindPiiInvalidKey, "hex master key must be 64 characters (32 bytes)")
	}
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindPiiInvalidKey, "invalid hex in master key", err)
	}
	return b, nil
}

// GetAction returns the Action configured for fieldName, or the policy's
// DefaultAction if no rule matches.
func (e *Engine) GetAction(fieldName string) Action {
	if a, ok := e.config.Rules[fieldName]; ok {
		return a
	}
	return e.config.DefaultAction
}

// Apply applies fieldName's configured Action to value, returning the
// value to actually persist.
func (e *Engine) Apply(fieldName, value string) (string, error) {
	switch e.GetAction(fieldName) {
	case ActionScrub:
		return scrubbedPlaceholder, nil
	case ActionHash:
		return "sha256:" + e.HashValue(value), nil
	case ActionEncrypt:
		env, err := e.Encrypt(value)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(env)
		if err != nil {
			return "", vigilerr.Wrap(vigilerr.KindPiiDecryptFailed, "failed to encode encrypted envelope", err)
		}
		return string(out), nil
	default:
		return value, nil
	}
}

// HashValue returns the lowercase hex SHA-256 of value.
func (e *Engine) HashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Encrypt envelope-encrypts plaintext with AES-256-GCM under a random
// nonce.
func (e *Engine) Encrypt(plaintext string) (Envelope, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, vigilerr.Wrap(vigilerr.KindPiiDecryptFailed, "failed to generate nonce", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		KeyID:      e.keyID,
		Algorithm:  algorithmAESGCM,
	}, nil
}

// Decrypt opens env, logging an audit record naming actor/reason/field.
// Only an Engine holding the matching key ID can decrypt an envelope.
func (e *Engine) Decrypt(env Envelope, actor, reason, fieldName string) (string, error) {
	if env.KeyID != e.keyID {
		return "", vigilerr.New(vigilerr.KindPiiKeyIDMismatch, fmt.Sprintf("key ID mismatch: expected %s, got %s", e.keyID, env.KeyID))
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", vigilerr.Wrap(vigilerr.KindPiiDecryptFailed, "failed to decode ciphertext", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", vigilerr.Wrap(vigilerr.KindPiiDecryptFailed, "failed to decode nonce", err)
	}
	if len(nonce) != e.gcm.NonceSize() {
		return "", vigilerr.New(vigilerr.KindPiiDecryptFailed, "invalid nonce length")
	}

	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", vigilerr.Wrap(vigilerr.KindPiiDecryptFailed, "decryption failed", err)
	}

	log.WithComponent("pii").Info().
		Str("actor", actor).Str("reason", reason).Str("field", fieldName).Str("key_id", env.KeyID).
		Msg("AUDIT: decrypt")

	return string(plaintext), nil
}

// IsEncrypted heuristically reports whether value is a JSON-encoded
// Envelope produced by Encrypt.
func IsEncrypted(value string) bool {
	var env Envelope
	if err := json.Unmarshal([]byte(value), &env); err != nil {
		return false
	}
	return env.Algorithm == algorithmAESGCM
}

// IsHashed heuristically reports whether value was produced by
// HashValue/Apply's hash action.
func IsHashed(value string) bool {
	return strings.HasPrefix(value, "sha256:")
}

// ValidateNoPlaintextPII walks a decoded JSON object and checks that any
// field configured for Hash or Encrypt holds protected, not plaintext,
// data. A field with no explicit rule is checked against DefaultAction.
// Nested objects and arrays of objects are checked recursively; other
// value types, and fields whose action is neither Hash nor Encrypt, are
// ignored.
func (e *Engine) ValidateNoPlaintextPII(doc map[string]interface{}) error {
	return e.validateNode(doc, "")
}

func (e *Engine) validateNode(node interface{}, path string) error {
	switch v := node.(type) {
	case map[string]interface{}:
		for field, val := range v {
			fieldPath := field
			if path != "" {
				fieldPath = path + "." + field
			}

			if s, ok := val.(string); ok {
				switch e.GetAction(field) {
				case ActionHash:
					if !IsHashed(s) {
						return vigilerr.New(vigilerr.KindPiiPlaintextLeaked, fmt.Sprintf("field %q must be hashed but holds plaintext", fieldPath))
					}
				case ActionEncrypt:
					if !IsEncrypted(s) {
						return vigilerr.New(vigilerr.KindPiiPlaintextLeaked, fmt.Sprintf("field %q must be encrypted but holds plaintext", fieldPath))
					}
				}
				continue
			}

			if err := e.validateNode(val, fieldPath); err != nil {
				return err
			}
		}
	case []interface{}:
		for i, item := range v {
			if err := e.validateNode(item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

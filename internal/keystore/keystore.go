package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	pebblestore "github.com/pacekit/syncd/internal/storage/pebble"
)

const algorithmAESGCM = "aes-256-gcm"

var (
	// ErrNotFound is returned when no value exists for the key.
	ErrNotFound = errors.New("keystore: not found")
	// ErrEncrypt is returned when sealing fails. Nothing is persisted.
	ErrEncrypt = errors.New("keystore: encryption failed")
	// ErrDecrypt is returned when an envelope cannot be opened.
	ErrDecrypt = errors.New("keystore: decryption failed")
)

// Store is the encrypted keystore collaborator. Keys are scoped per owner.
// Get reports whether the stored value was encrypted so callers can migrate
// legacy plaintext values on read.
type Store interface {
	Get(owner, key string) (value []byte, encrypted bool, err error)
	Set(owner, key string, value []byte) error
	Remove(owner, key string) error
	// Keys lists the key names stored for an owner.
	Keys(owner string) ([]string, error)
}

// envelope is the persisted form of an encrypted value.
type envelope struct {
	Algorithm  string `json:"algorithm"`
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// AES implements Store with AES-256-GCM sealing over Pebble.
type AES struct {
	db   *pebblestore.DB
	aead cipher.AEAD
}

// NewAES derives a 32-byte key from secret via SHA-256 and returns a ready
// keystore.
func NewAES(db *pebblestore.DB, secret []byte) (*AES, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrEncrypt)
	}
	derived := sha256.Sum256(secret)
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	return &AES{db: db, aead: aead}, nil
}

func storeKey(owner, key string) []byte {
	return []byte("ks/" + owner + "/" + key)
}

// Set seals value and persists the envelope. On sealing failure nothing is
// written.
func (s *AES) Set(owner, key string, value []byte) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	sealed := s.aead.Seal(nil, nonce, value, nil)

	env := envelope{
		Algorithm:  algorithmAESGCM,
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		IV:         base64.StdEncoding.EncodeToString(nonce),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	return s.db.Set(storeKey(owner, key), raw)
}

// Get returns the plaintext value. Values persisted before encryption was
// introduced come back verbatim with encrypted=false.
func (s *AES) Get(owner, key string) ([]byte, bool, error) {
	raw, err := s.db.Get(storeKey(owner, key))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Algorithm == "" {
		// Legacy unencrypted value.
		return raw, false, nil
	}
	if env.Algorithm != algorithmAESGCM {
		return nil, false, fmt.Errorf("%w: unsupported algorithm %q", ErrDecrypt, env.Algorithm)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, false, fmt.Errorf("%w: bad iv", ErrDecrypt)
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, false, fmt.Errorf("%w: bad ciphertext", ErrDecrypt)
	}
	if len(nonce) != s.aead.NonceSize() {
		return nil, false, fmt.Errorf("%w: bad iv length", ErrDecrypt)
	}
	plain, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, false, ErrDecrypt
	}
	return plain, true, nil
}

// Remove deletes the value for the key.
func (s *AES) Remove(owner, key string) error {
	return s.db.Delete(storeKey(owner, key))
}

// Keys lists the key names stored for an owner.
func (s *AES) Keys(owner string) ([]string, error) {
	prefix := []byte("ks/" + owner + "/")
	kvs, err := s.db.ScanPrefix(prefix, 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, string(kv.Key[len(prefix):]))
	}
	return out, nil
}

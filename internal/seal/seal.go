// Package seal is the byte-level codec wrapped around the persisted index.
package seal

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Codec transforms the serialized index on its way to and from storage.
type Codec interface {
	Seal(plain []byte) ([]byte, error)
	Open(stored []byte) ([]byte, error)
}

// ErrKey means a sealed document cannot be opened with the configured key,
// or no key is configured at all. The document itself may be intact.
var ErrKey = errors.New("seal: key does not open this document")

// Plain stores the index as is.
type Plain struct{}

func (Plain) Seal(plain []byte) ([]byte, error) { return plain, nil }

func (Plain) Open(stored []byte) ([]byte, error) {
	if IsSealed(stored) {
		return nil, fmt.Errorf("%w: document is sealed and no key is configured", ErrKey)
	}
	return stored, nil
}

// magic prefixes every sealed document.
var magic = []byte("MIOSEAL1")

// IsSealed reports whether b was written by a Sealed codec.
func IsSealed(b []byte) bool { return bytes.HasPrefix(b, magic) }

const keySize = chacha20poly1305.KeySize

// Sealed encrypts with XChaCha20-Poly1305 under a key derived from the
// installation secret. The key lives in a locked, non-swappable buffer.
type Sealed struct {
	key *memguard.LockedBuffer
}

// NewSealed derives the index key from secret. secret is wiped.
func NewSealed(secret []byte) (*Sealed, error) {
	if len(secret) < keySize {
		return nil, fmt.Errorf("seal: secret must be at least %d bytes, got %d", keySize, len(secret))
	}
	r := hkdf.New(sha256.New, secret, []byte("mioring-index"), []byte("index-v1"))
	key := make([]byte, keySize)
	_, err := io.ReadFull(r, key)
	memguard.WipeBytes(secret)
	if err != nil {
		return nil, fmt.Errorf("seal: derive key: %w", err)
	}
	buf := memguard.NewBufferFromBytes(key)
	if buf.Size() == 0 {
		return nil, fmt.Errorf("seal: failed to allocate locked key buffer")
	}
	return &Sealed{key: buf}, nil
}

func (s *Sealed) Seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("seal: cipher: %w", err)
	}
	out := make([]byte, len(magic)+aead.NonceSize(), len(magic)+aead.NonceSize()+len(plain)+aead.Overhead())
	copy(out, magic)
	nonce := out[len(magic):]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return aead.Seal(out, nonce, plain, magic), nil
}

// Open decrypts a sealed document. A document without the sealed prefix is
// returned unchanged, so an index written before sealing was enabled still
// loads and is sealed on the next flush. Failed authentication is ErrKey:
// a wrong key and a tampered body look the same.
func (s *Sealed) Open(stored []byte) ([]byte, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	aead, err := chacha20poly1305.NewX(s.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("seal: cipher: %w", err)
	}
	body := stored[len(magic):]
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("seal: document truncated")
	}
	nonce, ciphertext := body[:aead.NonceSize()], body[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, magic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKey, err)
	}
	return plain, nil
}

// Close destroys the key.
func (s *Sealed) Close() {
	s.key.Destroy()
}

// GenerateKeyFile writes a fresh random secret to path (mode 0600). An
// existing file is left untouched and reported via created=false.
func GenerateKeyFile(path string) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("seal: stat key: %w", err)
	}
	secret := make([]byte, keySize)
	if _, err := rand.Read(secret); err != nil {
		return false, fmt.Errorf("seal: generate key: %w", err)
	}
	defer memguard.WipeBytes(secret)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("seal: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return false, fmt.Errorf("seal: create key: %w", err)
	}
	if _, err := f.Write(secret); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("seal: write key: %w", err)
	}
	return true, f.Close()
}

// FromKeyFile loads the secret at path into a Sealed codec.
func FromKeyFile(path string) (*Sealed, error) {
	secret, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seal: read key: %w", err)
	}
	return NewSealed(secret)
}

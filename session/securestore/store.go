// Package securestore persists session snapshots to disk encrypted at
// rest. Tokens are long-lived credentials, so the snapshot slot is sealed
// with XChaCha20-Poly1305 under a key derived from an installation secret.
package securestore

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/curiobid/go-marketplace-client/session"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var _ session.Store = (*Store)(nil)

const keyDerivationInfo = "curiobid snapshot store v1"

// Store is a file-backed, encrypted session.Store. Each key maps to one
// sealed file under dir.
type Store struct {
	dir  string
	aead cipher.AEAD
}

// New creates a secure store rooted at dir. secret is the installation
// secret the sealing key is derived from; it must not be empty.
func New(dir string, secret []byte) (*Store, error) {
	if len(secret) == 0 {
		return nil, errors.New("[securestore.New] secret is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "[securestore.New] create store dir")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "[securestore.New] derive key")
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "[securestore.New] init cipher")
	}

	return &Store{dir: dir, aead: aead}, nil
}

func (s *Store) Persist(key string, value []byte) error {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return errors.Wrap(err, "[Store.Persist] generate nonce")
	}

	sealed := s.aead.Seal(nonce, nonce, value, []byte(key))
	if err := os.WriteFile(s.path(key), sealed, 0o600); err != nil {
		return errors.Wrap(err, "[Store.Persist] write snapshot file")
	}
	return nil
}

func (s *Store) Read(key string) ([]byte, error) {
	sealed, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, session.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Read] read snapshot file")
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("[Store.Read] snapshot file truncated")
	}

	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	value, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Read] decrypt snapshot")
	}
	return value, nil
}

func (s *Store) Clear(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[Store.Clear] remove snapshot file")
	}
	return nil
}

// path maps a slot key to a file name, replacing separators so keys cannot
// escape the store directory.
func (s *Store) path(key string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(s.dir, name+".bin")
}

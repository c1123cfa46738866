// Package credentials implements the Credential Store abstraction: a
// platform-keychain-first, encrypted-file-fallback vault for the four
// credential kinds the kernel handles, plus the PIN/TOTP authenticator
// built on top of it.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/ara-systems/ara/internal/arerr"
)

// Kind is a closed enumeration of the four credential kinds the kernel
// stores.
type Kind string

const (
	KindPINHash       Kind = "pin_hash"
	KindTOTPSeed      Kind = "totp_seed"
	KindAuditHMACKey  Kind = "audit_hmac_key"
	KindSessionTokens Kind = "session_tokens"
)

// Store is the capability trait every backend implements, per the
// duck-typing-to-capability-trait design note.
type Store interface {
	Store(service, key string, value []byte) error
	Retrieve(service, key string) ([]byte, error)
	Delete(service, key string) error
}

// ErrInsecurePermissions is returned when the encrypted fallback file's
// mode is not user-only readable/writable.
var ErrInsecurePermissions = errors.New("credential file has insecure permissions")

// KeychainStore backs onto the OS-native secret vault (macOS Keychain,
// Windows Credential Manager, Linux Secret Service) via go-keyring.
type KeychainStore struct{}

func (KeychainStore) Store(service, key string, value []byte) error {
	if err := keyring.Set(service, key, string(value)); err != nil {
		return arerr.Wrap(arerr.KindInternal, "keychain store failed", err)
	}
	return nil
}

func (KeychainStore) Retrieve(service, key string) ([]byte, error) {
	v, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, arerr.New(arerr.KindNotFound, "credential not found")
		}
		return nil, arerr.Wrap(arerr.KindInternal, "keychain retrieve failed", err)
	}
	return []byte(v), nil
}

func (KeychainStore) Delete(service, key string) error {
	if err := keyring.Delete(service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return arerr.Wrap(arerr.KindInternal, "keychain delete failed", err)
	}
	return nil
}

// EncryptedFileStore is the fallback backend: one AES-256-GCM encrypted
// file per credential, keyed by a machine-derived key via HKDF, readable
// only by the current user.
type EncryptedFileStore struct {
	mu   sync.Mutex
	dir  string
	seed []byte // machine-bound seed, e.g. derived from a local secret file
}

// NewEncryptedFileStore opens (creating if absent) the credential
// directory at dir, deriving its encryption key from seed.
func NewEncryptedFileStore(dir string, seed []byte) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot create credential dir", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot stat credential dir", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, arerr.Wrap(arerr.KindInternal, "credential dir", ErrInsecurePermissions)
	}
	return &EncryptedFileStore{dir: dir, seed: seed}, nil
}

func (s *EncryptedFileStore) path(service, key string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.enc", service, key))
}

func (s *EncryptedFileStore) deriveKey(service, key string) ([]byte, error) {
	h := hkdf.New(sha256.New, s.seed, nil, []byte(service+":"+key))
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *EncryptedFileStore) Store(service, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dk, err := s.deriveKey(service, key)
	if err != nil {
		return arerr.Wrap(arerr.KindInternal, "key derivation failed", err)
	}
	block, err := aes.NewCipher(dk)
	if err != nil {
		return arerr.Wrap(arerr.KindInternal, "cipher init failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return arerr.Wrap(arerr.KindInternal, "gcm init failed", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return arerr.Wrap(arerr.KindInternal, "nonce generation failed", err)
	}
	sealed := gcm.Seal(nonce, nonce, value, nil)
	return os.WriteFile(s.path(service, key), sealed, 0o600)
}

func (s *EncryptedFileStore) Retrieve(service, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path(service, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, arerr.New(arerr.KindNotFound, "credential not found")
		}
		return nil, arerr.Wrap(arerr.KindInternal, "cannot stat credential file", err)
	}
	if info.Mode().Perm() != 0o600 {
		return nil, arerr.Wrap(arerr.KindInternal, "credential file", ErrInsecurePermissions)
	}

	sealed, err := os.ReadFile(s.path(service, key))
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot read credential file", err)
	}
	dk, err := s.deriveKey(service, key)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "key derivation failed", err)
	}
	block, err := aes.NewCipher(dk)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cipher init failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "gcm init failed", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, arerr.New(arerr.KindInternal, "corrupt credential file")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "decryption failed", err)
	}
	return plain, nil
}

func (s *EncryptedFileStore) Delete(service, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(service, key))
	if err != nil && !os.IsNotExist(err) {
		return arerr.Wrap(arerr.KindInternal, "cannot delete credential file", err)
	}
	return nil
}

// auditHMACKeyBytes is the size of a generated audit hash-chain seed.
const auditHMACKeyBytes = 32

// LoadOrCreateAuditHMACKey retrieves the machine-bound seed the Audit
// Log derives its hash-chain HMAC key from (§4.6), generating and
// persisting a fresh random one on first use. Unlike role names or the
// kernel instance ID, this value never appears in plaintext config or
// role YAML, so read access to those files alone isn't enough to
// recompute valid HMACs and forge chain-consistent entries.
func LoadOrCreateAuditHMACKey(store Store) ([]byte, error) {
	key, err := store.Retrieve(service, string(KindAuditHMACKey))
	if err == nil {
		return key, nil
	}
	if !arerr.Is(err, arerr.KindNotFound) {
		return nil, err
	}
	key = make([]byte, auditHMACKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "audit HMAC key generation failed", err)
	}
	if err := store.Store(service, string(KindAuditHMACKey), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Fallback tries primary first and, on any failure, retries against
// secondary — the "platform keychain, else encrypted file" preference
// order named by the kernel's storage contract.
type Fallback struct {
	Primary   Store
	Secondary Store
}

func (f Fallback) Store(service, key string, value []byte) error {
	if err := f.Primary.Store(service, key, value); err == nil {
		return nil
	}
	return f.Secondary.Store(service, key, value)
}

func (f Fallback) Retrieve(service, key string) ([]byte, error) {
	if v, err := f.Primary.Retrieve(service, key); err == nil {
		return v, nil
	}
	return f.Secondary.Retrieve(service, key)
}

func (f Fallback) Delete(service, key string) error {
	err1 := f.Primary.Delete(service, key)
	err2 := f.Secondary.Delete(service, key)
	if err1 != nil {
		return err1
	}
	return err2
}

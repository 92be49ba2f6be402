// Package vault implements the Secrets Vault: an authenticated-encryption
// store for API keys and OAuth tokens, keyed by a machine-bound symmetric
// key. No pack example reaches for a third-party AEAD library — quantumlife
// canon-core's sealed secret store (internal/persist/sealed_secret_store.go)
// builds its own AES-GCM wrapper directly on crypto/aes and crypto/cipher,
// so this package follows that same stdlib-only construction rather than
// inventing a dependency the corpus never uses for this concern.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/echonote/engine/internal/errs"
)

const (
	saltSize           = 32
	keySize            = 32
	pbkdf2Iters        = 120_000
	saltFileName       = "vault.salt"
	fallbackIDFileName = "vault.machine-id"
	passwordSalt       = 16
	passwordHash       = 32
	passwordIters      = 200_000
	filePermission     = 0o600
	dirPermission      = 0o700
)

// Vault encrypts and decrypts secrets with a key derived from a machine
// identifier and a locally persisted salt.
type Vault struct {
	mu  sync.RWMutex
	gcm cipher.AEAD
	key []byte

	dataDir string
}

// Open derives the vault key from the machine identifier and the salt file
// under dataDir (creating the salt on first run) and returns a ready Vault.
func Open(dataDir string) (*Vault, error) {
	if err := os.MkdirAll(dataDir, dirPermission); err != nil {
		return nil, errs.Fatalf("vault: create data dir: %w", err)
	}

	salt, err := loadOrCreateSalt(filepath.Join(dataDir, saltFileName))
	if err != nil {
		return nil, errs.Fatalf("vault: load salt: %w", err)
	}

	key, err := deriveKey(dataDir, salt)
	if err != nil {
		return nil, errs.Fatalf("vault: derive key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, errs.Fatalf("vault: init cipher: %w", err)
	}

	return &Vault{gcm: gcm, key: key, dataDir: dataDir}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func deriveKey(dataDir string, salt []byte) ([]byte, error) {
	id, err := machineIdentifier(dataDir)
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key([]byte(id), salt, pbkdf2Iters, keySize, sha256.New), nil
}

// Key returns the raw derived key; callers must never log this value. The
// Persistent Store has no page-level cipher and does not call it.
func (v *Vault) Key() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]byte, len(v.key))
	copy(out, v.key)
	return out
}

// KeyHex returns the derived key as a lowercase hex string, the form the
// Persistent Store's Rekey takes; Rekey ignores it and always reports that
// no cipher is available.
func (v *Vault) KeyHex() string {
	return hex.EncodeToString(v.Key())
}

// Encrypt encrypts plaintext with AES-GCM using a fresh 96-bit nonce and
// returns base64(nonce || ciphertext || tag). Empty input maps to empty
// output.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	v.mu.RLock()
	gcm := v.gcm
	v.mu.RUnlock()

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errs.Fatalf("vault: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Returns IntegrityError when the tag does not
// verify.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errs.Integrityf("vault: invalid base64 ciphertext: %w", err)
	}

	v.mu.RLock()
	gcm := v.gcm
	v.mu.RUnlock()

	if len(raw) < gcm.NonceSize() {
		return "", errs.Integrityf("vault: ciphertext shorter than nonce")
	}

	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", errs.Integrityf("vault: authentication tag mismatch: %w", err)
	}

	return string(plaintext), nil
}

// EncryptDict applies Encrypt recursively to every string leaf of a nested
// map; non-string leaves pass through unchanged.
func (v *Vault) EncryptDict(d map[string]any) (map[string]any, error) {
	return v.walkDict(d, v.Encrypt)
}

// DecryptDict is the inverse of EncryptDict.
func (v *Vault) DecryptDict(d map[string]any) (map[string]any, error) {
	return v.walkDict(d, v.Decrypt)
}

func (v *Vault) walkDict(d map[string]any, leaf func(string) (string, error)) (map[string]any, error) {
	out := make(map[string]any, len(d))
	for k, val := range d {
		switch t := val.(type) {
		case string:
			transformed, err := leaf(t)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = transformed
		case map[string]any:
			nested, err := v.walkDict(t, leaf)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = nested
		default:
			out[k] = val
		}
	}
	return out, nil
}

// HashPassword derives a salted PBKDF2-HMAC-SHA256 hash of p and returns
// base64(salt || hash).
func HashPassword(p string) (string, error) {
	salt := make([]byte, passwordSalt)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errs.Fatalf("vault: generate password salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(p), salt, passwordIters, passwordHash, sha256.New)
	return base64.StdEncoding.EncodeToString(append(salt, hash...)), nil
}

// VerifyPassword checks p against a hash produced by HashPassword using a
// constant-time comparison.
func VerifyPassword(p, encoded string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false, errs.Integrityf("vault: invalid password hash encoding: %w", err)
	}
	if len(raw) != passwordSalt+passwordHash {
		return false, errs.Integrityf("vault: password hash has unexpected length %d", len(raw))
	}
	salt, want := raw[:passwordSalt], raw[passwordSalt:]
	got := pbkdf2.Key([]byte(p), salt, passwordIters, passwordHash, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Reset regenerates the salt file, invalidating every previously issued
// key. Prior ciphertexts become permanently undecryptable; this is
// deliberate — see spec §4.1.
func (v *Vault) Reset() error {
	salt, err := generateSalt()
	if err != nil {
		return errs.Fatalf("vault: generate salt: %w", err)
	}
	if err := writeSalt(filepath.Join(v.dataDir, saltFileName), salt); err != nil {
		return errs.Fatalf("vault: write salt: %w", err)
	}

	key, err := deriveKey(v.dataDir, salt)
	if err != nil {
		return errs.Fatalf("vault: derive key: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return errs.Fatalf("vault: init cipher: %w", err)
	}

	v.mu.Lock()
	v.key = key
	v.gcm = gcm
	v.mu.Unlock()
	return nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	existing, err := os.ReadFile(path)
	if err == nil {
		if len(existing) != saltSize {
			return nil, fmt.Errorf("salt file %q has unexpected length %d", path, len(existing))
		}
		return existing, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read salt file: %w", err)
	}

	salt, err := generateSalt()
	if err != nil {
		return nil, err
	}
	if err := writeSalt(path, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func generateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// writeSalt writes the salt atomically (write-then-rename) with owner-only
// permissions, so a crash mid-write never leaves a partially decodable
// salt file.
func writeSalt(path string, salt []byte) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(filePermission))
	if err != nil {
		return fmt.Errorf("create pending salt file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(salt); err != nil {
		return fmt.Errorf("write salt: %w", err)
	}
	return pending.CloseAtomicallyReplace()
}

// machineIdentifier reads a platform-standard machine identifier, falling
// back to a locally generated UUID persisted under dataDir when none is
// available, so the derived key stays stable across restarts.
func machineIdentifier(dataDir string) (string, error) {
	if id, err := readPlatformMachineID(); err == nil && id != "" {
		return id, nil
	}
	return loadOrCreateFallbackID(filepath.Join(dataDir, fallbackIDFileName))
}

func loadOrCreateFallbackID(path string) (string, error) {
	existing, err := os.ReadFile(path)
	if err == nil {
		if id, parseErr := uuid.ParseBytes(existing); parseErr == nil {
			return id.String(), nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read fallback machine id: %w", err)
	}

	id := uuid.NewString()
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(filePermission))
	if err != nil {
		return "", fmt.Errorf("create pending fallback id file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write([]byte(id)); err != nil {
		return "", fmt.Errorf("write fallback id: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("commit fallback id: %w", err)
	}
	return id, nil
}

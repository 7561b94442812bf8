// Package vault implements the encrypted secrets vault. Every credential the
// gateway needs at runtime — LLM API keys, channel bot tokens, the TOTP
// seed — lives here, never in the config file or an environment variable
// that gets logged.
//
// Secrets are encrypted at rest with AES-256-GCM, keyed by a master
// password run through scrypt. The vault is locked by default; unlocking
// decrypts the whole secret set into memory, and locking wipes it.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

const (
	saltSize = 32
	nonceSize = 12
	keySize   = 32 // AES-256

	// scryptN/R/P match the reference implementation: ~128MB working set,
	// roughly one second of derivation time on commodity hardware.
	scryptN = 1 << 17
	scryptR = 8
	scryptP = 1

	filePerm = 0o600
	dirPerm  = 0o700
)

var (
	ErrAlreadyExists = errors.New("vault: already initialized")
	ErrNotFound      = errors.New("vault: not found, run setup first")
	ErrLocked        = errors.New("vault: locked")
	ErrBadPassword   = errors.New("vault: failed to decrypt, wrong password")
	ErrCorrupted     = errors.New("vault: file is corrupted")
	ErrSecretMissing = errors.New("vault: secret not found")
)

// Vault is an encrypted, file-backed key-value store for credentials.
// Zero value is not usable; construct with New.
type Vault struct {
	path string

	mu        sync.Mutex
	locked    bool
	cache     map[string]string
	masterKey []byte
	salt      []byte
}

// New returns a Vault backed by the file at path. The vault starts locked.
func New(path string) *Vault {
	return &Vault{path: path, locked: true}
}

// IsInitialized reports whether a vault file already exists on disk.
func (v *Vault) IsInitialized() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// IsLocked reports whether the vault is currently locked.
func (v *Vault) IsLocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.locked
}

// Initialize creates a new, empty vault encrypted under masterPassword.
// Returns ErrAlreadyExists if a vault file is already present.
func (v *Vault) Initialize(masterPassword string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.IsInitialized() {
		return ErrAlreadyExists
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}

	key, err := deriveKey(masterPassword, salt)
	if err != nil {
		return err
	}

	v.salt = salt
	v.masterKey = key
	v.cache = map[string]string{}
	v.locked = false

	return v.save()
}

// Unlock decrypts the vault file with masterPassword and loads its
// contents into memory. Returns ErrNotFound if no vault file exists, and
// ErrBadPassword if decryption fails.
func (v *Vault) Unlock(masterPassword string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	raw, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("vault: read file: %w", err)
	}
	if len(raw) < saltSize+nonceSize+1 {
		return ErrCorrupted
	}

	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	ciphertext := raw[saltSize+nonceSize:]

	key, err := deriveKey(masterPassword, salt)
	if err != nil {
		return err
	}

	plaintext, err := aesGCMOpen(key, nonce, ciphertext)
	if err != nil {
		return ErrBadPassword
	}

	var cache map[string]string
	if err := json.Unmarshal(plaintext, &cache); err != nil {
		wipe(plaintext)
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	wipe(plaintext)

	v.salt = salt
	v.masterKey = key
	v.cache = cache
	v.locked = false
	return nil
}

// Lock wipes in-memory secrets and the master key. The vault file on disk
// is untouched.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wipeCacheLocked()
	v.wipeKeyLocked()
	v.locked = true
}

// Get returns the secret stored under key, or ErrSecretMissing.
func (v *Vault) Get(key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return "", ErrLocked
	}
	val, ok := v.cache[key]
	if !ok {
		return "", ErrSecretMissing
	}
	return val, nil
}

// Set encrypts and stores value under key, persisting to disk immediately.
func (v *Vault) Set(key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return ErrLocked
	}
	v.cache[key] = value
	return v.save()
}

// Delete removes a secret. Returns true if the key existed.
func (v *Vault) Delete(key string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return false, ErrLocked
	}
	if _, ok := v.cache[key]; !ok {
		return false, nil
	}
	delete(v.cache, key)
	if err := v.save(); err != nil {
		return false, err
	}
	return true, nil
}

// Has reports whether key exists in the unlocked vault.
func (v *Vault) Has(key string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return false, ErrLocked
	}
	_, ok := v.cache[key]
	return ok, nil
}

// ListKeys returns all secret key names, never values.
func (v *Vault) ListKeys() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return nil, ErrLocked
	}
	keys := make([]string, 0, len(v.cache))
	for k := range v.cache {
		keys = append(keys, k)
	}
	return keys, nil
}

// save encrypts the in-memory cache and atomically replaces the vault
// file. Caller must hold v.mu.
func (v *Vault) save() error {
	plaintext, err := json.Marshal(v.cache)
	if err != nil {
		return fmt.Errorf("vault: marshal cache: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: generate nonce: %w", err)
	}

	ciphertext, err := aesGCMSeal(v.masterKey, nonce, plaintext)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(v.path), dirPerm); err != nil {
		return fmt.Errorf("vault: create directory: %w", err)
	}

	payload := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	payload = append(payload, v.salt...)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)

	tmp := v.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("vault: open temp file: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(payload); err != nil {
		return fmt.Errorf("vault: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("vault: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("vault: close temp file: %w", err)
	}

	if err := os.Rename(tmp, v.path); err != nil {
		return fmt.Errorf("vault: rename into place: %w", err)
	}
	cleanup = false

	return os.Chmod(v.path, filePerm)
}

func (v *Vault) wipeCacheLocked() {
	for k, val := range v.cache {
		v.cache[k] = string(make([]byte, len(val)))
	}
	v.cache = nil
}

func (v *Vault) wipeKeyLocked() {
	wipe(v.masterKey)
	v.masterKey = nil
	v.salt = nil
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	return key, nil
}

func aesGCMSeal(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func aesGCMOpen(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

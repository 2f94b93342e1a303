package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"tether/pkg/logging"
	pkgoauth "tether/pkg/oauth"
)

// DefaultFileName is the vault file name inside the agent directory.
const DefaultFileName = "auth.json"

// fileVersion is written into every vault document.
const fileVersion = 1

// document is the on-disk layout of the vault.
type document struct {
	Version     int                             `json:"version"`
	Credentials map[string]*pkgoauth.Credential `json:"credentials"`
}

// Vault persists one credential per provider in a single file.
//
// SECURITY: This store handles sensitive OAuth credentials.
//   - The file is written with 0600 permissions, its directory with 0700
//   - Token values are never logged, only provider ids and expiry
//   - Every mutation replaces the file atomically, so other processes see
//     either the previous or the new vault, never a torn one
//
// Writers are serialized per instance. Readers always observe the last
// committed snapshot: mutations build a new map, persist it and only then
// swap it in, so a failed write needs no explicit undo.
type Vault struct {
	path   string
	sealer Sealer
	now    func() time.Time

	// writeMu serializes mutations, including the disk write.
	writeMu sync.Mutex

	// mu guards creds and loaded. It is never held across disk I/O.
	mu     sync.RWMutex
	creds  map[string]*pkgoauth.Credential
	loaded bool

	writeFile func(path string, data []byte, perm os.FileMode) error
}

// Option configures a Vault.
type Option func(*Vault)

// WithSealer encrypts the vault file.
func WithSealer(s Sealer) Option {
	return func(v *Vault) {
		v.sealer = s
	}
}

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// New returns a vault backed by path. Nothing is read until first access.
func New(path string, opts ...Option) *Vault {
	v := &Vault{
		path:      path,
		now:       time.Now,
		creds:     map[string]*pkgoauth.Credential{},
		writeFile: writeFileAtomic,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Path returns the file backing the vault.
func (v *Vault) Path() string {
	return v.path
}

// Load reads the vault from disk if it has not been read yet. A missing
// file yields an empty vault.
func (v *Vault) Load() error {
	v.mu.RLock()
	loaded := v.loaded
	v.mu.RUnlock()
	if loaded {
		return nil
	}

	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.loadLocked(false)
}

// Reload discards the in-memory snapshot and reads the file again.
func (v *Vault) Reload() error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.loadLocked(true)
}

// loadLocked requires writeMu.
func (v *Vault) loadLocked(force bool) error {
	v.mu.RLock()
	loaded := v.loaded
	v.mu.RUnlock()
	if loaded && !force {
		return nil
	}

	creds, err := v.readFile()
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.creds = creds
	v.loaded = true
	v.mu.Unlock()

	logging.Debug("Vault", "Loaded %d credential(s) from %s", len(creds), v.path)
	return nil
}

func (v *Vault) readFile() (map[string]*pkgoauth.Credential, error) {
	// #nosec G304 -- path comes from configuration, not remote input
	data, err := os.ReadFile(v.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]*pkgoauth.Credential{}, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStorageIO, v.path, err)
	}
	if len(data) == 0 {
		return map[string]*pkgoauth.Credential{}, nil
	}

	if isSealed(data) {
		if v.sealer == nil {
			return nil, fmt.Errorf("%w: %s is encrypted but no identity is configured", ErrStorageCorrupt, v.path)
		}
		data, err = v.sealer.Open(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrStorageCorrupt, v.path, err)
		}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageCorrupt, v.path, err)
	}
	if doc.Credentials == nil {
		doc.Credentials = map[string]*pkgoauth.Credential{}
	}
	for provider, c := range doc.Credentials {
		if c == nil {
			return nil, fmt.Errorf("%w: %s: null credential for %q", ErrStorageCorrupt, v.path, provider)
		}
		c.Provider = provider
	}
	return doc.Credentials, nil
}

func (v *Vault) snapshot() (map[string]*pkgoauth.Credential, error) {
	if err := v.Load(); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.creds, nil
}

// Get returns a copy of the credential stored for provider, or ErrNotFound.
// Expired credentials are returned as well; freshness is the broker's job.
func (v *Vault) Get(provider string) (*pkgoauth.Credential, error) {
	creds, err := v.snapshot()
	if err != nil {
		return nil, err
	}
	c, ok := creds[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, provider)
	}
	return c.Clone(), nil
}

// Has reports whether any credential exists for provider, regardless of
// expiry. An unreadable vault counts as empty.
func (v *Vault) Has(provider string) bool {
	creds, err := v.snapshot()
	if err != nil {
		logging.Warn("Vault", "Treating unreadable vault as empty: %v", err)
		return false
	}
	_, ok := creds[provider]
	return ok
}

// List returns the provider ids with stored credentials, sorted.
func (v *Vault) List() ([]string, error) {
	creds, err := v.snapshot()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(creds))
	for id := range creds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Put stores c under provider and persists the vault before returning.
// On failure the previous state stays visible and ErrStorageIO is returned.
func (v *Vault) Put(provider string, c *pkgoauth.Credential) error {
	if provider == "" {
		return errors.New("provider id must not be empty")
	}
	if c == nil {
		return errors.New("credential must not be nil")
	}

	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	if err := v.loadLocked(false); err != nil {
		return err
	}

	v.mu.RLock()
	prev := v.creds
	v.mu.RUnlock()

	now := v.now().UTC()
	stored := c.Clone()
	stored.Provider = provider
	stored.UpdatedAt = now
	if old, ok := prev[provider]; ok && !old.CreatedAt.IsZero() {
		stored.CreatedAt = old.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}

	next := make(map[string]*pkgoauth.Credential, len(prev)+1)
	for k, cred := range prev {
		next[k] = cred
	}
	next[provider] = stored

	if err := v.commitLocked(next); err != nil {
		logging.Audit("credential storage failed", "credential_store_failed",
			"provider", provider,
			"path", v.path,
			"error", err.Error(),
		)
		return err
	}

	logging.Audit("credential stored", "credential_stored",
		"provider", provider,
		"expires_at", formatExpiry(stored.ExpiresAt),
		"has_refresh_token", stored.RefreshToken != "",
	)
	return nil
}

// Remove deletes the credential for provider. Removing an absent provider
// does not touch the file.
func (v *Vault) Remove(provider string) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	if err := v.loadLocked(false); err != nil {
		return err
	}

	v.mu.RLock()
	prev := v.creds
	v.mu.RUnlock()

	if _, ok := prev[provider]; !ok {
		return nil
	}

	next := make(map[string]*pkgoauth.Credential, len(prev))
	for k, cred := range prev {
		if k != provider {
			next[k] = cred
		}
	}

	if err := v.commitLocked(next); err != nil {
		logging.Audit("credential deletion failed", "credential_delete_failed",
			"provider", provider,
			"error", err.Error(),
		)
		return err
	}

	logging.Audit("credential deleted", "credential_deleted", "provider", provider)
	return nil
}

// Clear removes every credential.
func (v *Vault) Clear() error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	if err := v.loadLocked(false); err != nil {
		return err
	}

	v.mu.RLock()
	count := len(v.creds)
	v.mu.RUnlock()
	if count == 0 {
		return nil
	}

	if err := v.commitLocked(map[string]*pkgoauth.Credential{}); err != nil {
		return err
	}
	logging.Audit("all credentials cleared", "credentials_cleared", "count", count)
	return nil
}

// commitLocked persists next and swaps it in. Requires writeMu.
func (v *Vault) commitLocked(next map[string]*pkgoauth.Credential) error {
	data, err := json.MarshalIndent(document{Version: fileVersion, Credentials: next}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding vault: %v", ErrStorageIO, err)
	}
	if v.sealer != nil {
		data, err = v.sealer.Seal(data)
		if err != nil {
			return fmt.Errorf("%w: sealing vault: %v", ErrStorageIO, err)
		}
	}
	if err := v.writeFile(v.path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	v.mu.Lock()
	v.creds = next
	v.mu.Unlock()
	return nil
}

// DefaultPath returns <dir>/auth.json.
func DefaultPath(dir string) string {
	return filepath.Join(dir, DefaultFileName)
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

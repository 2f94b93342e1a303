package vault

import "errors"

var (
	// ErrNotFound is returned by Get when no credential is stored for a provider.
	ErrNotFound = errors.New("credential not found")

	// ErrStorageCorrupt means the vault file exists but cannot be decoded,
	// either because it is not valid JSON or because decryption failed.
	ErrStorageCorrupt = errors.New("credential storage corrupt")

	// ErrStorageIO means the vault file could not be read or durably written.
	// A failed write leaves both the file and the in-memory view unchanged.
	ErrStorageIO = errors.New("credential storage i/o failure")
)

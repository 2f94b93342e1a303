package vault

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"filippo.io/age"
)

// Sealer encrypts the serialized vault before it touches disk.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// ageHeader prefixes every binary age file.
const ageHeader = "age-encryption.org/v1"

// AgeSealer seals the vault to a single X25519 identity.
type AgeSealer struct {
	identity *age.X25519Identity
}

// NewAgeSealer wraps an existing identity.
func NewAgeSealer(identity *age.X25519Identity) *AgeSealer {
	return &AgeSealer{identity: identity}
}

// LoadOrCreateAgeSealer reads the identity at path, generating a new one with
// mode 0600 when the file does not exist. The file format matches the output
// of age-keygen so the vault can be inspected with the age CLI.
func LoadOrCreateAgeSealer(path string) (*AgeSealer, error) {
	// #nosec G304 -- path comes from configuration, not remote input
	data, err := os.ReadFile(path)
	if err == nil {
		identity, err := parseIdentityFile(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse age identity %s: %w", path, err)
		}
		return NewAgeSealer(identity), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read age identity %s: %w", path, err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# created: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "# public key: %s\n", identity.Recipient().String())
	fmt.Fprintf(&buf, "%s\n", identity.String())
	if err := writeFileAtomic(path, buf.Bytes(), 0600); err != nil {
		return nil, fmt.Errorf("failed to write age identity %s: %w", path, err)
	}
	return NewAgeSealer(identity), nil
}

func parseIdentityFile(data []byte) (*age.X25519Identity, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return age.ParseX25519Identity(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("no identity found")
}

// Recipient returns the public key the vault is sealed to.
func (s *AgeSealer) Recipient() string {
	return s.identity.Recipient().String()
}

func (s *AgeSealer) Seal(plaintext []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := age.Encrypt(&out, s.identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return out.Bytes(), nil
}

func (s *AgeSealer) Open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(ageHeader))
}

package session

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tether/internal/provider"
	"tether/pkg/logging"
)

// TranscriptEntry is one line of a transcript file.
type TranscriptEntry struct {
	SessionID string        `json:"session_id"`
	Turn      int           `json:"turn"`
	Role      provider.Role `json:"role"`
	Content   string        `json:"content"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// TranscriptPath returns <dir>/<cwd-hash>/<sessionID>.jsonl. Sessions of the
// same working directory share a folder.
func TranscriptPath(dir, cwd, sessionID string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(cwd)))
	return filepath.Join(dir, hex.EncodeToString(sum[:8]), sessionID+".jsonl")
}

// AppendTranscript appends entries to the transcript at path, creating it
// and its directory when needed.
func AppendTranscript(path string, entries ...TranscriptEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return fmt.Errorf("writing transcript: %w", err)
		}
	}
	return f.Close()
}

// ReadTranscript loads every entry of a transcript file. Lines that do not
// parse are skipped.
func ReadTranscript(path string) ([]TranscriptEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []TranscriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e TranscriptEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func (s *Session) recordTranscript(t *turn, reply *provider.Reply, at time.Time) {
	if s.cfg.TranscriptDir == "" {
		return
	}
	model := reply.Model
	if model == "" {
		model = s.cfg.Model
	}
	path := TranscriptPath(s.cfg.TranscriptDir, s.cfg.Cwd, t.sessionID)
	err := AppendTranscript(path,
		TranscriptEntry{SessionID: t.sessionID, Turn: t.number, Role: provider.RoleUser, Content: t.prompt, Provider: s.cfg.Provider, Timestamp: at},
		TranscriptEntry{SessionID: t.sessionID, Turn: t.number, Role: provider.RoleAssistant, Content: reply.Text, Provider: s.cfg.Provider, Model: model, Timestamp: at},
	)
	if err != nil {
		logging.Warn("Session", "Failed to record transcript %s: %v", path, err)
	}
}

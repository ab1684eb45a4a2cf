package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FileStore persists the credential as one JSON document on disk, the
// client-host analog of the web client's single localStorage entry.
//
// Writes are atomic (temp file + rename) so a crash mid-save can never
// produce a partial credential.
type FileStore struct {
	log  *slog.Logger
	path string
}

// NewFileStore constructs a FileStore at path. A nil logger falls back to
// slog.Default.
func NewFileStore(log *slog.Logger, path string) *FileStore {
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{log: log, path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the persisted credential.
//
// Any failure mode short of a healthy record (missing file, unreadable
// file, invalid JSON, wrong version, partial credential) degrades to
// "absent". Startup must never fail on a bad cache.
func (s *FileStore) Load() (Credential, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("session.store.read.fail", "path", s.path, "err", err)
		}
		return Credential{}, false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("session.store.corrupt", "path", s.path, "err", err)
		return Credential{}, false
	}
	if rec.Version != recordVersion {
		s.log.Warn("session.store.version.mismatch", "path", s.path, "got", rec.Version, "want", recordVersion)
		return Credential{}, false
	}

	cred := Credential{Token: rec.State.Token, User: rec.State.User}
	if !cred.Present() {
		s.log.Warn("session.store.partial", "path", s.path)
		return Credential{}, false
	}
	return cred, true
}

// Save atomically replaces the persisted credential.
func (s *FileStore) Save(cred Credential) error {
	rec := record{
		State:   recordState{Token: cred.Token, User: cred.User},
		Version: recordVersion,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write credential: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close credential: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace credential: %w", err)
	}
	return nil
}

// Clear removes the persisted credential. A missing file is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

// DefaultCredentialPath returns the per-user default location of the
// credential file.
func DefaultCredentialPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "pulse", "credential.json"), nil
}

package user

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/saldiviabuses/erp-server/internal/types"
)

// breakglassRecord is the persisted shape of the fallback store. Only contact
// fields are stored; identity and permissions always come from configuration.
type breakglassRecord struct {
	FirstName  *string `json:"firstName,omitempty"`
	LastName   *string `json:"lastName,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Department *string `json:"department,omitempty"`
	Position   *string `json:"position,omitempty"`
}

// FallbackStore persists contact edits of the break-glass identity in a local
// file so they survive restarts even when the database never comes up. All
// access goes through one mutex; writes go to a temp file then rename.
type FallbackStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func NewFallbackStore(path string, logger *slog.Logger) *FallbackStore {
	return &FallbackStore{
		path:   path,
		logger: logger,
	}
}

func (s *FallbackStore) load() (breakglassRecord, error) {
	var rec breakglassRecord
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, nil
		}
		return rec, fmt.Errorf("fallback store: read failed: %w", err)
	}
	if err = json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("fallback store: corrupt record: %w", err)
	}
	return rec, nil
}

func (s *FallbackStore) save(rec breakglassRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("fallback store: marshal failed: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fallback store: mkdir failed: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".breakglass-*")
	if err != nil {
		return fmt.Errorf("fallback store: temp file failed: %w", err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fallback store: write failed: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fallback store: close failed: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fallback store: rename failed: %w", err)
	}
	return nil
}

// UpdateContact merges the given fields into the stored record.
func (s *FallbackStore) UpdateContact(params types.UpdateContactParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return err
	}
	if params.FirstName != nil {
		rec.FirstName = params.FirstName
	}
	if params.LastName != nil {
		rec.LastName = params.LastName
	}
	if params.Email != nil {
		rec.Email = params.Email
	}
	if params.Phone != nil {
		rec.Phone = params.Phone
	}
	if params.Department != nil {
		rec.Department = params.Department
	}
	if params.Position != nil {
		rec.Position = params.Position
	}
	return s.save(rec)
}

// Apply overlays the stored contact fields onto the in-memory identity. An
// unreadable store is logged and ignored, the config defaults still work.
func (s *FallbackStore) Apply(u *types.User) {
	s.mu.Lock()
	rec, err := s.load()
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("Failed to load break-glass overrides", slog.Any("error", err))
		return
	}

	if rec.FirstName != nil {
		u.FirstName = rec.FirstName
	}
	if rec.LastName != nil {
		u.LastName = rec.LastName
	}
	if rec.Email != nil {
		u.Email = rec.Email
	}
	if u.Profile == nil {
		return
	}
	if rec.Phone != nil {
		u.Profile.Phone = rec.Phone
	}
	if rec.Department != nil {
		u.Profile.Department = rec.Department
	}
	if rec.Position != nil {
		u.Profile.Position = rec.Position
	}
}

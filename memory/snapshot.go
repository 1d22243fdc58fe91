package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	apperrors "qa-agent/errors"
)

// SessionSnapshot is the durable form of one session.
type SessionSnapshot struct {
	History    []Message `json:"history"`
	LastAccess time.Time `json:"last_access"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// Store persists the whole session map. Save overwrites the previous
// snapshot; Load returns only sessions still within the TTL.
type Store interface {
	Load() (map[string]SessionSnapshot, error)
	Save(sessions map[string]SessionSnapshot) error
	Close() error
}

// FileStore keeps the snapshot as one JSON file, rewritten in full on
// every save.
type FileStore struct {
	path string
	ttl  time.Duration
}

func NewFileStore(path string, ttl time.Duration) *FileStore {
	return &FileStore{path: path, ttl: ttl}
}

func (f *FileStore) Load() (map[string]SessionSnapshot, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]SessionSnapshot{}, nil
	}
	if err != nil {
		return nil, apperrors.WrapError(err, "read session snapshot")
	}

	var snapshots map[string]SessionSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, apperrors.WrapError(err, "decode session snapshot")
	}

	if f.ttl > 0 {
		cutoff := time.Now().Add(-f.ttl)
		for id, snap := range snapshots {
			if snap.LastAccess.Before(cutoff) {
				delete(snapshots, id)
			}
		}
	}
	return snapshots, nil
}

func (f *FileStore) Save(sessions map[string]SessionSnapshot) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return apperrors.WrapError(err, "encode session snapshot")
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.WrapErrorf(apperrors.ErrPersistenceFailed, "create snapshot dir: %v", err)
		}
	}

	// Write-then-rename so a crash mid-save never truncates the snapshot.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.WrapErrorf(apperrors.ErrPersistenceFailed, "write snapshot: %v", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return apperrors.WrapErrorf(apperrors.ErrPersistenceFailed, "replace snapshot: %v", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

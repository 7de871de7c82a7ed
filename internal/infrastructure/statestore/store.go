package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_gc_bot/internal/domain"
	"go.uber.org/zap"
)

// Load sources, reported so callers can tell when the backup or a
// fresh default had to be used.
const (
	SourcePrimary = "primary"
	SourceBackup  = "backup"
	SourceDefault = "default"
)

const lockPollInterval = 100 * time.Millisecond

// FileStore persists the single PositionState as a JSON file with a
// sibling backup and an advisory lock file. The lock lives on disk so
// mutual exclusion holds across process restarts; the token mutex
// makes one instance safe to share between goroutines that contend on
// the same file lock.
type FileStore struct {
	path        string
	backupPath  string
	lockPath    string
	lockTimeout time.Duration
	lastSource  string
	logger      *zap.Logger

	tokenMu   sync.Mutex
	lockToken string
}

func NewFileStore(path string, lockTimeout time.Duration, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: state path is required", domain.ErrInvalidParameters)
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state dir: %w", err)
		}
	}
	return &FileStore{
		path:        path,
		backupPath:  path + ".bak",
		lockPath:    path + ".lock",
		lockTimeout: lockTimeout,
		logger:      logger,
	}, nil
}

// AcquireLock obtains the exclusive lock file within the bounded wait,
// or fails with ErrLockHeld. The token written into the file guards
// against releasing a lock taken over by another process.
func (s *FileStore) AcquireLock() error {
	token := uuid.NewString()
	deadline := time.Now().Add(s.lockTimeout)
	for {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(token)
			f.Close()
			if werr != nil {
				os.Remove(s.lockPath)
				return fmt.Errorf("writing lock token: %w", werr)
			}
			s.tokenMu.Lock()
			s.lockToken = token
			s.tokenMu.Unlock()
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("creating lock file: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", domain.ErrLockHeld, s.lockPath)
		}
		time.Sleep(lockPollInterval)
	}
}

// ReleaseLock removes the lock file when this process owns it.
// Best-effort: failures are logged, never escalated.
func (s *FileStore) ReleaseLock() {
	// Snapshot and clear the token before touching the lock file so a
	// concurrent acquirer that grabs the lock right after removal can
	// never have its own token wiped by this release.
	s.tokenMu.Lock()
	token := s.lockToken
	s.lockToken = ""
	s.tokenMu.Unlock()
	if token == "" {
		return
	}
	data, err := os.ReadFile(s.lockPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("reading lock file on release", zap.Error(err))
		}
		return
	}
	if string(data) != token {
		s.logger.Warn("lock token mismatch, not removing", zap.String("path", s.lockPath))
		return
	}
	if err := os.Remove(s.lockPath); err != nil {
		s.logger.Warn("removing lock file", zap.Error(err))
	}
}

// Load reads the persisted state, falling back to the backup copy and
// then to a default flat state. It never fabricates an open position.
func (s *FileStore) Load() (*domain.PositionState, error) {
	state, err := readStateFile(s.path)
	if err == nil {
		s.lastSource = SourcePrimary
		return state, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		s.lastSource = SourceDefault
		return domain.NewPositionState(), nil
	}

	s.logger.Warn("state file unreadable, trying backup",
		zap.String("path", s.path), zap.Error(err))

	state, bakErr := readStateFile(s.backupPath)
	if bakErr == nil {
		s.lastSource = SourceBackup
		s.logger.Info("state restored from backup", zap.String("path", s.backupPath))
		return state, nil
	}

	s.logger.Warn("backup unreadable, starting from default flat state",
		zap.String("path", s.backupPath), zap.Error(bakErr))
	s.lastSource = SourceDefault
	return domain.NewPositionState(), nil
}

// LastLoadSource reports where the most recent Load got its data.
func (s *FileStore) LastLoadSource() string { return s.lastSource }

// Save writes the state atomically: temp file first, then a backup of
// the current canonical file, then an atomic rename. A concurrent
// reader sees either the old or the new content, never a partial file.
func (s *FileStore) Save(state *domain.PositionState) error {
	state.Version = domain.StateSchemaVersion
	if state.LastUpdated.IsZero() {
		state.LastUpdated = time.Now().UTC()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp state: %w", err)
	}
	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.backupPath, prev, 0o644); err != nil {
			return fmt.Errorf("writing state backup: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading current state for backup: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

func readStateFile(path string) (*domain.PositionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Start from defaults so records written by older versions keep
	// their missing fields zeroed rather than undefined.
	state := domain.NewPositionState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStateCorrupt, path, err)
	}
	if state.Status != domain.StatusFlat && state.Status != domain.StatusLong {
		return nil, fmt.Errorf("%w: unexpected status %q", domain.ErrStateCorrupt, state.Status)
	}
	return state, nil
}

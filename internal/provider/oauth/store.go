package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authkeeper/internal/models"
)

// ErrNoSession is returned by a Store holding no session.
var ErrNoSession = errors.New("no stored session")

const sessionFile = "session.json"

// Store persists the backend session between runs.
type Store interface {
	Load() (*models.Session, error)
	Save(session *models.Session) error
	Clear() error
}

// stored is the on disk layout of a session.
type stored struct {
	Version      int          `json:"version"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    int64        `json:"expires_at,omitempty"`
	User         *models.User `json:"user,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// FileStore keeps the session in a JSON file only readable by the current user.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileStore creates a file store.
// If baseDir is empty, uses ~/.authkeeper/
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".authkeeper")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("session store initialized")

	return &FileStore{baseDir: baseDir}, nil
}

// Path returns the session file location.
func (s *FileStore) Path() string {
	return filepath.Join(s.baseDir, sessionFile)
}

// Load reads the stored session, ErrNoSession if there is none.
func (s *FileStore) Load() (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var st stored
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}

	session := &models.Session{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		ExpiresAt:    st.ExpiresAt,
		User:         st.User,
	}
	if !session.IsComplete() {
		return nil, ErrNoSession
	}

	return session, nil
}

// Save writes the session atomically.
func (s *FileStore) Save(session *models.Session) error {
	if session == nil {
		return s.Clear()
	}

	data, err := json.MarshalIndent(stored{
		Version:      1,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    session.ExpiresAt,
		User:         session.User,
		UpdatedAt:    time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path()
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save session: %w", err)
	}

	log.Debug().
		Str("fingerprint", models.Fingerprint(session.RefreshToken)).
		Msg("session saved")

	return nil
}

// Clear removes the stored session.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// MemoryStore keeps the session in memory.
type MemoryStore struct {
	mu      sync.Mutex
	session *models.Session
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, ErrNoSession
	}
	return s.session, nil
}

func (s *MemoryStore) Save(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	return nil
}

func (s *MemoryStore) Clear() error {
	return s.Save(nil)
}

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
)

// Persister stores the session between process restarts.
type Persister interface {
	Load() (*domain.Session, error)
	Save(s *domain.Session) error
	Clear() error
}

// MemoryPersister keeps the session for the life of the process.
type MemoryPersister struct {
	mu   sync.Mutex
	sess *domain.Session
}

func (p *MemoryPersister) Load() (*domain.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clone(p.sess), nil
}

func (p *MemoryPersister) Save(s *domain.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sess = clone(s)
	return nil
}

func (p *MemoryPersister) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sess = nil
	return nil
}

// FilePersister stores the session as a JSON file readable only by the owner.
type FilePersister struct {
	Path string
}

// NewFilePersister returns a persister writing to dir/name.json.
func NewFilePersister(dir, name string) *FilePersister {
	return &FilePersister{Path: filepath.Join(dir, name+".json")}
}

func (p *FilePersister) Load() (*domain.Session, error) {
	b, err := os.ReadFile(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &s, nil
}

func (p *FilePersister) Save(s *domain.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, p.Path)
}

func (p *FilePersister) Clear() error {
	err := os.Remove(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Package retention persists each case's output window and keeps at most
// one artifact of a run on disk.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
)

var (
	// ErrSaveFailed means the current artifact could not be written.
	ErrSaveFailed = errors.New("artifact save failed")
	// ErrPruneFailed means a previous artifact exists but could not be removed.
	ErrPruneFailed = errors.New("artifact prune failed")
)

// Config locates the artifacts of a run.
type Config struct {
	Dir       string `json:"Dir"`
	Prefix    string `json:"Prefix"`
	Extension string `json:"Extension"`
}

// Remover deletes files.
type Remover interface {
	Remove(path string) error
}

type osFS struct{}

func (osFS) Remove(path string) error {
	return os.Remove(path)
}

// Manager owns the rolling artifact window of one run at a time.
type Manager struct {
	config  Config
	remover Remover
	last    string
}

// New returns a Manager writing into cfg.Dir, creating it if needed.
func New(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("retention: artifact directory is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "N-2"
	}
	if cfg.Extension == "" {
		cfg.Extension = "out"
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("retention: %w", err)
	}
	return &Manager{config: cfg, remover: osFS{}}, nil
}

// WithRemover replaces the filesystem used for deletes.
func (m *Manager) WithRemover(r Remover) *Manager {
	m.remover = r
	return m
}

// Path is the artifact location of case index in the run starting at
// runStart.
func (m *Manager) Path(runStart, index int) string {
	name := fmt.Sprintf("%s_%d_%d.%s", m.config.Prefix, runStart, index, m.config.Extension)
	return filepath.Join(m.config.Dir, name)
}

// Retained returns the artifact currently kept for the run, if any.
func (m *Manager) Retained() string {
	return m.last
}

// Reset deletes the artifact retained by the previous run. Call it when a new
// run starts. If the delete fails the artifact stays retained, and the next
// PersistAndPrune tries again.
func (m *Manager) Reset() error {
	if m.last == "" {
		return nil
	}
	if err := m.remove(m.last); err != nil {
		return err
	}
	m.last = ""
	return nil
}

// PersistAndPrune saves the output window as the artifact of caseIndex, then
// deletes the artifact of caseIndex-1 and any other artifact retained
// earlier in the run. Deleting a file that does not exist is not an error.
func (m *Manager) PersistAndPrune(ctx context.Context, s *engine.Session, runStart, caseIndex int) error {
	path := m.Path(runStart, caseIndex)
	if err := s.OutputWindow().Save(ctx, path); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSaveFailed, path, err)
	}

	stale := make([]string, 0, 2)
	if caseIndex > runStart {
		stale = append(stale, m.Path(runStart, caseIndex-1))
	}
	if m.last != "" && m.last != path && (len(stale) == 0 || m.last != stale[0]) {
		stale = append(stale, m.last)
	}
	m.last = path

	var pruneErr error
	for _, p := range stale {
		if err := m.remove(p); err != nil {
			log.Printf("[Retention] %v\n", err)
			pruneErr = err
		}
	}
	return pruneErr
}

func (m *Manager) remove(path string) error {
	err := m.remover.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPruneFailed, path, err)
}

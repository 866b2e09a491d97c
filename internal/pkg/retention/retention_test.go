package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ohowland/cgc_contingency/internal/lib/engine/virtualengine"
	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
	"gotest.tools/v3/assert"
)

func newSession(t *testing.T) (*engine.Session, *virtualengine.VirtualEngine) {
	ve := virtualengine.NewFromConfig(virtualengine.Config{Lines: []string{"Line_01"}})
	s, err := engine.Connect(context.Background(), ve, engine.Names{})
	assert.NilError(t, err)
	return s, ve
}

func artifacts(t *testing.T, dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	assert.NilError(t, err)
	return matches
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type fakeFS struct {
	removed []string
	err     error
}

func (f *fakeFS) Remove(path string) error {
	f.removed = append(f.removed, path)
	return f.err
}

func TestPath(t *testing.T) {
	m, err := New(Config{Dir: t.TempDir()})
	assert.NilError(t, err)

	assert.Equal(t, filepath.Base(m.Path(10, 12)), "N-2_10_12.out")
	assert.Assert(t, m.Path(10, 12) != m.Path(10, 13))
	assert.Assert(t, m.Path(1, 12) != m.Path(11, 2))
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "directory is required")
}

func TestRollingWindow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, _ := newSession(t)
	m, err := New(Config{Dir: dir, Prefix: "run", Extension: "txt"})
	assert.NilError(t, err)

	assert.Equal(t, len(artifacts(t, dir)), 0)
	for i := 3; i < 7; i++ {
		assert.NilError(t, m.PersistAndPrune(ctx, s, 3, i))

		files := artifacts(t, dir)
		assert.Equal(t, len(files), 1, "after case %d", i)
		assert.Equal(t, files[0], m.Path(3, i))
		assert.Equal(t, m.Retained(), m.Path(3, i))
	}
}

func TestPruneMissingIsNotAnError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, _ := newSession(t)
	m, err := New(Config{Dir: dir})
	assert.NilError(t, err)

	// No artifact for case 4 was ever written.
	assert.NilError(t, m.PersistAndPrune(ctx, s, 0, 5))
	assert.Assert(t, exists(m.Path(0, 5)))
}

func TestPruneAfterGap(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, _ := newSession(t)
	m, err := New(Config{Dir: dir})
	assert.NilError(t, err)

	assert.NilError(t, m.PersistAndPrune(ctx, s, 0, 1))
	// case 2 failed and was never persisted
	assert.NilError(t, m.PersistAndPrune(ctx, s, 0, 3))

	files := artifacts(t, dir)
	assert.Equal(t, len(files), 1)
	assert.Equal(t, files[0], m.Path(0, 3))
}

func TestFirstCaseDoesNotPrune(t *testing.T) {
	s, _ := newSession(t)
	fs := &fakeFS{}
	m, err := New(Config{Dir: t.TempDir()})
	assert.NilError(t, err)
	m.WithRemover(fs)

	assert.NilError(t, m.PersistAndPrune(context.Background(), s, 4, 4))
	assert.Equal(t, len(fs.removed), 0)

	assert.NilError(t, m.PersistAndPrune(context.Background(), s, 4, 5))
	assert.DeepEqual(t, fs.removed, []string{m.Path(4, 4)})
}

func TestPruneFailure(t *testing.T) {
	s, _ := newSession(t)
	fs := &fakeFS{err: os.ErrPermission}
	m, err := New(Config{Dir: t.TempDir()})
	assert.NilError(t, err)
	m.WithRemover(fs)

	assert.NilError(t, m.PersistAndPrune(context.Background(), s, 0, 0))
	err = m.PersistAndPrune(context.Background(), s, 0, 1)
	assert.Assert(t, errors.Is(err, ErrPruneFailed))
	assert.Equal(t, m.Retained(), m.Path(0, 1))
}

func TestSaveFailure(t *testing.T) {
	s, ve := newSession(t)
	m, err := New(Config{Dir: t.TempDir()})
	assert.NilError(t, err)

	ve.SetOffline(true)
	err = m.PersistAndPrune(context.Background(), s, 0, 0)
	assert.Assert(t, errors.Is(err, ErrSaveFailed))
	assert.Assert(t, errors.Is(err, engine.ErrEngineUnavailable))
	assert.Equal(t, m.Retained(), "")
}

func TestReset(t *testing.T) {
	s, _ := newSession(t)
	dir := t.TempDir()
	m, err := New(Config{Dir: dir})
	assert.NilError(t, err)

	assert.NilError(t, m.PersistAndPrune(context.Background(), s, 0, 0))
	assert.NilError(t, m.PersistAndPrune(context.Background(), s, 0, 1))
	assert.NilError(t, m.Reset())
	assert.Equal(t, m.Retained(), "")
	assert.Equal(t, len(artifacts(t, dir)), 0)

	assert.NilError(t, m.Reset())
}

func TestResetMissingIsNotAnError(t *testing.T) {
	s, _ := newSession(t)
	m, err := New(Config{Dir: t.TempDir()})
	assert.NilError(t, err)

	assert.NilError(t, m.PersistAndPrune(context.Background(), s, 0, 0))
	assert.NilError(t, os.Remove(m.Path(0, 0)))
	assert.NilError(t, m.Reset())
	assert.Equal(t, m.Retained(), "")
}

func TestResetFailureKeepsArtifact(t *testing.T) {
	s, _ := newSession(t)
	fs := &fakeFS{err: os.ErrPermission}
	m, err := New(Config{Dir: t.TempDir()})
	assert.NilError(t, err)
	m.WithRemover(fs)

	assert.NilError(t, m.PersistAndPrune(context.Background(), s, 0, 4))
	err = m.Reset()
	assert.Assert(t, errors.Is(err, ErrPruneFailed))
	assert.Equal(t, m.Retained(), m.Path(0, 4))

	fs.err = nil
	assert.NilError(t, m.PersistAndPrune(context.Background(), s, 0, 0))
	assert.DeepEqual(t, fs.removed, []string{m.Path(0, 4), m.Path(0, 4)})
}

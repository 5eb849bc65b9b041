package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/pathres"
)

const (
	stagingPrefix   = ".staging-"
	tombstonePrefix = ".tomb-"
)

// FS implements Provider backed by the local file system.
type FS struct {
	res *pathres.Resolver
}

var _ Provider = (*FS)(nil)

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	res, err := pathres.New(root)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	info, err := os.Stat(res.Root())
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", res.Root())
	}
	return &FS{res: res}, nil
}

// Root returns the absolute content root.
func (f *FS) Root() string { return f.res.Root() }

// Exists reports whether a node directory exists at path. The root always
// exists.
func (f *FS) Exists(path string) (bool, error) {
	abs, err := f.res.Resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classify(path, fmt.Errorf("storage: stat: %w", err))
	}
	return info.IsDir(), nil
}

// ListChildren returns the child node names of path. Hidden entries, the
// assets directory and names that are not valid segments are skipped.
func (f *FS) ListChildren(path string) ([]string, error) {
	abs, err := f.res.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, classify(path, fmt.Errorf("storage: list: %w", err))
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || pathres.ValidateSegment(e.Name()) != nil {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Rename moves a node directory. The destination parent must exist and the
// destination itself must not.
func (f *FS) Rename(oldPath, newPath string) error {
	absOld, err := f.res.Resolve(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.res.Resolve(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(absNew); err == nil {
		return apperr.New(apperr.KindNameCollision, newPath, "destination exists")
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return classify(oldPath, fmt.Errorf("storage: move: %w", err))
	}
	return nil
}

// RemoveTree renames the node directory to a hidden tombstone next to it,
// which makes the whole subtree vanish in one step, then deletes the
// tombstone. A failure after the rename leaves only a tombstone behind, which
// Sweep removes.
func (f *FS) RemoveTree(path string) error {
	if path == "" {
		return apperr.New(apperr.KindInvalidPath, path, "cannot remove the content root")
	}
	abs, err := f.res.Resolve(path)
	if err != nil {
		return err
	}
	tomb := filepath.Join(filepath.Dir(abs), tombstonePrefix+uuid.NewString())
	if err := os.Rename(abs, tomb); err != nil {
		return classify(path, fmt.Errorf("storage: tombstone: %w", err))
	}
	if err := os.RemoveAll(tomb); err != nil {
		return classify(path, fmt.Errorf("storage: remove tombstone: %w", err))
	}
	return nil
}

// CreateNode writes rec into a hidden staging directory in parent and renames
// it to parent/name. The node becomes visible complete or not at all.
func (f *FS) CreateNode(parent, name string, rec *Record) error {
	if err := pathres.ValidateSegment(name); err != nil {
		return err
	}
	absParent, err := f.res.Resolve(parent)
	if err != nil {
		return err
	}
	target := pathres.Join(parent, name)
	absTarget := filepath.Join(absParent, name)
	if _, err := os.Lstat(absTarget); err == nil {
		return apperr.New(apperr.KindNameCollision, target, "node exists")
	}

	staging := filepath.Join(absParent, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return classify(parent, fmt.Errorf("storage: mkdir staging: %w", err))
	}
	success := false
	defer func() {
		if !success {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := os.Mkdir(filepath.Join(staging, pathres.AssetsDir), 0o755); err != nil {
		return classify(target, fmt.Errorf("storage: mkdir assets: %w", err))
	}
	if err := writeRecord(staging, rec); err != nil {
		return classify(target, err)
	}
	if err := os.Rename(staging, absTarget); err != nil {
		return classify(target, fmt.Errorf("storage: commit staging: %w", err))
	}
	success = true
	return nil
}

// Sweep removes staging directories and tombstones left behind by a crash.
// It returns the number of entries removed.
func (f *FS) Sweep() (int, error) {
	removed := 0
	err := filepath.WalkDir(f.res.Root(), func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() || p == f.res.Root() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, stagingPrefix) || strings.HasPrefix(name, tombstonePrefix) {
			if err := os.RemoveAll(p); err != nil {
				return err
			}
			removed++
			return filepath.SkipDir
		}
		if strings.HasPrefix(name, ".") || strings.EqualFold(name, pathres.AssetsDir) {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("storage: sweep: %w", err)
	}
	return removed, nil
}

// writeFile atomically replaces dir/name: temp file, fsync, rename.
func writeFile(dir, name string, data []byte) error {
	if err := renameio.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	return nil
}

// classify maps OS errors to store error kinds: a missing file is not_found,
// anything else io_failure. Already classified errors pass through.
func classify(path string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.Wrap(apperr.KindNotFound, path, err)
	}
	return apperr.Wrap(apperr.KindIOFailure, path, err)
}

package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/checksum"
	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/pathres"
)

func (f *FS) assetPath(path, name string) (string, error) {
	if path == "" {
		return "", apperr.New(apperr.KindInvalidPath, path, "the content root has no attachments")
	}
	if err := pathres.ValidateFilename(name); err != nil {
		return "", err
	}
	dir, err := f.res.Resolve(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, pathres.AssetsDir, name), nil
}

// PutAttachment streams r to assets/name through a pending file that
// replaces the target only once fully written. A maxBytes of zero means no
// limit.
func (f *FS) PutAttachment(path, name string, r io.Reader, maxBytes int64) (models.Attachment, error) {
	target, err := f.assetPath(path, name)
	if err != nil {
		return models.Attachment{}, err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.Attachment{}, classify(path, fmt.Errorf("storage: mkdir assets: %w", err))
	}

	t, err := renameio.TempFile(dir, target)
	if err != nil {
		return models.Attachment{}, classify(path, fmt.Errorf("storage: create temp: %w", err))
	}
	defer t.Cleanup()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	sum, n, err := checksum.SumReader(io.TeeReader(src, t))
	if err != nil {
		return models.Attachment{}, classify(path, fmt.Errorf("storage: write %s: %w", name, err))
	}
	if maxBytes > 0 && n > maxBytes {
		return models.Attachment{}, apperr.New(apperr.KindAttachmentTooLarge, path,
			"attachment %q exceeds %d bytes", name, maxBytes)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return models.Attachment{}, classify(path, fmt.Errorf("storage: commit %s: %w", name, err))
	}
	return models.Attachment{
		Name:       name,
		Size:       n,
		SHA256:     sum,
		UploadedAt: time.Now().UTC(),
	}, nil
}

// OpenAttachment opens assets/name for reading.
func (f *FS) OpenAttachment(path, name string) (io.ReadCloser, error) {
	target, err := f.assetPath(path, name)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(target)
	if err != nil {
		return nil, classify(pathres.Join(path, name), fmt.Errorf("storage: open attachment: %w", err))
	}
	return fh, nil
}

// RemoveAttachment deletes assets/name.
func (f *FS) RemoveAttachment(path, name string) error {
	target, err := f.assetPath(path, name)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		return classify(pathres.Join(path, name), fmt.Errorf("storage: remove attachment: %w", err))
	}
	return nil
}

// Attachments lists the files in assets/ in name order. Manifest entries are
// reused when the file size still matches; other files are hashed on the
// spot and manifest entries without a file are dropped.
func (f *FS) Attachments(path string, manifest []models.Attachment) ([]models.Attachment, error) {
	if path == "" {
		return nil, nil
	}
	dir, err := f.res.Resolve(path)
	if err != nil {
		return nil, err
	}
	assets := filepath.Join(dir, pathres.AssetsDir)
	entries, err := os.ReadDir(assets)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(path, fmt.Errorf("storage: list assets: %w", err))
	}

	known := make(map[string]models.Attachment, len(manifest))
	for _, a := range manifest {
		known[a.Name] = a
	}
	out := make([]models.Attachment, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || pathres.ValidateFilename(e.Name()) != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed concurrently
		}
		if a, ok := known[e.Name()]; ok && a.Size == info.Size() {
			out = append(out, a)
			continue
		}
		a, err := hashFile(filepath.Join(assets, e.Name()))
		if err != nil {
			return nil, classify(path, err)
		}
		a.Name = e.Name()
		a.UploadedAt = info.ModTime().UTC()
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func hashFile(p string) (models.Attachment, error) {
	fh, err := os.Open(p)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("storage: open attachment: %w", err)
	}
	defer fh.Close()
	sum, n, err := checksum.SumReader(fh)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("storage: hash attachment: %w", err)
	}
	return models.Attachment{Size: n, SHA256: sum}, nil
}

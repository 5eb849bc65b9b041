package nodeservice

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/index"
	"github.com/starford/infrawiki/internal/pathres"
	"github.com/starford/infrawiki/internal/storage"
)

// Source walks the node store for index rebuilds. It takes no locks: a node
// read while it is being saved may be indexed half-updated, but the save
// indexes the committed version afterwards and the index replays it over the
// rebuilt state.
type Source struct {
	store  storage.Provider
	logger *slog.Logger
}

var _ index.Source = (*Source)(nil)

// NewSource creates an index source over store.
func NewSource(store storage.Provider, logger *slog.Logger) *Source {
	return &Source{store: store, logger: logger}
}

// Walk visits every readable node in pre-order. Corrupt nodes are logged
// and skipped but their children are still visited. A directory that
// cannot be listed aborts the walk.
func (s *Source) Walk(ctx context.Context, fn func(index.Document) error) error {
	return walkTree(ctx, s.store, s.logger, "", fn)
}

// WalkTree is Walk restricted to the subtree at root, root included.
func (s *Source) WalkTree(ctx context.Context, root string, fn func(index.Document) error) error {
	return walkTree(ctx, s.store, s.logger, root, fn)
}

func walkTree(ctx context.Context, store storage.Provider, logger *slog.Logger, root string, fn func(index.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if root != "" {
		rec, err := store.ReadRecord(root)
		switch {
		case err == nil:
			if err := fn(document(root, rec)); err != nil {
				return err
			}
		case errors.Is(err, apperr.ErrNotFound):
			// A directory without meta.json is not a node.
		default:
			logger.Warn("nodeservice: skipping unreadable node", slog.String("path", root), slog.String("error", err.Error()))
		}
	}
	names, err := store.ListChildren(root)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := walkTree(ctx, store, logger, pathres.Join(root, name), fn); err != nil {
			return err
		}
	}
	return nil
}

// document builds the index document of a node. Every tab contributes to
// the body field.
func document(path string, rec *storage.Record) index.Document {
	var body strings.Builder
	body.WriteString(rec.Body)
	for _, t := range rec.Tabs {
		body.WriteString("\n")
		body.WriteString(t.Body)
	}
	return index.Document{
		Summary:  summary(path, &rec.Meta),
		Body:     body.String(),
		Checksum: rec.Checksum,
	}
}

package nodeservice

import (
	"context"
	"time"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/index"
	"github.com/starford/infrawiki/internal/lock"
	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/pathres"
)

// Tree returns the whole content tree, children in listing order. It reads
// without locks, so a subtree moved during the walk may be missing from the
// result.
func (s *Service) Tree(ctx context.Context) (_ []models.TreeNode, err error) {
	defer observe("tree", time.Now(), &err)
	return s.subtree(ctx, "")
}

func (s *Service) subtree(ctx context.Context, path string) ([]models.TreeNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kids, err := s.children(path)
	if err != nil {
		return nil, err
	}
	out := make([]models.TreeNode, 0, len(kids))
	for _, k := range kids {
		tn := models.TreeNode{Summary: k, Children: []models.TreeNode{}}
		if !k.Corrupt && !k.Type.Layout().Leaf {
			if tn.Children, err = s.subtree(ctx, k.Path); err != nil {
				return nil, err
			}
		}
		out = append(out, tn)
	}
	return out, nil
}

// Breadcrumb returns the summaries from the top-level ancestor of path down
// to the node itself.
func (s *Service) Breadcrumb(ctx context.Context, path string) (_ []models.Summary, err error) {
	defer observe("breadcrumb", time.Now(), &err)

	if path == "" {
		return []models.Summary{}, nil
	}
	unlock, err := s.locks.Acquire(ctx, lock.R(path))
	if err != nil {
		return nil, err
	}
	defer unlock()

	segs, err := pathres.Split(path)
	if err != nil {
		return nil, err
	}
	out := make([]models.Summary, 0, len(segs))
	cur := ""
	for _, seg := range segs {
		cur = pathres.Join(cur, seg)
		m, err := s.store.ReadMeta(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, summary(cur, m))
	}
	return out, nil
}

// Recent returns up to limit of the most recently updated nodes.
func (s *Service) Recent(ctx context.Context, limit int) (_ []models.Summary, err error) {
	defer observe("recent", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, err := s.idx.Recent(limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "", err)
	}
	return nonNilSlice(list), nil
}

// Search runs a full-text query. A limit of zero returns every hit.
func (s *Service) Search(ctx context.Context, q string, limit int) (_ []index.Hit, err error) {
	defer observe("search", time.Now(), &err)
	hits, err := s.idx.Query(ctx, q)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "", err)
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return nonNilSlice(hits), nil
}

// Reindex rebuilds the search index from disk.
func (s *Service) Reindex(ctx context.Context) (_ index.Changes, err error) {
	defer observe("reindex", time.Now(), &err)
	return s.idx.Rebuild(ctx)
}

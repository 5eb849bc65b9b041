// Package nodeservice is the node store: it coordinates path resolution,
// taxonomy checks, locking, persistence and indexing for every operation on
// the content tree.
package nodeservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/index"
	"github.com/starford/infrawiki/internal/lock"
	"github.com/starford/infrawiki/internal/metrics"
	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/pathres"
	"github.com/starford/infrawiki/internal/storage"
	"github.com/starford/infrawiki/internal/taxonomy"
)

// Event kinds passed to the event callback.
const (
	EventCreated = "node.created"
	EventUpdated = "node.updated"
	EventMoved   = "node.moved"
	EventDeleted = "node.deleted"
)

// Event describes a committed change.
type Event struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	OldPath string `json:"old_path,omitempty"`
}

// Limits bounds attachments per node. Zero disables a limit.
type Limits struct {
	MaxAttachmentBytes int64
	MaxAttachments     int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithLimits sets the attachment ceilings.
func WithLimits(l Limits) Option { return func(s *Service) { s.limits = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithEvents registers a callback invoked after every committed change.
func WithEvents(fn func(Event)) Option { return func(s *Service) { s.onEvent = fn } }

// Service coordinates storage, locking and index operations.
type Service struct {
	store   storage.Provider
	locks   *lock.Manager
	idx     *index.Index
	src     *Source
	logger  *slog.Logger
	limits  Limits
	now     func() time.Time
	onEvent func(Event)
}

// NewService creates a new node service.
func NewService(store storage.Provider, locks *lock.Manager, idx *index.Index, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locks:  locks,
		idx:    idx,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.src = NewSource(store, s.logger)
	return s
}

// observe annotates a failed operation with its name and records metrics.
func observe(op string, start time.Time, err *error) {
	if *err != nil {
		*err = apperr.WithOp(op, *err)
	}
	metrics.ObserveOp(op, start, *err)
}

func (s *Service) emit(kind, path, oldPath string) {
	if s.onEvent != nil {
		s.onEvent(Event{Kind: kind, Path: path, OldPath: oldPath})
	}
}

// timestamp returns the current time, strictly after prev.
func (s *Service) timestamp(prev time.Time) time.Time {
	t := s.now().UTC()
	if !t.After(prev) {
		t = prev.Add(time.Nanosecond)
	}
	return t
}

// parentType returns the taxonomy type of the node at path, or taxonomy.Root
// for the content root.
func (s *Service) parentType(path string) (models.NodeType, error) {
	if path == "" {
		return taxonomy.Root, nil
	}
	m, err := s.store.ReadMeta(path)
	if err != nil {
		return "", err
	}
	return m.Type, nil
}

// Create adds a node of type typ under parent. Its segment is derived from
// the title and made unique among the siblings.
func (s *Service) Create(ctx context.Context, parent string, typ models.NodeType, title string) (_ *models.Node, err error) {
	defer observe("create", time.Now(), &err)

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.New(apperr.KindInvalidInput, parent, "title is required")
	}
	if !typ.Valid() {
		return nil, apperr.New(apperr.KindInvalidInput, parent, "unknown node type %q", typ)
	}
	if _, err := pathres.Split(parent); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Acquire(ctx, lock.W(parent))
	if err != nil {
		return nil, err
	}
	defer unlock()

	pt, err := s.parentType(parent)
	if err != nil {
		return nil, err
	}
	if err := taxonomy.CheckPlacement(parent, pt, typ); err != nil {
		return nil, err
	}
	siblings, err := s.store.ListChildren(parent)
	if err != nil {
		return nil, err
	}
	name := uniqueSlug(pathres.Slugify(title), siblings)
	path := pathres.Join(parent, name)

	rec := newRecord(typ, title, s.timestamp(time.Time{}))
	if err := s.store.CreateNode(parent, name, rec); err != nil {
		return nil, err
	}
	s.idx.Index(document(path, rec))
	s.logger.Info("nodeservice: created", slog.String("path", path), slog.String("type", string(typ)))
	s.emit(EventCreated, path, "")
	return nodeFromRecord(path, rec, nil, nil), nil
}

// uniqueSlug returns slug, or slug-2, slug-3, ... whichever is not taken.
// Names compare case-insensitively.
func uniqueSlug(slug string, taken []string) string {
	used := make(map[string]bool, len(taken))
	for _, t := range taken {
		used[strings.ToLower(t)] = true
	}
	candidate := slug
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf("-%d", n)
		base := slug
		if len(base)+len(suffix) > pathres.MaxSegmentLen {
			base = base[:pathres.MaxSegmentLen-len(suffix)]
		}
		candidate = base + suffix
	}
	return candidate
}

func newRecord(typ models.NodeType, title string, now time.Time) *storage.Record {
	rec := &storage.Record{
		Meta: storage.Meta{
			ID:        uuid.NewString(),
			Type:      typ,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Body: "# " + title + "\n",
	}
	if typ.Layout().Tabbed {
		for _, t := range models.DefaultServiceTabs {
			t.Body = "# " + t.Title + "\n"
			if t.Name == models.ServiceNetworkTab {
				t.Body = renderNetwork(nil)
			}
			rec.Tabs = append(rec.Tabs, t)
		}
	}
	return rec
}

// Read loads the node at path with its children and attachments.
func (s *Service) Read(ctx context.Context, path string) (_ *models.Node, err error) {
	defer observe("read", time.Now(), &err)

	unlock, err := s.locks.Acquire(ctx, lock.R(path))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.load(path)
}

// load reads a node. The caller holds at least a read lock on path.
func (s *Service) load(path string) (*models.Node, error) {
	rec, err := s.store.ReadRecord(path)
	if err != nil {
		return nil, err
	}
	children, err := s.children(path)
	if err != nil {
		return nil, err
	}
	atts, err := s.store.Attachments(path, rec.Meta.Attachments)
	if err != nil {
		return nil, err
	}
	return nodeFromRecord(path, rec, children, atts), nil
}

// ListChildren returns the summaries of the children of path (the root when
// path is empty), oldest first. Children that cannot be read are returned
// with Corrupt set.
func (s *Service) ListChildren(ctx context.Context, path string) (_ []models.Summary, err error) {
	defer observe("list_children", time.Now(), &err)

	unlock, err := s.locks.Acquire(ctx, lock.R(path))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if path != "" {
		if _, err := s.store.ReadMeta(path); err != nil {
			return nil, err
		}
	}
	return s.children(path)
}

// children lists child summaries ordered by CreatedAt, then name.
func (s *Service) children(path string) ([]models.Summary, error) {
	names, err := s.store.ListChildren(path)
	if err != nil {
		return nil, err
	}
	out := make([]models.Summary, 0, len(names))
	for _, name := range names {
		p := pathres.Join(path, name)
		m, err := s.store.ReadMeta(p)
		switch {
		case err == nil:
			out = append(out, summary(p, m))
		case errors.Is(err, apperr.ErrNotFound):
			// not a node (no meta.json)
		case errors.Is(err, apperr.ErrCorruptNode):
			s.logger.Warn("nodeservice: corrupt child", slog.String("path", p), slog.String("error", err.Error()))
			out = append(out, models.Summary{Path: p, Corrupt: true})
		default:
			return nil, err
		}
	}
	sortSummaries(out)
	return out, nil
}

func sortSummaries(list []models.Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return pathres.Base(list[i].Path) < pathres.Base(list[j].Path)
	})
}

// Save applies patch to the node at path. When patch.ExpectedUpdatedAt is
// set and differs from the stored value the save fails with a conflict.
func (s *Service) Save(ctx context.Context, path string, patch models.Patch) (_ *models.Node, err error) {
	defer observe("save", time.Now(), &err)

	if path == "" {
		return nil, apperr.New(apperr.KindInvalidPath, path, "the content root cannot be saved")
	}
	if err := checkPatch(path, patch); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Acquire(ctx, lock.W(path))
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.store.ReadRecord(path)
	if err != nil {
		return nil, err
	}
	if !patch.ExpectedUpdatedAt.IsZero() && !patch.ExpectedUpdatedAt.Equal(rec.Meta.UpdatedAt) {
		return nil, apperr.New(apperr.KindConflict, path, "node was updated at %s, expected %s",
			rec.Meta.UpdatedAt.Format(time.RFC3339Nano), patch.ExpectedUpdatedAt.Format(time.RFC3339Nano))
	}
	if patch.Empty() {
		return s.load(path)
	}
	if err := applyPatch(path, rec, patch); err != nil {
		return nil, err
	}
	rec.Meta.UpdatedAt = s.timestamp(rec.Meta.UpdatedAt)

	if err := s.store.WriteRecord(path, rec); err != nil {
		// Body files may already hold the new content.
		s.idx.MarkStale("save failed", err)
		return nil, err
	}
	s.idx.Index(document(path, rec))
	s.logger.Info("nodeservice: saved", slog.String("path", path))
	s.emit(EventUpdated, path, "")
	return s.load(path)
}

// Move re-parents the node at path under newParent, keeping its name.
func (s *Service) Move(ctx context.Context, path, newParent string) (_ *models.Node, err error) {
	defer observe("move", time.Now(), &err)
	return s.move(ctx, path, newParent, pathres.Base(path))
}

// Rename changes the last segment of path. It is a move within the same
// parent.
func (s *Service) Rename(ctx context.Context, path, newName string) (_ *models.Node, err error) {
	defer observe("rename", time.Now(), &err)
	if err := pathres.ValidateSegment(newName); err != nil {
		return nil, err
	}
	return s.move(ctx, path, pathres.Parent(path), newName)
}

func (s *Service) move(ctx context.Context, path, newParent, newName string) (*models.Node, error) {
	if path == "" {
		return nil, apperr.New(apperr.KindInvalidPath, path, "the content root cannot be moved")
	}
	if _, err := pathres.Split(path); err != nil {
		return nil, err
	}
	if _, err := pathres.Split(newParent); err != nil {
		return nil, err
	}

	oldParent := pathres.Parent(path)
	unlock, err := s.locks.Acquire(ctx, lock.W(oldParent), lock.W(path), lock.W(newParent))
	if err != nil {
		return nil, err
	}
	defer unlock()

	m, err := s.store.ReadMeta(path)
	if err != nil {
		return nil, err
	}
	// A move into the node's own subtree must be reported as such even
	// though the destination lookup below would also fail.
	if pathres.IsWithin(newParent, path) {
		return nil, taxonomy.ValidateMove(taxonomy.MoveCheck{NodePath: path, NewParentPath: newParent})
	}
	pt, err := s.parentType(newParent)
	if err != nil {
		return nil, err
	}
	siblings, err := s.store.ListChildren(newParent)
	if err != nil {
		return nil, err
	}
	if err := taxonomy.ValidateMove(taxonomy.MoveCheck{
		NodePath:      path,
		NodeType:      m.Type,
		NewParentPath: newParent,
		NewParentType: pt,
		NewName:       newName,
		SiblingNames:  siblings,
	}); err != nil {
		return nil, err
	}

	newPath := pathres.Join(newParent, newName)
	if newPath == path {
		return s.load(path)
	}
	if err := s.store.Rename(path, newPath); err != nil {
		return nil, err
	}
	reindexErr := s.idx.ReindexTree(path, func(fn func(index.Document) error) error {
		return s.src.WalkTree(context.WithoutCancel(ctx), newPath, fn)
	})
	if reindexErr != nil {
		s.logger.Warn("nodeservice: reindex after move failed", slog.String("path", newPath), slog.String("error", reindexErr.Error()))
	}
	s.logger.Info("nodeservice: moved", slog.String("from", path), slog.String("to", newPath))
	s.emit(EventMoved, newPath, path)
	return s.load(newPath)
}

// Delete removes the node at path. A node with children is only removed
// when cascade is set, together with its whole subtree. It returns the
// removed paths, descendants first.
func (s *Service) Delete(ctx context.Context, path string, cascade bool) (_ []string, err error) {
	defer observe("delete", time.Now(), &err)

	if path == "" {
		return nil, apperr.New(apperr.KindInvalidPath, path, "the content root cannot be deleted")
	}
	if _, err := pathres.Split(path); err != nil {
		return nil, err
	}
	unlock, err := s.locks.Acquire(ctx, lock.W(pathres.Parent(path)), lock.W(path))
	if err != nil {
		return nil, err
	}
	defer unlock()

	ok, err := s.store.Exists(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, path, "node not found")
	}
	names, err := s.store.ListChildren(path)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 && !cascade {
		return nil, apperr.New(apperr.KindNotEmpty, path, "node has %d children", len(names))
	}

	removed, err := s.collect(path)
	if err != nil {
		return nil, err
	}
	if err := s.store.RemoveTree(path); err != nil {
		// The subtree may have vanished before the failure (tombstone left
		// for Sweep); the index must not keep pointing at it.
		if ok, exErr := s.store.Exists(path); exErr == nil && !ok {
			s.unindexRemoved(path, removed)
		} else {
			s.idx.MarkStale("delete failed", err)
		}
		return nil, err
	}
	s.unindexRemoved(path, removed)
	return removed, nil
}

func (s *Service) unindexRemoved(path string, removed []string) {
	s.idx.UnindexTree(path)
	s.logger.Info("nodeservice: deleted", slog.String("path", path), slog.Int("nodes", len(removed)))
	for _, p := range removed {
		s.emit(EventDeleted, p, "")
	}
}

// collect returns path and all directories beneath it, descendants first.
func (s *Service) collect(path string) ([]string, error) {
	names, err := s.store.ListChildren(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		sub, err := s.collect(pathres.Join(path, n))
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return append(out, path), nil
}

func summary(path string, m *storage.Meta) models.Summary {
	return models.Summary{
		Path:      path,
		ID:        m.ID,
		Type:      m.Type,
		Title:     m.Title,
		Tags:      m.Tags,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func nodeFromRecord(path string, rec *storage.Record, children []models.Summary, atts []models.Attachment) *models.Node {
	n := &models.Node{
		Path:           path,
		ID:             rec.Meta.ID,
		Type:           rec.Meta.Type,
		Title:          rec.Meta.Title,
		Tags:           nonNilSlice(rec.Meta.Tags),
		CreatedAt:      rec.Meta.CreatedAt,
		UpdatedAt:      rec.Meta.UpdatedAt,
		Body:           rec.Body,
		Tabs:           rec.Tabs,
		ServiceNetwork: rec.Meta.ServiceNetwork,
		Children:       make([]string, len(children)),
		Attachments:    nonNilSlice(atts),
		Checksum:       rec.Checksum,
	}
	for i, c := range children {
		n.Children[i] = c.Path
	}
	return n
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

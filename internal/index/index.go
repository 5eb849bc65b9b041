package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/infrawiki/internal/models"
)

// Source enumerates every readable node of the content tree. Walk calls fn
// once per node; nodes that cannot be read are skipped by the source.
// Returning an error means part of the tree could not be enumerated.
type Source interface {
	Walk(ctx context.Context, fn func(Document) error) error
}

// Catalog is the persisted summary store. Consumers should depend on this
// interface rather than the concrete *DB type.
type Catalog interface {
	Upsert(r Row) error
	Delete(path string) error
	DeleteTree(path string) error
	Replace(rows []Row) error
	Checksums() (map[string]string, error)
	Recent(limit int) ([]models.Summary, error)
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)

type opKind int

const (
	opIndex opKind = iota
	opUnindex
	opUnindexTree
)

// op is a journaled mutation, replayed onto a freshly rebuilt index.
type op struct {
	kind opKind
	doc  Document
	path string
}

func (o op) apply(inv *inverted) {
	switch o.kind {
	case opIndex:
		inv.add(o.doc)
	case opUnindex:
		inv.remove(o.path)
	case opUnindexTree:
		inv.removeTree(o.path)
	}
}

// Changes is the difference a rebuild found between the index and the tree.
type Changes struct {
	Created []string
	Updated []string
	Deleted []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// Option configures an Index.
type Option func(*Index)

// WithCatalog persists summaries to c.
func WithCatalog(c Catalog) Option {
	return func(ix *Index) { ix.catalog = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// WithRebuildObserver registers a callback invoked after every rebuild.
func WithRebuildObserver(fn func(d time.Duration, docs int, err error)) Option {
	return func(ix *Index) { ix.onRebuild = fn }
}

// Index is the search index. All methods are safe for concurrent use.
//
// Mutations apply to the live index immediately. While a rebuild is walking
// the tree they are also journaled and replayed onto the rebuilt index before
// it replaces the live one, so no update is lost to the swap.
type Index struct {
	src       Source
	catalog   Catalog
	logger    *slog.Logger
	onRebuild func(time.Duration, int, error)

	mu         sync.RWMutex
	inv        *inverted
	rebuilding bool
	journal    []op

	// catalogMu orders catalog writes against the catalog swap of a rebuild.
	catalogMu sync.Mutex
	rebuildMu sync.Mutex
	stale     atomic.Bool
}

// New creates an empty index over src. Call Rebuild to populate it.
func New(src Source, opts ...Option) *Index {
	ix := &Index{
		src:    src,
		logger: slog.Default(),
		inv:    newInverted(),
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

func (ix *Index) mutate(o op) {
	ix.mu.Lock()
	o.apply(ix.inv)
	if ix.rebuilding {
		ix.journal = append(ix.journal, o)
	}
	ix.mu.Unlock()
}

// Index adds or replaces the entries of doc. It is idempotent.
func (ix *Index) Index(doc Document) {
	ix.mutate(op{kind: opIndex, doc: doc})
	ix.writeCatalog(doc.Path(), func(c Catalog) error {
		return c.Upsert(Row{Summary: doc.Summary, Checksum: doc.Checksum})
	})
}

// Unindex removes the entries of a single node.
func (ix *Index) Unindex(path string) {
	ix.mutate(op{kind: opUnindex, path: path})
	ix.writeCatalog(path, func(c Catalog) error { return c.Delete(path) })
}

// UnindexTree removes a node and all of its descendants.
func (ix *Index) UnindexTree(path string) {
	ix.mutate(op{kind: opUnindexTree, path: path})
	ix.writeCatalog(path, func(c Catalog) error { return c.DeleteTree(path) })
}

func (ix *Index) writeCatalog(path string, fn func(Catalog) error) {
	if ix.catalog == nil {
		return
	}
	ix.catalogMu.Lock()
	err := fn(ix.catalog)
	ix.catalogMu.Unlock()
	if err != nil {
		ix.MarkStale("catalog write failed", err)
		ix.logger.Warn("index: catalog write failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// MarkStale flags the index so that the next Query rebuilds it first.
func (ix *Index) MarkStale(reason string, err error) {
	if ix.stale.CompareAndSwap(false, true) {
		attrs := []any{slog.String("reason", reason)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		ix.logger.Warn("index: marked stale", attrs...)
	}
}

// Stale reports whether the index is waiting for a rebuild.
func (ix *Index) Stale() bool { return ix.stale.Load() }

// Len returns the number of indexed nodes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.inv.forward)
}

// Query returns the nodes matching every term of q, best first. A stale
// index is rebuilt before answering.
func (ix *Index) Query(ctx context.Context, q string) ([]Hit, error) {
	if ix.Stale() {
		if _, err := ix.Rebuild(ctx); err != nil {
			return nil, fmt.Errorf("index: query on stale index: %w", err)
		}
	}
	qterms := terms(q)
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.inv.query(qterms), nil
}

// Recent returns the most recently updated nodes. The catalog answers when
// configured; otherwise the in-memory entries do.
func (ix *Index) Recent(limit int) ([]models.Summary, error) {
	if ix.catalog != nil && !ix.Stale() {
		ix.catalogMu.Lock()
		defer ix.catalogMu.Unlock()
		return ix.catalog.Recent(limit)
	}
	if limit <= 0 {
		limit = 10
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.inv.recent(limit), nil
}

// Rebuild re-creates the index by walking the source. Concurrent mutations
// are journaled and replayed, then the new index replaces the live one and
// the catalog is rewritten to match. It reports how the rebuilt index differs
// from the one it replaced.
func (ix *Index) Rebuild(ctx context.Context) (Changes, error) {
	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()

	start := time.Now()
	// Clear before walking: a stale flag raised during the walk must survive.
	wasStale := ix.stale.Swap(false)

	ix.mu.Lock()
	ix.rebuilding = true
	ix.journal = nil
	ix.mu.Unlock()

	fresh := newInverted()
	walkErr := ix.src.Walk(ctx, func(d Document) error {
		fresh.add(d)
		return nil
	})

	ix.mu.Lock()
	ix.rebuilding = false
	journal := ix.journal
	ix.journal = nil
	if walkErr != nil {
		ix.mu.Unlock()
		ix.stale.Store(true)
		ix.report(start, 0, walkErr)
		return Changes{}, fmt.Errorf("index: rebuild: %w", walkErr)
	}
	for _, o := range journal {
		o.apply(fresh)
	}
	changes := diff(ix.inv, fresh)
	ix.inv = fresh
	rows := make([]Row, 0, len(fresh.forward))
	for _, e := range fresh.forward {
		rows = append(rows, Row{Summary: e.doc.Summary, Checksum: e.doc.Checksum})
	}
	// Take catalogMu before releasing mu so that no later mutation can reach
	// the catalog ahead of the swap.
	ix.catalogMu.Lock()
	ix.mu.Unlock()

	var offline int
	var catErr error
	if ix.catalog != nil {
		offline = ix.countOffline(rows)
		catErr = ix.catalog.Replace(rows)
	}
	ix.catalogMu.Unlock()

	if catErr != nil {
		ix.MarkStale("catalog replace failed", catErr)
	}
	ix.logger.Info("index: rebuilt",
		slog.Int("nodes", len(rows)),
		slog.Int("changed_offline", offline),
		slog.Bool("was_stale", wasStale),
		slog.Duration("took", time.Since(start)))
	ix.report(start, len(rows), catErr)
	return changes, nil
}

// countOffline counts nodes whose checksum differs from the catalog, which
// for the first rebuild of a process means edits made while it was down.
func (ix *Index) countOffline(rows []Row) int {
	prev, err := ix.catalog.Checksums()
	if err != nil {
		return 0
	}
	n := 0
	for _, r := range rows {
		if prev[r.Summary.Path] != r.Checksum {
			n++
		}
		delete(prev, r.Summary.Path)
	}
	return n + len(prev)
}

func (ix *Index) report(start time.Time, docs int, err error) {
	if ix.onRebuild != nil {
		ix.onRebuild(time.Since(start), docs, err)
	}
}

package index

import (
	"sort"
)

// ReindexTree removes oldRoot and everything beneath it, then indexes every
// document walk yields (typically the same subtree at its new location).
// When walk fails part-way the index is marked stale, so the next query
// rebuilds it from disk instead of serving a half-updated subtree.
func (ix *Index) ReindexTree(oldRoot string, walk func(fn func(Document) error) error) error {
	ix.UnindexTree(oldRoot)
	err := walk(func(d Document) error {
		ix.Index(d)
		return nil
	})
	if err != nil {
		ix.MarkStale("subtree reindex failed", err)
	}
	return err
}

// diff compares the live index with a rebuilt one by document checksum.
func diff(old, fresh *inverted) Changes {
	var c Changes
	for p, e := range fresh.forward {
		prev, ok := old.forward[p]
		switch {
		case !ok:
			c.Created = append(c.Created, p)
		case prev.doc.Checksum != e.doc.Checksum:
			c.Updated = append(c.Updated, p)
		}
	}
	for p := range old.forward {
		if _, ok := fresh.forward[p]; !ok {
			c.Deleted = append(c.Deleted, p)
		}
	}
	sort.Strings(c.Created)
	sort.Strings(c.Updated)
	sort.Strings(c.Deleted)
	return c
}

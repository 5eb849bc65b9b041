package index

import (
	"sort"
	"strings"

	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/pathres"
)

// Field names a searchable part of a node.
type Field string

const (
	FieldTitle Field = "title"
	FieldBody  Field = "body"
	FieldTag   Field = "tag"
)

// fieldOrder is also the tie-break order when picking a hit's field.
var fieldOrder = [3]Field{FieldTitle, FieldBody, FieldTag}

// Weights applied to term frequencies per field.
var weights = [3]float64{3, 2, 1}

// counts holds term frequencies per field, indexed like fieldOrder.
type counts [3]int

// Document is what the index stores for one node.
type Document struct {
	Summary  models.Summary
	Body     string // all body text of the node
	Checksum string
}

// Path is the node path of the document.
func (d Document) Path() string { return d.Summary.Path }

// Hit is one query result.
type Hit struct {
	Path  string          `json:"path"`
	Title string          `json:"title"`
	Type  models.NodeType `json:"type"`
	// Field is the field with the largest score contribution.
	Field Field `json:"field"`
	// Fields lists every field that matched, in title, body, tag order.
	Fields []Field `json:"fields"`
	Score  float64 `json:"score"`
}

type entry struct {
	doc   Document
	terms []string
}

// inverted maps term -> path -> field counts, with a forward map from path
// to the terms it was indexed under so removal touches only those terms.
type inverted struct {
	postings map[string]map[string]*counts
	forward  map[string]*entry
}

func newInverted() *inverted {
	return &inverted{
		postings: make(map[string]map[string]*counts),
		forward:  make(map[string]*entry),
	}
}

func (ix *inverted) add(doc Document) {
	path := doc.Path()
	ix.remove(path)

	per := make(map[string]*counts)
	bump := func(text string, field int) {
		for _, t := range Tokenize(text) {
			c, ok := per[t]
			if !ok {
				c = &counts{}
				per[t] = c
			}
			c[field]++
		}
	}
	bump(doc.Summary.Title, 0)
	bump(doc.Body, 1)
	for _, tag := range doc.Summary.Tags {
		bump(tag, 2)
	}

	e := &entry{doc: doc, terms: make([]string, 0, len(per))}
	for t, c := range per {
		p, ok := ix.postings[t]
		if !ok {
			p = make(map[string]*counts)
			ix.postings[t] = p
		}
		p[path] = c
		e.terms = append(e.terms, t)
	}
	ix.forward[path] = e
}

func (ix *inverted) remove(path string) bool {
	e, ok := ix.forward[path]
	if !ok {
		return false
	}
	for _, t := range e.terms {
		p := ix.postings[t]
		delete(p, path)
		if len(p) == 0 {
			delete(ix.postings, t)
		}
	}
	delete(ix.forward, path)
	return true
}

// removeTree removes path and everything beneath it and returns the removed
// paths.
func (ix *inverted) removeTree(path string) []string {
	var removed []string
	for p := range ix.forward {
		if pathres.IsWithin(p, path) {
			removed = append(removed, p)
		}
	}
	for _, p := range removed {
		ix.remove(p)
	}
	sort.Strings(removed)
	return removed
}

// query returns the documents containing every term.
func (ix *inverted) query(qterms []string) []Hit {
	if len(qterms) == 0 {
		return nil
	}
	// Intersect starting from the rarest term.
	lists := make([]map[string]*counts, len(qterms))
	for i, t := range qterms {
		p, ok := ix.postings[t]
		if !ok {
			return nil
		}
		lists[i] = p
	}
	sort.Slice(lists, func(i, j int) bool { return len(lists[i]) < len(lists[j]) })

	var hits []Hit
	for path := range lists[0] {
		var per [3]float64
		matched := true
		for _, l := range lists {
			c, ok := l[path]
			if !ok {
				matched = false
				break
			}
			for f := range c {
				per[f] += float64(c[f]) * weights[f]
			}
		}
		if !matched {
			continue
		}
		h := Hit{Path: path}
		best := -1
		for f := range per {
			if per[f] == 0 {
				continue
			}
			h.Score += per[f]
			h.Fields = append(h.Fields, fieldOrder[f])
			if best < 0 || per[f] > per[best] {
				best = f
			}
		}
		h.Field = fieldOrder[best]
		if e := ix.forward[path]; e != nil {
			h.Title = e.doc.Summary.Title
			h.Type = e.doc.Summary.Type
		}
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})
	return hits
}

func (ix *inverted) summaries() []models.Summary {
	out := make([]models.Summary, 0, len(ix.forward))
	for _, e := range ix.forward {
		out = append(out, e.doc.Summary)
	}
	return out
}

// recent returns summaries by UpdatedAt descending, then path.
func (ix *inverted) recent(limit int) []models.Summary {
	out := ix.summaries()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return strings.Compare(out[i].Path, out[j].Path) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

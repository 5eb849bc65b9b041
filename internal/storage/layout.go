package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/checksum"
	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/pathres"
)

// File names inside a node directory.
const (
	MetaFile = "meta.json"
	BodyFile = "index.md"
	TabsFile = "tabs.json"
)

// Meta is the content of meta.json. Nothing derived from the node's path is
// stored, so moving a directory never requires rewriting its descendants.
type Meta struct {
	ID             string               `json:"id"`
	Type           models.NodeType      `json:"type"`
	Title          string               `json:"title"`
	Tags           []string             `json:"tags,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	ServiceNetwork []models.NetworkItem `json:"service_network,omitempty"`
	Attachments    []models.Attachment  `json:"attachments,omitempty"`
}

// TabEntry is one entry of tabs.json.
type TabEntry struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

type tabManifest struct {
	Tabs []TabEntry `json:"tabs"`
}

// Record is everything persisted for one node.
type Record struct {
	Meta Meta
	// Body is index.md, or overview.md for tabbed types.
	Body string
	// Tabs are the tabs after the overview, in manifest order.
	Tabs []models.Tab
	// Checksum covers meta.json and every body file. Set by ReadRecord and
	// WriteRecord.
	Checksum string
}

type file struct {
	name string
	data []byte
}

// encode renders rec into its files in checksum order: meta.json first,
// then index.md, or tabs.json followed by the tab bodies.
func encode(rec *Record) ([]file, error) {
	meta, err := json.MarshalIndent(rec.Meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("storage: encode meta: %w", err)
	}
	files := []file{{MetaFile, meta}}
	if !rec.Meta.Type.Layout().Tabbed {
		return append(files, file{BodyFile, []byte(rec.Body)}), nil
	}

	m := tabManifest{Tabs: []TabEntry{{Name: models.OverviewTab, Title: "Overview"}}}
	bodies := []file{{tabFile(models.OverviewTab), []byte(rec.Body)}}
	for _, t := range rec.Tabs {
		m.Tabs = append(m.Tabs, TabEntry{Name: t.Name, Title: t.Title})
		bodies = append(bodies, file{tabFile(t.Name), []byte(t.Body)})
	}
	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("storage: encode tabs: %w", err)
	}
	files = append(files, file{TabsFile, manifest})
	return append(files, bodies...), nil
}

func tabFile(name string) string { return name + ".md" }

func digest(files []file) string {
	names := make([]string, len(files))
	parts := make([][]byte, len(files))
	for i, f := range files {
		names[i], parts[i] = f.name, f.data
	}
	return checksum.Parts(names, parts)
}

// ReadRecord loads the node at path. A missing directory or meta.json is
// not_found; anything unreadable or incomplete beyond that is corrupt_node.
func (f *FS) ReadRecord(path string) (*Record, error) {
	if path == "" {
		return nil, apperr.New(apperr.KindNotFound, path, "the content root is not a node")
	}
	dir, err := f.res.Resolve(path)
	if err != nil {
		return nil, err
	}
	return readRecord(path, dir)
}

// ReadMeta loads only meta.json of the node at path.
func (f *FS) ReadMeta(path string) (*Meta, error) {
	if path == "" {
		return nil, apperr.New(apperr.KindNotFound, path, "the content root is not a node")
	}
	dir, err := f.res.Resolve(path)
	if err != nil {
		return nil, err
	}
	m, _, err := readMeta(path, dir)
	return m, err
}

func readMeta(path, dir string) (*Meta, []byte, error) {
	raw, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, nil, classify(path, fmt.Errorf("storage: read meta: %w", err))
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, corrupt(path, "unparseable %s: %v", MetaFile, err)
	}
	if err := checkMeta(&m); err != nil {
		return nil, nil, corrupt(path, "%s: %v", MetaFile, err)
	}
	return &m, raw, nil
}

func readRecord(path, dir string) (*Record, error) {
	meta, metaRaw, err := readMeta(path, dir)
	if err != nil {
		return nil, err
	}
	rec := &Record{Meta: *meta}
	files := []file{{MetaFile, metaRaw}}

	if !rec.Meta.Type.Layout().Tabbed {
		body, err := readBody(path, dir, BodyFile)
		if err != nil {
			return nil, err
		}
		rec.Body = string(body)
		files = append(files, file{BodyFile, body})
		rec.Checksum = digest(files)
		return rec, nil
	}

	manifestRaw, err := readBody(path, dir, TabsFile)
	if err != nil {
		return nil, err
	}
	var m tabManifest
	if err := json.Unmarshal(manifestRaw, &m); err != nil {
		return nil, corrupt(path, "unparseable %s: %v", TabsFile, err)
	}
	if len(m.Tabs) == 0 || m.Tabs[0].Name != models.OverviewTab {
		return nil, corrupt(path, "%s must start with the %s tab", TabsFile, models.OverviewTab)
	}
	files = append(files, file{TabsFile, manifestRaw})
	for i, e := range m.Tabs {
		if pathres.ValidateSegment(e.Name) != nil {
			return nil, corrupt(path, "%s: bad tab name %q", TabsFile, e.Name)
		}
		body, err := readBody(path, dir, tabFile(e.Name))
		if err != nil {
			return nil, err
		}
		files = append(files, file{tabFile(e.Name), body})
		if i == 0 {
			rec.Body = string(body)
			continue
		}
		rec.Tabs = append(rec.Tabs, models.Tab{Name: e.Name, Title: e.Title, Body: string(body)})
	}
	rec.Checksum = digest(files)
	return rec, nil
}

// readBody reads a file the layout requires. Its absence means the node is
// incomplete, not missing.
func readBody(path, dir, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, corrupt(path, "missing %s", name)
	}
	if err != nil {
		return nil, classify(path, fmt.Errorf("storage: read %s: %w", name, err))
	}
	return data, nil
}

func checkMeta(m *Meta) error {
	switch {
	case m.ID == "":
		return errors.New("missing id")
	case !m.Type.Valid():
		return fmt.Errorf("unknown type %q", m.Type)
	case m.Title == "":
		return errors.New("missing title")
	case m.CreatedAt.IsZero():
		return errors.New("missing created_at")
	case m.UpdatedAt.IsZero():
		return errors.New("missing updated_at")
	}
	return nil
}

func corrupt(path, format string, args ...any) error {
	return apperr.New(apperr.KindCorruptNode, path, format, args...)
}

// WriteRecord persists rec over the existing node at path and sets
// rec.Checksum.
func (f *FS) WriteRecord(path string, rec *Record) error {
	if path == "" {
		return apperr.New(apperr.KindInvalidPath, path, "the content root is not a node")
	}
	dir, err := f.res.Resolve(path)
	if err != nil {
		return err
	}
	if err := writeRecord(dir, rec); err != nil {
		return classify(path, err)
	}
	return nil
}

// writeRecord writes the body files, then meta.json as the commit record,
// then removes body files of tabs that are no longer listed.
func writeRecord(dir string, rec *Record) error {
	files, err := encode(rec)
	if err != nil {
		return err
	}
	for _, fl := range files[1:] {
		if err := writeFile(dir, fl.name, fl.data); err != nil {
			return err
		}
	}
	if err := writeFile(dir, files[0].name, files[0].data); err != nil {
		return err
	}
	rec.Checksum = digest(files)

	if !rec.Meta.Type.Layout().Tabbed {
		return nil
	}
	keep := make(map[string]bool, len(files))
	for _, fl := range files {
		keep[fl.name] = true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("storage: list tabs: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || keep[e.Name()] || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: remove stale tab: %w", err)
		}
	}
	return nil
}

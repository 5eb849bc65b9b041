package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hlubek/readercomp"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/models"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func testRecord(typ models.NodeType, title string) *Record {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &Record{
		Meta: Meta{
			ID:        "id-" + title,
			Type:      typ,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Body: "# " + title + "\n",
	}
}

func mustCreate(t *testing.T, s *FS, parent, name string, rec *Record) {
	t.Helper()
	if err := s.CreateNode(parent, name, rec); err != nil {
		t.Fatalf("CreateNode(%q, %q): %v", parent, name, err)
	}
}

func TestCreateAndRead(t *testing.T) {
	s := tempStore(t)
	rec := testRecord(models.TypeCompany, "Acme")
	rec.Meta.Tags = []string{"prod"}
	mustCreate(t, s, "", "Acme", rec)

	got, err := s.ReadRecord("Acme")
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if got.Meta.Title != "Acme" || got.Body != "# Acme\n" || got.Meta.Tags[0] != "prod" {
		t.Errorf("record mismatch: %+v", got)
	}
	if got.Checksum == "" || got.Checksum != rec.Checksum {
		t.Errorf("checksum = %q, want %q", got.Checksum, rec.Checksum)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "Acme", "assets")); err != nil {
		t.Errorf("assets dir missing: %v", err)
	}
}

func TestCreateLeavesNoStaging(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))

	matches, _ := filepath.Glob(filepath.Join(s.Root(), stagingPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover staging dirs: %v", matches)
	}
}

func TestCreateCollision(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))
	err := s.CreateNode("", "Acme", testRecord(models.TypeCompany, "Acme"))
	if !errors.Is(err, apperr.ErrNameCollision) {
		t.Fatalf("err = %v, want name_collision", err)
	}
}

func TestServiceTabsRoundTrip(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))
	rec := testRecord(models.TypeService, "RDS")
	rec.Tabs = []models.Tab{
		{Name: "passport", Title: "Passport", Body: "owner: ops"},
		{Name: "docs", Title: "Docs", Body: "links"},
	}
	mustCreate(t, s, "Acme", "RDS", rec)

	got, err := s.ReadRecord("Acme/RDS")
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if got.Body != rec.Body || len(got.Tabs) != 2 || got.Tabs[1].Body != "links" {
		t.Errorf("tabs mismatch: %+v", got)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "Acme", "RDS", BodyFile)); err == nil {
		t.Error("service must not have index.md")
	}

	// Dropping a tab removes its file after meta.json is written.
	got.Tabs = got.Tabs[:1]
	if err := s.WriteRecord("Acme/RDS", got); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "Acme", "RDS", "docs.md")); !os.IsNotExist(err) {
		t.Errorf("stale tab file still present: %v", err)
	}
	again, err := s.ReadRecord("Acme/RDS")
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if again.Checksum != got.Checksum {
		t.Errorf("checksum after write %q != after read %q", got.Checksum, again.Checksum)
	}
}

func TestWriteRecordChangesChecksum(t *testing.T) {
	s := tempStore(t)
	rec := testRecord(models.TypeCompany, "Acme")
	mustCreate(t, s, "", "Acme", rec)
	before := rec.Checksum

	rec.Body = "changed"
	if err := s.WriteRecord("Acme", rec); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if rec.Checksum == before {
		t.Error("checksum did not change")
	}
	data, _ := os.ReadFile(filepath.Join(s.Root(), "Acme", BodyFile))
	if string(data) != "changed" {
		t.Errorf("body = %q", data)
	}
}

func TestReadRecord_NotFound(t *testing.T) {
	s := tempStore(t)
	for _, p := range []string{"", "Missing"} {
		if _, err := s.ReadRecord(p); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("ReadRecord(%q) = %v, want not_found", p, err)
		}
	}
}

func TestReadRecord_Corrupt(t *testing.T) {
	cases := map[string]func(dir string){
		"garbage meta": func(dir string) {
			_ = os.WriteFile(filepath.Join(dir, MetaFile), []byte("{not json"), 0o644)
		},
		"unknown type": func(dir string) {
			_ = os.WriteFile(filepath.Join(dir, MetaFile),
				[]byte(`{"id":"x","type":"planet","title":"x","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z"}`), 0o644)
		},
		"missing title": func(dir string) {
			_ = os.WriteFile(filepath.Join(dir, MetaFile),
				[]byte(`{"id":"x","type":"company","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z"}`), 0o644)
		},
		"missing body": func(dir string) {
			_ = os.Remove(filepath.Join(dir, BodyFile))
		},
	}
	for name, damage := range cases {
		t.Run(name, func(t *testing.T) {
			s := tempStore(t)
			mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))
			damage(filepath.Join(s.Root(), "Acme"))
			if _, err := s.ReadRecord("Acme"); !errors.Is(err, apperr.ErrCorruptNode) {
				t.Errorf("err = %v, want corrupt_node", err)
			}
		})
	}
}

func TestReadRecord_CorruptTabManifest(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Svc", testRecord(models.TypeService, "Svc"))
	_ = os.Remove(filepath.Join(s.Root(), "Svc", "overview.md"))
	if _, err := s.ReadRecord("Svc"); !errors.Is(err, apperr.ErrCorruptNode) {
		t.Errorf("err = %v, want corrupt_node", err)
	}
}

func TestListChildren(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Beta", testRecord(models.TypeCompany, "Beta"))
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))
	_ = os.Mkdir(filepath.Join(s.Root(), ".hidden"), 0o755)
	_ = os.WriteFile(filepath.Join(s.Root(), "stray.txt"), []byte("x"), 0o644)

	names, err := s.ListChildren("")
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if strings.Join(names, ",") != "Acme,Beta" {
		t.Errorf("names = %v", names)
	}

	names, err = s.ListChildren("Acme")
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("assets dir listed as a child: %v", names)
	}
}

func TestRename(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))
	mustCreate(t, s, "Acme", "DC1", testRecord(models.TypeDataCenter, "DC1"))
	mustCreate(t, s, "", "Beta", testRecord(models.TypeCompany, "Beta"))

	if err := s.Rename("Acme/DC1", "Beta/DC1"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := s.ReadRecord("Beta/DC1"); err != nil {
		t.Errorf("read after move: %v", err)
	}
	if ok, _ := s.Exists("Acme/DC1"); ok {
		t.Error("old path should not exist")
	}
	if err := s.Rename("Beta/DC1", "Beta"); !errors.Is(err, apperr.ErrNameCollision) {
		t.Errorf("rename onto existing = %v", err)
	}
}

func TestRemoveTree(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))
	mustCreate(t, s, "Acme", "DC1", testRecord(models.TypeDataCenter, "DC1"))

	if err := s.RemoveTree("Acme"); err != nil {
		t.Fatalf("RemoveTree: %v", err)
	}
	entries, _ := os.ReadDir(s.Root())
	if len(entries) != 0 {
		t.Errorf("root not empty after remove: %v", entries)
	}
	if err := s.RemoveTree(""); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("RemoveTree(root) = %v", err)
	}
}

func TestSweep(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))
	_ = os.MkdirAll(filepath.Join(s.Root(), stagingPrefix+"abc", "assets"), 0o755)
	_ = os.MkdirAll(filepath.Join(s.Root(), "Acme", tombstonePrefix+"def", "DC1"), 0o755)

	n, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if _, err := s.ReadRecord("Acme"); err != nil {
		t.Errorf("live node damaged by sweep: %v", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempStore(t)

	cases := []string{
		"/etc/shadow",
		"/Acme",
	}
	for _, p := range cases {
		if _, err := s.ReadRecord(p); !errors.Is(err, apperr.ErrPathTraversal) {
			t.Errorf("ReadRecord(%q) = %v", p, err)
		}
		if err := s.CreateNode(p, "x", testRecord(models.TypeCompany, "x")); !errors.Is(err, apperr.ErrPathTraversal) {
			t.Errorf("CreateNode(%q) = %v", p, err)
		}
	}

	// Dot segments are rejected as malformed before any resolution.
	for _, p := range []string{"../../etc/passwd", "../outside"} {
		if _, err := s.ReadRecord(p); !errors.Is(err, apperr.ErrInvalidPath) {
			t.Errorf("ReadRecord(%q) = %v", p, err)
		}
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))

	payload := bytes.Repeat([]byte{0x00, 0xff, 0x10, '\n'}, 4096)
	att, err := s.PutAttachment("Acme", "rack.bin", bytes.NewReader(payload), 1<<20)
	if err != nil {
		t.Fatalf("PutAttachment: %v", err)
	}
	if att.Size != int64(len(payload)) || att.SHA256 == "" {
		t.Errorf("attachment = %+v", att)
	}

	rc, err := s.OpenAttachment("Acme", "rack.bin")
	if err != nil {
		t.Fatalf("OpenAttachment: %v", err)
	}
	defer rc.Close()
	ok, err := readercomp.Equal(bytes.NewReader(payload), rc, 4096)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !ok {
		t.Error("attachment bytes differ")
	}
}

func TestAttachmentTooLarge(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))

	_, err := s.PutAttachment("Acme", "big.bin", bytes.NewReader(make([]byte, 11)), 10)
	if !errors.Is(err, apperr.ErrAttachmentTooLarge) {
		t.Fatalf("err = %v, want attachment_too_large", err)
	}
	if _, err := s.OpenAttachment("Acme", "big.bin"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("partial attachment visible: %v", err)
	}
}

func TestAttachmentNames(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))

	if _, err := s.PutAttachment("Acme", "../meta.json", strings.NewReader("x"), 0); !errors.Is(err, apperr.ErrPathTraversal) {
		t.Errorf("traversal name = %v", err)
	}
	if _, err := s.PutAttachment("Acme", ".env", strings.NewReader("x"), 0); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("hidden name = %v", err)
	}
}

func TestAttachmentsReconcile(t *testing.T) {
	s := tempStore(t)
	mustCreate(t, s, "", "Acme", testRecord(models.TypeCompany, "Acme"))
	a, err := s.PutAttachment("Acme", "a.txt", strings.NewReader("alpha"), 0)
	if err != nil {
		t.Fatalf("PutAttachment: %v", err)
	}
	// A file dropped in by hand, and a manifest entry whose file is gone.
	_ = os.WriteFile(filepath.Join(s.Root(), "Acme", "assets", "b.txt"), []byte("beta"), 0o644)
	manifest := []models.Attachment{a, {Name: "gone.txt", Size: 3}}

	got, err := s.Attachments("Acme", manifest)
	if err != nil {
		t.Fatalf("Attachments: %v", err)
	}
	if len(got) != 2 || got[0].Name != "a.txt" || got[1].Name != "b.txt" {
		t.Fatalf("attachments = %+v", got)
	}
	if got[0].UploadedAt != a.UploadedAt {
		t.Error("manifest entry not reused")
	}
	if got[1].Size != 4 || got[1].SHA256 == "" {
		t.Errorf("unlisted file not hashed: %+v", got[1])
	}

	if err := s.RemoveAttachment("Acme", "a.txt"); err != nil {
		t.Fatalf("RemoveAttachment: %v", err)
	}
	rc, err := s.OpenAttachment("Acme", "a.txt")
	if err == nil {
		_, _ = io.Copy(io.Discard, rc)
		rc.Close()
		t.Error("removed attachment still readable")
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/infrawiki-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "infrawiki-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}

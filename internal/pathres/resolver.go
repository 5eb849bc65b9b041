// Package pathres maps logical slash-separated node paths to directories
// under the content root and back.
//
// Resolution is purely syntactic plus a containment check. It never touches
// the filesystem, so existence and taxonomy are checked by the layers above.
package pathres

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/infrawiki/internal/apperr"
)

const (
	// MaxSegmentLen bounds a single path segment in bytes.
	MaxSegmentLen = 128
	// AssetsDir is the per-node attachment directory; it can never be a node.
	AssetsDir = "assets"
)

// Resolver resolves logical paths against a content root.
type Resolver struct {
	root string // absolute, cleaned
}

// New returns a resolver rooted at root.
func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("pathres: resolve root: %w", err)
	}
	return &Resolver{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute content root.
func (r *Resolver) Root() string { return r.root }

// Resolve maps a logical path to its absolute directory. The empty path is
// the content root.
func (r *Resolver) Resolve(logical string) (string, error) {
	segs, err := Split(logical)
	if err != nil {
		return "", err
	}
	abs := filepath.Join(append([]string{r.root}, segs...)...)
	if !r.contains(abs) {
		return "", apperr.New(apperr.KindPathTraversal, logical, "path escapes content root")
	}
	return abs, nil
}

// Unresolve maps an absolute directory under the root back to its logical
// path.
func (r *Resolver) Unresolve(abs string) (string, error) {
	if !filepath.IsAbs(abs) {
		return "", apperr.New(apperr.KindInvalidPath, abs, "location is not absolute")
	}
	clean := filepath.Clean(abs)
	if !r.contains(clean) {
		return "", apperr.New(apperr.KindPathTraversal, abs, "location is outside content root")
	}
	rel, err := filepath.Rel(r.root, clean)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidPath, abs, err)
	}
	if rel == "." {
		return "", nil
	}
	logical := filepath.ToSlash(rel)
	if _, err := Split(logical); err != nil {
		return "", err
	}
	return logical, nil
}

func (r *Resolver) contains(abs string) bool {
	return abs == r.root || strings.HasPrefix(abs, r.root+string(os.PathSeparator))
}

// Split validates a logical path and returns its segments. The empty path
// yields no segments.
func Split(logical string) ([]string, error) {
	if logical == "" {
		return nil, nil
	}
	if strings.HasPrefix(logical, "/") || filepath.IsAbs(logical) {
		return nil, apperr.New(apperr.KindPathTraversal, logical, "absolute paths are not allowed")
	}
	segs := strings.Split(logical, "/")
	for _, s := range segs {
		if msg := segmentProblem(s); msg != "" {
			return nil, apperr.New(apperr.KindInvalidPath, logical, "%s", msg)
		}
	}
	return segs, nil
}

// ValidateSegment checks a single node name against the allow-list.
func ValidateSegment(s string) error {
	if msg := segmentProblem(s); msg != "" {
		return apperr.New(apperr.KindInvalidPath, s, "%s", msg)
	}
	return nil
}

func segmentProblem(s string) string {
	switch {
	case s == "":
		return "empty segment"
	case s == "." || s == "..":
		return fmt.Sprintf("dot segment %q", s)
	case len(s) > MaxSegmentLen:
		return fmt.Sprintf("segment longer than %d bytes", MaxSegmentLen)
	case strings.EqualFold(s, AssetsDir):
		return fmt.Sprintf("segment %q is reserved", s)
	}
	for i := 0; i < len(s); i++ {
		if !segmentByte(s[i]) {
			return fmt.Sprintf("segment %q contains disallowed character %q", s, s[i])
		}
	}
	return ""
}

func segmentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}

// Join builds a logical path from a parent and a child segment.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Parent returns the logical parent of path ("" for top-level nodes).
func Parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Base returns the last segment of path.
func Base(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// IsWithin reports whether path equals ancestor or lies beneath it. Every
// path is within the root "".
func IsWithin(path, ancestor string) bool {
	if ancestor == "" || path == ancestor {
		return true
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// Ancestors returns the proper ancestors of path from the root down,
// starting with "".
func Ancestors(path string) []string {
	if path == "" {
		return nil
	}
	out := []string{""}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			out = append(out, path[:i])
		}
	}
	return out
}

package pathres

import (
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"

	"github.com/starford/infrawiki/internal/apperr"
)

// MaxFilenameLen bounds attachment names in bytes.
const MaxFilenameLen = 255

var (
	unsafeSlugRe     = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	unsafeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// ValidateFilename checks an attachment name: letters, digits, '.', '_' and
// '-' only, no leading dot.
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return apperr.New(apperr.KindInvalidPath, name, "empty filename")
	case name == "." || name == "..":
		return apperr.New(apperr.KindInvalidPath, name, "dot filename")
	case strings.ContainsAny(name, `/\`):
		return apperr.New(apperr.KindPathTraversal, name, "filename contains a path separator")
	case strings.HasPrefix(name, "."):
		return apperr.New(apperr.KindInvalidPath, name, "filename starts with a dot")
	case len(name) > MaxFilenameLen:
		return apperr.New(apperr.KindInvalidPath, name, "filename longer than %d bytes", MaxFilenameLen)
	case unsafeFilenameRe.MatchString(name):
		return apperr.New(apperr.KindInvalidPath, name, "filename contains disallowed characters")
	}
	return nil
}

// SanitizeFilename turns an uploaded file name into one that passes
// ValidateFilename.
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeFilenameRe.ReplaceAllString(unidecode.Unidecode(name), "_")
	name = strings.TrimLeft(name, ".")
	if len(name) > MaxFilenameLen {
		name = name[len(name)-MaxFilenameLen:]
	}
	if name == "" {
		name = "file"
	}
	return name
}

// Slugify derives a path segment from a title. Non-ASCII text is
// transliterated, runs of other characters collapse to '-', case is kept.
func Slugify(title string) string {
	s := unsafeSlugRe.ReplaceAllString(unidecode.Unidecode(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxSegmentLen {
		s = strings.TrimRight(s[:MaxSegmentLen], "-")
	}
	if s == "" || strings.EqualFold(s, AssetsDir) {
		return "item"
	}
	return s
}

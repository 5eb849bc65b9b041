// Package storage persists nodes as directories under the content root.
//
// A node directory holds meta.json (the commit record), its body file(s) and
// an assets/ directory for attachments. Every file write goes through a
// temporary file that is renamed into place, so readers observe either the
// old or the new content of a file, never a mix.
package storage

import (
	"io"

	"github.com/starford/infrawiki/internal/models"
)

// Provider is the node persistence interface used by the node service.
// Paths are logical node paths ("" is the content root).
type Provider interface {
	// Exists reports whether a node directory exists at path.
	Exists(path string) (bool, error)
	// ReadMeta loads only the metadata of a node.
	ReadMeta(path string) (*Meta, error)
	// ReadRecord loads the metadata and bodies of a node.
	ReadRecord(path string) (*Record, error)
	// WriteRecord persists rec over the node at path. Body files are written
	// before meta.json; files of tabs absent from rec are removed last.
	WriteRecord(path string, rec *Record) error
	// CreateNode materializes rec in a hidden staging directory under
	// parent and renames it to parent/name.
	CreateNode(parent, name string, rec *Record) error
	// ListChildren returns the segment names of the child nodes of path in
	// name order.
	ListChildren(path string) ([]string, error)
	// Rename moves the node directory at oldPath to newPath, which must not
	// exist.
	Rename(oldPath, newPath string) error
	// RemoveTree makes the subtree at path disappear atomically and then
	// deletes it.
	RemoveTree(path string) error

	// PutAttachment streams r into the node's assets directory, refusing
	// more than maxBytes.
	PutAttachment(path, name string, r io.Reader, maxBytes int64) (models.Attachment, error)
	// OpenAttachment opens an attachment for reading.
	OpenAttachment(path, name string) (io.ReadCloser, error)
	// RemoveAttachment deletes an attachment file.
	RemoveAttachment(path, name string) error
	// Attachments reconciles the manifest with the files in assets/.
	Attachments(path string, manifest []models.Attachment) ([]models.Attachment, error)
}

package api

import (
	"context"
	"io"

	"github.com/starford/infrawiki/internal/index"
	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/nodeservice"
)

// NodeStore is the part of the node service the HTTP layer calls.
type NodeStore interface {
	Create(ctx context.Context, parent string, typ models.NodeType, title string) (*models.Node, error)
	Read(ctx context.Context, path string) (*models.Node, error)
	ListChildren(ctx context.Context, path string) ([]models.Summary, error)
	Save(ctx context.Context, path string, patch models.Patch) (*models.Node, error)
	Move(ctx context.Context, path, newParent string) (*models.Node, error)
	Rename(ctx context.Context, path, newName string) (*models.Node, error)
	Delete(ctx context.Context, path string, cascade bool) ([]string, error)

	Tree(ctx context.Context) ([]models.TreeNode, error)
	Breadcrumb(ctx context.Context, path string) ([]models.Summary, error)
	Recent(ctx context.Context, limit int) ([]models.Summary, error)
	Search(ctx context.Context, q string, limit int) ([]index.Hit, error)

	PutAttachment(ctx context.Context, path, name string, r io.Reader) (models.Attachment, error)
	GetAttachment(ctx context.Context, path, name string) (io.ReadCloser, models.Attachment, error)
	DeleteAttachment(ctx context.Context, path, name string) error
}

var _ NodeStore = (*nodeservice.Service)(nil)

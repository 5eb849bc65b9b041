package api

import (
	"github.com/starford/infrawiki/internal/index"
	"github.com/starford/infrawiki/internal/models"
)

// CreateNodeRequest is the request body for creating a node.
type CreateNodeRequest struct {
	Parent string `json:"parent" example:"Acme/DC1"`
	Type   string `json:"type" example:"document" validate:"required"`
	Title  string `json:"title" example:"Runbook" validate:"required"`
}

// SaveNodeRequest is the request body for saving a node. Omitted fields are
// left unchanged. The expected updated_at travels in the If-Match header.
type SaveNodeRequest struct {
	Title          *string               `json:"title,omitempty" example:"Runbook"`
	Tags           *[]string             `json:"tags,omitempty"`
	Body           *string               `json:"body,omitempty" example:"# Runbook"`
	Tabs           []models.Tab          `json:"tabs,omitempty"`
	RemoveTabs     []string              `json:"remove_tabs,omitempty"`
	ServiceNetwork *[]models.NetworkItem `json:"service_network,omitempty"`
}

func (r SaveNodeRequest) patch() models.Patch {
	return models.Patch{
		Title:          r.Title,
		Tags:           r.Tags,
		Body:           r.Body,
		Tabs:           r.Tabs,
		RemoveTabs:     r.RemoveTabs,
		ServiceNetwork: r.ServiceNetwork,
	}
}

// MoveRequest moves and/or renames a node. NewParent defaults to the current
// parent; NewName defaults to the current name.
type MoveRequest struct {
	Path      string  `json:"path" example:"Acme/DC1/Runbook" validate:"required"`
	NewParent *string `json:"new_parent,omitempty" example:"Acme/DC2"`
	NewName   string  `json:"new_name,omitempty" example:"Failover"`
}

// ChildrenResponse wraps a child listing.
type ChildrenResponse struct {
	Path     string           `json:"path"`
	Children []models.Summary `json:"children" validate:"required"`
}

// TreeResponse wraps the nested tree.
type TreeResponse struct {
	Nodes []models.TreeNode `json:"nodes" validate:"required"`
}

// DeleteResponse lists the removed paths, descendants first.
type DeleteResponse struct {
	Removed []string `json:"removed" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path   string          `json:"path" example:"Acme/DC1/Runbook" validate:"required"`
	Title  string          `json:"title" example:"Runbook" validate:"required"`
	Type   models.NodeType `json:"type" example:"document"`
	Field  string          `json:"field" example:"title"`
	Fields []string        `json:"fields"`
	Score  float64         `json:"score"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

func searchResults(hits []index.Hit) []SearchResult {
	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		fields := make([]string, len(h.Fields))
		for j, f := range h.Fields {
			fields[j] = string(f)
		}
		out[i] = SearchResult{
			Path:   h.Path,
			Title:  h.Title,
			Type:   h.Type,
			Field:  string(h.Field),
			Fields: fields,
			Score:  h.Score,
		}
	}
	return out
}

// SummariesResponse wraps recent and breadcrumb listings.
type SummariesResponse struct {
	Nodes []models.Summary `json:"nodes" validate:"required"`
}

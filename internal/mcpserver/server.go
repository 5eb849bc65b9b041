// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes infrawiki tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/nodeservice"
)

// TaxonomyURI is the resource describing node types and placement rules.
const TaxonomyURI = "infrawiki://taxonomy"

// Server wraps the MCP server with infrawiki tools.
type Server struct {
	mcp *server.MCPServer
	svc *nodeservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *nodeservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"infrawiki",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_nodes",
		mcp.WithDescription("Full-text search over node titles, bodies, tabs and tags. "+
			"Every term must match; results are ranked title > body > tag."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchNodes)

	s.mcp.AddTool(mcp.NewTool("read_node",
		mcp.WithDescription("Read a node with its body, tabs, children and attachments as JSON."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Node path, e.g. Acme/DC1/Runbook")),
	), s.readNode)

	s.mcp.AddTool(mcp.NewTool("create_node",
		mcp.WithDescription("Create a node under a parent. Placement must follow the taxonomy; "+
			"call get_taxonomy or read the "+TaxonomyURI+" resource first."),
		mcp.WithString("parent", mcp.Description("Parent path; empty for the root (companies only)")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Node type"),
			mcp.Enum("company", "dc", "section", "document", "service", "server", "network")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Title; the path segment is derived from it")),
	), s.createNode)

	s.mcp.AddTool(mcp.NewTool("save_node",
		mcp.WithDescription("Update a node. Only the given fields change. Pass expected_updated_at "+
			"from read_node to avoid overwriting concurrent edits."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Node path")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("body", mcp.Description("New markdown body (the overview tab of a service)")),
		mcp.WithArray("tags", mcp.Description("Replacement tag list"), mcp.WithStringItems()),
		mcp.WithString("tab", mcp.Description("Service tab to write, used with tab_body")),
		mcp.WithString("tab_body", mcp.Description("Markdown content of the tab")),
		mcp.WithString("expected_updated_at", mcp.Description("RFC3339 updated_at the caller last saw")),
	), s.saveNode)

	s.mcp.AddTool(mcp.NewTool("list_children",
		mcp.WithDescription("List the direct children of a node, oldest first."),
		mcp.WithString("path", mcp.Description("Node path; empty for the root")),
	), s.listChildren)

	s.mcp.AddTool(mcp.NewTool("get_taxonomy",
		mcp.WithDescription("Returns the node types and which types may be placed under which."),
	), s.getTaxonomy)

	s.mcp.AddTool(mcp.NewTool("upload_attachment",
		mcp.WithDescription("Attach a file to a node from an http(s) URL or a base64 data URI. "+
			"Returns a markdown link ready to paste into the node body."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Node path")),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data: URI")),
		mcp.WithString("filename", mcp.Description("Attachment name; derived from the URL when empty")),
	), s.uploadAttachment)

	s.mcp.AddResource(
		mcp.NewResource(TaxonomyURI, "Taxonomy",
			mcp.WithResourceDescription("Node types, placement rules and storage layout."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTaxonomyResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorResult reports err to the model. Input mistakes carry their code and
// point at the taxonomy so the call can be corrected and retried.
func errorResult(err error) (*mcp.CallToolResult, error) {
	if apperr.Validation(err) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v (see get_taxonomy or %s)",
			apperr.KindOf(err), err, TaxonomyURI)), nil
	}
	return mcp.NewToolResultError(err.Error()), nil
}

func (s *Server) searchNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return errorResult(err)
	}
	limit := req.GetInt("limit", 20)
	hits, err := s.svc.Search(ctx, query, limit)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(hits)
}

func (s *Server) readNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return errorResult(err)
	}
	node, err := s.svc.Read(ctx, path)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(node)
}

func (s *Server) createNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawType, err := req.RequireString("type")
	if err != nil {
		return errorResult(err)
	}
	title, err := req.RequireString("title")
	if err != nil {
		return errorResult(err)
	}
	typ, err := models.ParseNodeType(rawType)
	if err != nil {
		return errorResult(err)
	}
	node, err := s.svc.Create(ctx, req.GetString("parent", ""), typ, title)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", node.Path)), nil
}

func (s *Server) saveNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return errorResult(err)
	}
	args := req.GetArguments()

	var patch models.Patch
	if v, ok := args["title"].(string); ok {
		patch.Title = &v
	}
	if v, ok := args["body"].(string); ok {
		patch.Body = &v
	}
	if raw, ok := args["tags"].([]any); ok {
		tags := make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		patch.Tags = &tags
	}
	if tab := req.GetString("tab", ""); tab != "" {
		patch.Tabs = []models.Tab{{Name: tab, Body: req.GetString("tab_body", "")}}
	}
	if v := req.GetString("expected_updated_at", ""); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return mcp.NewToolResultError("expected_updated_at must be RFC3339"), nil
		}
		patch.ExpectedUpdatedAt = t
	}

	node, err := s.svc.Save(ctx, path, patch)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s (updated_at %s)",
		node.Path, node.UpdatedAt.Format(time.RFC3339Nano))), nil
}

func (s *Server) listChildren(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kids, err := s.svc.ListChildren(ctx, req.GetString("path", ""))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(kids)
}

func (s *Server) getTaxonomy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TaxonomyContract()), nil
}

func (s *Server) readTaxonomyResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      TaxonomyURI,
			MIMEType: "text/markdown",
			Text:     TaxonomyContract(),
		},
	}, nil
}

// Package models defines the domain types of the content repository.
package models

import (
	"fmt"
	"time"
)

// NodeType is the taxonomy kind of a node. The string value is the
// persisted form in meta.json.
type NodeType string

const (
	TypeCompany    NodeType = "company"
	TypeDataCenter NodeType = "dc"
	TypeSection    NodeType = "section"
	TypeDocument   NodeType = "document"
	TypeService    NodeType = "service"
	TypeServer     NodeType = "server"
	TypeNetwork    NodeType = "network"
)

// NodeTypes lists every node type in taxonomy order.
var NodeTypes = []NodeType{
	TypeCompany, TypeDataCenter, TypeSection,
	TypeDocument, TypeService, TypeServer, TypeNetwork,
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	for _, k := range NodeTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ParseNodeType accepts the persisted form as well as the display names
// ("DataCenter", "Document", ...).
func ParseNodeType(s string) (NodeType, error) {
	switch s {
	case "company", "Company":
		return TypeCompany, nil
	case "dc", "datacenter", "DataCenter":
		return TypeDataCenter, nil
	case "section", "Section":
		return TypeSection, nil
	case "document", "Document":
		return TypeDocument, nil
	case "service", "Service":
		return TypeService, nil
	case "server", "Server":
		return TypeServer, nil
	case "network", "Network":
		return TypeNetwork, nil
	}
	return "", fmt.Errorf("unknown node type %q", s)
}

// Layout describes how a node type is stored on disk and where it may sit in
// the tree. It drives both validation and file layout; nothing is inferred
// from directory contents.
type Layout struct {
	// Leaf types never have child nodes.
	Leaf bool
	// Tabbed types store one body file per tab plus a tab manifest instead
	// of a single index.md.
	Tabbed bool
	// Display is the human-readable name.
	Display string
}

var layouts = map[NodeType]Layout{
	TypeCompany:    {Display: "Company"},
	TypeDataCenter: {Display: "DataCenter"},
	TypeSection:    {Display: "Section"},
	TypeDocument:   {Leaf: true, Display: "Document"},
	TypeService:    {Leaf: true, Tabbed: true, Display: "Service"},
	TypeServer:     {Leaf: true, Display: "Server"},
	TypeNetwork:    {Leaf: true, Display: "Network"},
}

// Layout returns the storage layout of t.
func (t NodeType) Layout() Layout { return layouts[t] }

func (t NodeType) String() string {
	if l, ok := layouts[t]; ok {
		return l.Display
	}
	return string(t)
}

// Tab is a named content stream of a Service node.
type Tab struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

const (
	// OverviewTab is the default Service tab; its content is Node.Body.
	OverviewTab = "overview"
	// ServiceNetworkTab is rendered from Node.ServiceNetwork.
	ServiceNetworkTab = "service-network"
)

// DefaultServiceTabs are created with every Service, after the overview.
var DefaultServiceTabs = []Tab{
	{Name: "passport", Title: "Passport"},
	{Name: "architecture", Title: "Architecture"},
	{Name: "operations", Title: "Operations"},
	{Name: "incidents", Title: "Incidents"},
	{Name: "docs", Title: "Docs"},
	{Name: ServiceNetworkTab, Title: "Service network"},
}

// NetworkItem is one row of a Service's network table.
type NetworkItem struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Mask    string `json:"mask"`
	Gateway string `json:"gateway"`
	DNS     string `json:"dns"`
}

// Attachment describes a file stored under a node's assets/ directory.
type Attachment struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Node is a fully materialized node.
type Node struct {
	Path           string        `json:"path"`
	ID             string        `json:"id"`
	Type           NodeType      `json:"type"`
	Title          string        `json:"title"`
	Tags           []string      `json:"tags"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Body           string        `json:"body"`
	Tabs           []Tab         `json:"tabs,omitempty"`
	ServiceNetwork []NetworkItem `json:"service_network,omitempty"`
	Children       []string      `json:"children"`
	Attachments    []Attachment  `json:"attachments"`
	Checksum       string        `json:"checksum"`
}

// Summary returns the lightweight view of n.
func (n *Node) Summary() Summary {
	return Summary{
		Path:      n.Path,
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Tags:      n.Tags,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

// Tab returns the tab with the given name.
func (n *Node) Tab(name string) (Tab, bool) {
	for _, t := range n.Tabs {
		if t.Name == name {
			return t, true
		}
	}
	return Tab{}, false
}

// Summary is the lightweight representation returned by listings.
type Summary struct {
	Path      string    `json:"path"`
	ID        string    `json:"id,omitempty"`
	Type      NodeType  `json:"type"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Corrupt is set when the node's metadata could not be read; only Path
	// is meaningful then.
	Corrupt bool `json:"corrupt,omitempty"`
}

// TreeNode is one entry of the nested tree view.
type TreeNode struct {
	Summary
	Children []TreeNode `json:"children"`
}

// Patch is a partial update applied by save. Nil fields are left unchanged.
type Patch struct {
	Title *string   `json:"title,omitempty"`
	Tags  *[]string `json:"tags,omitempty"`
	// Body is index.md, or the default tab of a Service.
	Body *string `json:"body,omitempty"`
	// Tabs upserts Service tabs by name; unknown names are appended.
	Tabs       []Tab    `json:"tabs,omitempty"`
	RemoveTabs []string `json:"remove_tabs,omitempty"`
	// ServiceNetwork replaces the network table and re-renders its tab.
	ServiceNetwork *[]NetworkItem `json:"service_network,omitempty"`
	// ExpectedUpdatedAt, when non-zero, must equal the stored UpdatedAt.
	ExpectedUpdatedAt time.Time `json:"expected_updated_at,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Tags == nil && p.Body == nil &&
		len(p.Tabs) == 0 && len(p.RemoveTabs) == 0 && p.ServiceNetwork == nil
}

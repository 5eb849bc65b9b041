package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/taxonomy"
)

const contractIntro = `# infrawiki Taxonomy

The wiki is a tree of typed nodes. A node's path is its chain of segment
names from the root, e.g. ` + "`Acme/DC1/Runbook`" + `.

## Placement
`

const contractRules = `
## Rules

1. Segments use letters, digits, ` + "`-`" + ` and ` + "`_`" + ` only, at most 128 bytes.
   ` + "`create_node`" + ` derives the segment from the title (transliterated,
   other characters collapse to ` + "`-`" + `) and appends ` + "`-2`, `-3`" + ` on collisions.
2. Sibling names are unique regardless of case.
3. Leaf types (document, service, server, network) never have children.
4. A service has the tabs overview, passport, architecture, operations,
   incidents, docs and service-network. Write a tab with ` + "`save_node`" + `
   (` + "`tab`" + ` + ` + "`tab_body`" + `); the overview tab is the node body.
5. Pass ` + "`expected_updated_at`" + ` from ` + "`read_node`" + ` when saving. A conflict means
   someone else saved first: read again and reapply your change.

## Attachments

Upload files with ` + "`upload_attachment`" + `. Link them from the body with the
returned ` + "`markdownLink`" + `.
`

// TaxonomyContract renders the placement table and authoring rules.
func TaxonomyContract() string {
	var b strings.Builder
	b.WriteString(contractIntro)
	b.WriteString("\n| Parent | Allowed children |\n|---|---|\n")
	parents := append([]models.NodeType{taxonomy.Root}, models.NodeTypes...)
	for _, p := range parents {
		kids := taxonomy.AllowedChildren(p)
		names := make([]string, len(kids))
		for i, k := range kids {
			names[i] = "`" + string(k) + "`"
		}
		allowed := strings.Join(names, ", ")
		if allowed == "" {
			allowed = "none (leaf)"
		}
		parent := "`" + string(p) + "`"
		if p == taxonomy.Root {
			parent = "root"
		}
		fmt.Fprintf(&b, "| %s | %s |\n", parent, allowed)
	}
	b.WriteString(contractRules)
	return b.String()
}

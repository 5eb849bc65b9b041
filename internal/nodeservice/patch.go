package nodeservice

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/pathres"
	"github.com/starford/infrawiki/internal/storage"
)

// checkPatch rejects malformed patches before any lock is taken.
func checkPatch(path string, p models.Patch) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return apperr.New(apperr.KindInvalidInput, path, "title cannot be empty")
	}
	for _, t := range p.Tabs {
		if err := pathres.ValidateSegment(t.Name); err != nil {
			return apperr.New(apperr.KindInvalidInput, path, "bad tab name %q", t.Name)
		}
	}
	for _, name := range p.RemoveTabs {
		if name == models.OverviewTab {
			return apperr.New(apperr.KindInvalidInput, path, "the %s tab cannot be removed", models.OverviewTab)
		}
	}
	return nil
}

// applyPatch mutates rec in place.
func applyPatch(path string, rec *storage.Record, p models.Patch) error {
	tabbed := rec.Meta.Type.Layout().Tabbed
	if !tabbed && (len(p.Tabs) > 0 || len(p.RemoveTabs) > 0 || p.ServiceNetwork != nil) {
		return apperr.New(apperr.KindInvalidInput, path, "%s nodes have no tabs", rec.Meta.Type)
	}

	if p.Title != nil {
		rec.Meta.Title = strings.TrimSpace(*p.Title)
	}
	if p.Tags != nil {
		rec.Meta.Tags = normalizeTags(*p.Tags)
	}
	if p.Body != nil {
		rec.Body = *p.Body
	}

	for _, name := range p.RemoveTabs {
		i := tabIndex(rec.Tabs, name)
		if i < 0 {
			return apperr.New(apperr.KindInvalidInput, path, "unknown tab %q", name)
		}
		rec.Tabs = append(rec.Tabs[:i], rec.Tabs[i+1:]...)
	}
	for _, t := range p.Tabs {
		if t.Name == models.OverviewTab {
			rec.Body = t.Body
			continue
		}
		if i := tabIndex(rec.Tabs, t.Name); i >= 0 {
			if t.Title != "" {
				rec.Tabs[i].Title = t.Title
			}
			rec.Tabs[i].Body = t.Body
			continue
		}
		if t.Title == "" {
			t.Title = t.Name
		}
		rec.Tabs = append(rec.Tabs, t)
	}

	if p.ServiceNetwork != nil {
		rec.Meta.ServiceNetwork = append([]models.NetworkItem(nil), (*p.ServiceNetwork)...)
		body := renderNetwork(rec.Meta.ServiceNetwork)
		if i := tabIndex(rec.Tabs, models.ServiceNetworkTab); i >= 0 {
			rec.Tabs[i].Body = body
		} else {
			rec.Tabs = append(rec.Tabs, models.Tab{Name: models.ServiceNetworkTab, Title: "Service network", Body: body})
		}
	}
	return nil
}

func tabIndex(tabs []models.Tab, name string) int {
	for i, t := range tabs {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// normalizeTags trims, drops empties and duplicates, and sorts.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// renderNetwork renders the service network table as markdown.
func renderNetwork(items []models.NetworkItem) string {
	var b strings.Builder
	b.WriteString("# Service network\n\n")
	b.WriteString("| Name | IP | Mask | Gateway | DNS |\n")
	b.WriteString("|------|----|------|---------|-----|\n")
	for _, it := range items {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			cell(it.Name), cell(it.IP), cell(it.Mask), cell(it.Gateway), cell(it.DNS))
	}
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "|", `\|`)
}

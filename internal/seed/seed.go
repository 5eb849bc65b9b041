// Package seed populates an empty content root with demo data.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/nodeservice"
)

type company struct {
	title   string
	dc      string
	service string
	doc     string
	subnet  string
}

var demo = []company{
	{title: "Acme Corp", dc: "DC Amsterdam", service: "Billing API", doc: "Network runbook", subnet: "10.10.0"},
	{title: "Globex", dc: "DC Frankfurt", service: "Auth Gateway", doc: "Onboarding checklist", subnet: "10.20.0"},
}

// EnsureDemo creates two demo companies when the content root has no nodes.
// It reports whether anything was created.
func EnsureDemo(ctx context.Context, svc *nodeservice.Service, logger *slog.Logger) (bool, error) {
	top, err := svc.ListChildren(ctx, "")
	if err != nil {
		return false, fmt.Errorf("seed: list root: %w", err)
	}
	if len(top) > 0 {
		return false, nil
	}
	for _, c := range demo {
		if err := createCompany(ctx, svc, c); err != nil {
			return false, fmt.Errorf("seed: %s: %w", c.title, err)
		}
	}
	logger.Info("seed: demo content created", slog.Int("companies", len(demo)))
	return true, nil
}

func createCompany(ctx context.Context, svc *nodeservice.Service, c company) error {
	co, err := svc.Create(ctx, "", models.TypeCompany, c.title)
	if err != nil {
		return err
	}
	tags := []string{"demo"}
	if _, err := svc.Save(ctx, co.Path, models.Patch{
		Tags: &tags,
		Body: strp(fmt.Sprintf("# %s\n\nDemo company. Data centers and services live below.\n", c.title)),
	}); err != nil {
		return err
	}

	dc, err := svc.Create(ctx, co.Path, models.TypeDataCenter, c.dc)
	if err != nil {
		return err
	}

	srv, err := svc.Create(ctx, dc.Path, models.TypeService, c.service)
	if err != nil {
		return err
	}
	network := []models.NetworkItem{
		{Name: "app01", IP: c.subnet + ".11", Mask: "255.255.255.0", Gateway: c.subnet + ".1", DNS: c.subnet + ".2"},
		{Name: "app02", IP: c.subnet + ".12", Mask: "255.255.255.0", Gateway: c.subnet + ".1", DNS: c.subnet + ".2"},
	}
	if _, err := svc.Save(ctx, srv.Path, models.Patch{
		Tags: &[]string{"demo", "service"},
		Tabs: []models.Tab{
			{Name: models.OverviewTab, Body: fmt.Sprintf("# %s\n\nCustomer facing service of %s.\n", c.service, c.title)},
			{Name: "passport", Body: "# Passport\n\n- Owner: platform team\n- Tier: 1\n"},
			{Name: "architecture", Body: "# Architecture\n\nTwo stateless app nodes behind a load balancer.\n"},
			{Name: "operations", Body: "# Operations\n\nDeploy with a rolling restart, one node at a time.\n"},
			{Name: "incidents", Body: "# Incidents\n\nNo open incidents.\n"},
			{Name: "docs", Body: "# Docs\n\nSee the network runbook in the data center.\n"},
		},
		ServiceNetwork: &network,
	}); err != nil {
		return err
	}

	doc, err := svc.Create(ctx, dc.Path, models.TypeDocument, c.doc)
	if err != nil {
		return err
	}
	_, err = svc.Save(ctx, doc.Path, models.Patch{
		Body: strp(fmt.Sprintf("# %s\n\n1. Check uplinks.\n2. Verify gateway %s.1 answers.\n", c.doc, c.subnet)),
	})
	return err
}

func strp(s string) *string { return &s }

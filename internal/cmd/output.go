package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/catherinevee/depmgr/internal/graph"
	"github.com/catherinevee/depmgr/internal/models"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func validateOutput(format string) error {
	switch format {
	case outputTable, outputJSON:
		return nil
	}
	return fmt.Errorf("unsupported output format %q (use table or json)", format)
}

type report struct {
	Summary      *models.DiscoverySummary `json:"summary,omitempty"`
	Services     []models.ServiceNode     `json:"services"`
	Dependencies []models.DependencyEdge  `json:"dependencies"`
}

func render(w io.Writer, format string, summary models.DiscoverySummary, g *graph.DependencyGraph) error {
	if format == outputJSON {
		return encodeReport(w, &summary, g)
	}

	renderSummary(w, summary)
	fmt.Fprintln(w)
	renderEdges(w, g.Edges())
	if len(summary.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, color.YellowString("%d error(s) during discovery:", len(summary.Errors)))
		for _, e := range summary.Errors {
			fmt.Fprintln(w, color.RedString("  - %s", e))
		}
	}
	return nil
}

// encodeReport writes the graph as indented JSON. summary may be nil.
func encodeReport(w io.Writer, summary *models.DiscoverySummary, g *graph.DependencyGraph) error {
	r := report{Summary: summary, Services: []models.ServiceNode{}, Dependencies: g.Edges()}
	for _, name := range g.Names() {
		node, _ := g.GetNode(name)
		r.Services = append(r.Services, node)
	}
	if r.Dependencies == nil {
		r.Dependencies = []models.DependencyEdge{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func renderSummary(w io.Writer, s models.DiscoverySummary) {
	table := newTable(w)
	table.SetHeader([]string{"Run", "User", "Status", "Providers", "Enrichment", "Inferred", "Elapsed"})
	table.Append([]string{
		s.RunID,
		s.UserID,
		s.Status,
		fmt.Sprintf("%d nodes / %d rels", s.Phase1Nodes, s.Phase1Relationships),
		fmt.Sprintf("%d nodes / %d rels", s.Phase2Nodes, s.Phase2Relationships),
		fmt.Sprintf("%d edges", s.Phase3Edges),
		fmt.Sprintf("%.1fs", s.ElapsedSeconds),
	})
	table.Render()
}

func renderEdges(w io.Writer, edges []models.DependencyEdge) {
	if len(edges) == 0 {
		fmt.Fprintln(w, "No dependencies found")
		return
	}
	table := newTable(w)
	table.SetHeader([]string{"From", "To", "Type", "Confidence", "Sources", "Detail"})
	for _, e := range edges {
		table.Append([]string{
			e.FromService,
			e.ToService,
			string(e.DependencyType),
			fmt.Sprintf("%.2f", e.Confidence),
			strings.Join(e.DiscoveredFrom, ","),
			e.Detail,
		})
	}
	table.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator(" ")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	return table
}

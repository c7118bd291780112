package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/catherinevee/depmgr/internal/database"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the stored dependency graph of a user",
	Long: `Print the services of a user in dependency order, each with the
services it depends on. Cycles are reported instead of an order.`,
	Args: cobra.NoArgs,
	RunE: runGraph,
}

var (
	graphUser   string
	graphOutput string
)

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().StringVarP(&graphUser, "user", "u", "", "user whose graph to print")
	graphCmd.Flags().StringVarP(&graphOutput, "output", "o", outputTable, "output format (table, json)")

	graphCmd.MarkFlagRequired("user")
}

func runGraph(cmd *cobra.Command, args []string) error {
	if err := validateOutput(graphOutput); err != nil {
		return err
	}
	store, err := database.New(&database.Config{Path: cfg.Storage.Path})
	if err != nil {
		return err
	}
	defer store.Close()

	g, err := store.LoadGraph(cmd.Context(), graphUser)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if graphOutput == outputJSON {
		return encodeReport(out, nil, g)
	}
	if g.Len() == 0 {
		fmt.Fprintf(out, "No services stored for %s\n", graphUser)
		return nil
	}

	order, err := g.TopologicalSort()
	if err != nil {
		fmt.Fprintln(out, color.YellowString("dependency cycle detected, listing by name"))
		order = g.Names()
	}
	for _, name := range order {
		node, _ := g.GetNode(name)
		fmt.Fprintf(out, "%s (%s, %s)\n", color.CyanString(name), node.ResourceType, node.Provider)
		for _, e := range g.Dependencies(name) {
			fmt.Fprintf(out, "  -> %s [%s %.2f %s]\n", e.ToService, e.DependencyType, e.Confidence, strings.Join(e.DiscoveredFrom, ","))
		}
	}
	return nil
}

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/catherinevee/depmgr/internal/database"
	"github.com/catherinevee/depmgr/internal/graph"
	"github.com/catherinevee/depmgr/internal/logger"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run a discovery for one user",
	Long: `Discover services across every connected provider, enrich them and infer
the dependencies between them. The graph is written to the SQLite store unless
--dry-run is given, in which case it is only printed.`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

var (
	discoverUser   string
	discoverDryRun bool
	discoverOutput string
	discoverQuiet  bool
)

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().StringVarP(&discoverUser, "user", "u", "", "user whose credentials and graph to use")
	discoverCmd.Flags().BoolVar(&discoverDryRun, "dry-run", false, "keep the graph in memory instead of writing it to the store")
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", outputTable, "output format (table, json)")
	discoverCmd.Flags().BoolVarP(&discoverQuiet, "quiet", "q", false, "hide the progress spinner")

	discoverCmd.MarkFlagRequired("user")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if err := validateOutput(discoverOutput); err != nil {
		return err
	}

	var (
		writer graph.Writer
		reader graph.Reader
	)
	if discoverDryRun {
		mem := graph.NewMemoryWriter()
		writer, reader = mem, mem
	} else {
		store, err := database.New(&database.Config{Path: cfg.Storage.Path})
		if err != nil {
			return err
		}
		defer store.Close()
		writer, reader = store, store
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	orch := pipeline{cfg: cfg, log: logger.New("discovery")}.orchestrator(writer, nil)

	stop := func() {}
	if !discoverQuiet && discoverOutput == outputTable {
		stop = spin(cmd.ErrOrStderr(), "discovering "+discoverUser)
	}
	summary := orch.RunDiscoveryForUser(ctx, discoverUser, cfg.CredentialsFor(discoverUser))
	stop()

	g, err := reader.LoadGraph(ctx, discoverUser)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}
	return render(cmd.OutOrStdout(), discoverOutput, summary, g)
}

// spin shows a spinner on w until the returned func is called
func spin(w io.Writer, description string) func() {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				bar.Finish()
				return
			case <-ticker.C:
				bar.Add(1)
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

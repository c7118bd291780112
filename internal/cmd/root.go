package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/catherinevee/depmgr/internal/config"
	"github.com/catherinevee/depmgr/internal/logger"
)

const defaultConfigPath = "~/.depmgr/config.yaml"

var (
	cfgFile  string
	logLevel string
	traceRun bool

	cfg           *config.Config
	traceShutdown func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "depmgr",
		Short: "Discover cloud services and the dependencies between them",
		Long: `depmgr inventories services across AWS, Azure, GCP, OVH, Scaleway,
Tailscale and on-prem Kubernetes, enriches them with cluster and platform
detail, and infers a dependency graph that is stored per user.`,
		Version:            version,
		SilenceUsage:       true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&traceRun, "trace", false, "print OpenTelemetry spans to stderr")
}

// setup loads the configuration and initializes logging and tracing
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	logger.Initialize(loaded.Logging)
	cfg = loaded

	if traceRun {
		shutdown, err := initTracing(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		traceShutdown = shutdown
	}
	return nil
}

// skipSetup replaces setup for commands that load the configuration
// themselves, or not at all
func skipSetup(*cobra.Command, []string) error { return nil }

func teardown(cmd *cobra.Command, args []string) error {
	if traceShutdown == nil {
		return nil
	}
	err := traceShutdown(context.Background())
	traceShutdown = nil
	return err
}

// initTracing installs a global tracer provider that pretty-prints spans to w
func initTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", "depmgr"),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

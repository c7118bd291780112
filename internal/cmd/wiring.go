package cmd

import (
	"golang.org/x/time/rate"

	"github.com/catherinevee/depmgr/internal/concurrency"
	"github.com/catherinevee/depmgr/internal/config"
	"github.com/catherinevee/depmgr/internal/discovery"
	"github.com/catherinevee/depmgr/internal/enrichment"
	awsenrich "github.com/catherinevee/depmgr/internal/enrichment/aws"
	azureenrich "github.com/catherinevee/depmgr/internal/enrichment/azure"
	k8senrich "github.com/catherinevee/depmgr/internal/enrichment/kubernetes"
	"github.com/catherinevee/depmgr/internal/enrichment/serverless"
	"github.com/catherinevee/depmgr/internal/graph"
	"github.com/catherinevee/depmgr/internal/inference"
	"github.com/catherinevee/depmgr/internal/kube"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/metrics"
	"github.com/catherinevee/depmgr/internal/providers"
	awsprov "github.com/catherinevee/depmgr/internal/providers/aws"
	azureprov "github.com/catherinevee/depmgr/internal/providers/azure"
	gcpprov "github.com/catherinevee/depmgr/internal/providers/gcp"
	"github.com/catherinevee/depmgr/internal/providers/onprem"
	"github.com/catherinevee/depmgr/internal/providers/ovh"
	"github.com/catherinevee/depmgr/internal/providers/scaleway"
	"github.com/catherinevee/depmgr/internal/providers/tailscale"
)

// pipeline builds the providers, enrichers and engines for cfg
type pipeline struct {
	cfg *config.Config
	log logger.Logger
}

func (p pipeline) options() providers.Options {
	d := p.cfg.Discovery
	return providers.Options{
		MaxPages:    d.MaxPages,
		PageSize:    d.PageSize,
		CallTimeout: d.CLITimeout,
		Logger:      p.log,
	}
}

func (p pipeline) providers(connector kube.Connector) []providers.Provider {
	opts := p.options()
	return []providers.Provider{
		awsprov.New(opts,
			awsprov.WithAccountConcurrency(p.cfg.Discovery.AWSAccountConcurrency),
			awsprov.WithRunner(concurrency.NewPool(0))),
		azureprov.New(opts, nil),
		gcpprov.New(opts, nil),
		ovh.New(opts, nil),
		scaleway.New(opts, nil),
		tailscale.New(opts, p.cfg.Discovery.TailscaleBaseURL),
		onprem.New(opts, connector),
	}
}

func (p pipeline) enrichers(connector kube.Connector) []enrichment.Enricher {
	opts := p.options()
	opts.CallTimeout = p.cfg.Discovery.EnrichmentTimeout
	rps := p.cfg.Discovery.AWSRequestsPerSecond
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return []enrichment.Enricher{
		k8senrich.New(connector, opts),
		awsenrich.New(opts, nil, rate.NewLimiter(rate.Limit(rps), burst)),
		azureenrich.New(opts, nil),
		serverless.New(opts, nil, nil),
	}
}

// orchestrator wires a full discovery run writing to writer. tracker may be
// nil when metrics are not exported.
func (p pipeline) orchestrator(writer graph.Writer, tracker *metrics.Tracker) *discovery.Orchestrator {
	connector := kube.NewKubeconfigConnector(p.cfg.Discovery.Kubeconfig, p.cfg.Discovery.CLITimeout)
	return discovery.NewOrchestrator(discovery.Options{
		Providers:         p.providers(connector),
		Enrichers:         p.enrichers(connector),
		Engines:           inference.All(),
		Writer:            writer,
		Runner:            concurrency.NewPool(0),
		Logger:            p.log,
		Metrics:           tracker,
		ProviderTimeout:   p.cfg.Discovery.ProviderTimeout,
		EnrichmentTimeout: p.cfg.Discovery.EnrichmentTimeout,
		EngineWorkers:     p.cfg.Discovery.EngineWorkers,
	})
}

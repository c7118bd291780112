// Package discovery runs the three-phase pipeline for one user: bulk
// provider discovery, sequential enrichment, then connection inference.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/catherinevee/depmgr/internal/concurrency"
	"github.com/catherinevee/depmgr/internal/enrichment"
	"github.com/catherinevee/depmgr/internal/graph"
	"github.com/catherinevee/depmgr/internal/inference"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/metrics"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

const (
	defaultProviderTimeout   = 120 * time.Second
	defaultEnrichmentTimeout = 60 * time.Second
	defaultEngineWorkers     = 4
	maxAbandonGrace          = 2 * time.Second
)

// Options wires the orchestrator's collaborators
type Options struct {
	Providers []providers.Provider
	Enrichers []enrichment.Enricher
	Engines   []inference.Engine
	Writer    graph.Writer
	Runner    concurrency.Runner
	Logger    logger.Logger
	Metrics   *metrics.Tracker
	Tracer    trace.Tracer

	// ProviderTimeout abandons a Phase 1 adapter that overruns it
	ProviderTimeout time.Duration
	// EnrichmentTimeout abandons a Phase 2 adapter that overruns it
	EnrichmentTimeout time.Duration
	// EngineWorkers bounds Phase 3 parallelism
	EngineWorkers int
}

// Orchestrator owns the node, edge and enrichment state of each run
type Orchestrator struct {
	opts Options
	log  logger.Logger
}

// NewOrchestrator creates an orchestrator, filling defaults for unset options
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Engines == nil {
		opts.Engines = inference.All()
	}
	if opts.Writer == nil {
		opts.Writer = graph.NewMemoryWriter()
	}
	if opts.Runner == nil {
		opts.Runner = concurrency.NewPool(0)
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("discovery")
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("depmgr/discovery")
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.EnrichmentTimeout <= 0 {
		opts.EnrichmentTimeout = defaultEnrichmentTimeout
	}
	if opts.EngineWorkers <= 0 {
		opts.EngineWorkers = defaultEngineWorkers
	}
	return &Orchestrator{opts: opts, log: opts.Logger}
}

// run is the mutable state of one RunDiscoveryForUser call
type run struct {
	userID  string
	creds   models.Credentials
	log     logger.Logger
	summary models.DiscoverySummary
	nodes   *nodeSet
	data    models.EnrichmentData
	errs    *deperrors.Collector
}

// RunDiscoveryForUser runs every phase and always returns a summary. Sub-unit
// failures are logged and reported in the summary's errors.
func (o *Orchestrator) RunDiscoveryForUser(ctx context.Context, userID string, creds models.Credentials) (summary models.DiscoverySummary) {
	started := time.Now()
	r := &run{
		userID: userID,
		creds:  creds,
		nodes:  newNodeSet(),
		errs:   deperrors.NewCollector(""),
		summary: models.DiscoverySummary{
			UserID:    userID,
			RunID:     uuid.NewString(),
			StartedAt: started.UTC(),
		},
	}
	r.log = o.log.WithFields(logger.UserID(userID), logger.String("run_id", r.summary.RunID))
	r.log.Info("Starting discovery run")

	defer func() {
		if rec := recover(); rec != nil {
			r.errs.Add(deperrors.NewPanic("discovery run", rec))
		}
		summary = r.summary
		summary.Status = models.SummaryStatusSuccess
		summary.Errors = r.errs.Errors()
		summary.ElapsedSeconds = time.Since(started).Seconds()
		o.opts.Metrics.RunCompleted()
		r.log.Info("Discovery run finished",
			logger.Int("nodes", summary.Phase1Nodes+summary.Phase2Nodes),
			logger.Int("edges", summary.Phase3Edges),
			logger.Int("errors", len(summary.Errors)),
			logger.Float64("elapsed_seconds", summary.ElapsedSeconds))
	}()

	o.phase(ctx, r, metrics.PhaseProviders, o.discoverProviders)
	o.phase(ctx, r, metrics.PhaseEnrichment, o.enrich)
	o.phase(ctx, r, metrics.PhaseInference, o.infer)
	return r.summary
}

// phase times, traces and error-counts one phase
func (o *Orchestrator) phase(ctx context.Context, r *run, name string, fn func(context.Context, *run)) {
	ctx, span := o.opts.Tracer.Start(ctx, name, trace.WithAttributes(attribute.String("user_id", r.userID)))
	defer span.End()

	before := r.errs.Len()
	start := time.Now()
	fn(ctx, r)
	o.opts.Metrics.ObservePhase(name, time.Since(start))
	o.opts.Metrics.ErrorsReported(name, r.errs.Len()-before)
	span.SetAttributes(attribute.Int("errors", r.errs.Len()-before))
}

// discoverProviders is PHASE1 followed by WRITE_PHASE1
func (o *Orchestrator) discoverProviders(ctx context.Context, r *run) {
	o.reserveStoredNames(ctx, r)

	var connected []providers.Provider
	for _, p := range o.opts.Providers {
		if p.Connected(r.creds) {
			connected = append(connected, p)
		}
	}
	if len(connected) == 0 {
		r.log.Info("No connected providers")
		return
	}

	results, err := concurrency.Map(ctx, o.opts.Runner, len(connected), connected,
		func(ctx context.Context, p providers.Provider) models.ProviderResult {
			return o.discoverProvider(ctx, r, p)
		})
	if err != nil {
		r.log.WithError(err).Warn("Provider task panicked")
		r.errs.Add(err)
	}

	for i, res := range results {
		name := connected[i].Name()
		added := 0
		for _, n := range res.Nodes {
			if _, isNew := r.nodes.add(n); isNew {
				added++
			}
		}
		o.opts.Metrics.NodesDiscovered(name, added)
		r.summary.Phase1Relationships += len(res.Relationships)
		r.data.GCPRelationships = append(r.data.GCPRelationships, res.Relationships...)
		r.errs.AddAll(res.Errors)
	}
	r.summary.Phase1Nodes = r.nodes.len()

	o.writeServices(ctx, r, "write phase1 services", r.nodes.all())
}

// reserveStoredNames keeps every resource on the name an earlier run stored
// it under
func (o *Orchestrator) reserveStoredNames(ctx context.Context, r *run) {
	store, ok := o.opts.Writer.(graph.NameStore)
	if !ok {
		return
	}
	names, err := store.StoredNames(ctx, r.userID)
	if err != nil {
		err = deperrors.NewWriteFailure("load stored names", err)
		r.log.WithError(err).Warn("Could not load stored names")
		r.errs.Add(err)
		return
	}
	r.nodes.reserve(names)
}

func (o *Orchestrator) discoverProvider(ctx context.Context, r *run, p providers.Provider) models.ProviderResult {
	name := p.Name()
	log := r.log.WithFields(logger.Provider(name), logger.Phase(metrics.PhaseProviders))
	start := time.Now()

	res, err := guarded(ctx, name+" discovery", o.opts.ProviderTimeout, func(ctx context.Context) models.ProviderResult {
		return p.Discover(ctx, r.userID, r.creds)
	})
	if err != nil {
		log.WithError(err).Warn("Provider discovery failed")
		return models.ProviderResult{Errors: []string{err.Error()}}
	}
	for _, msg := range res.Errors {
		log.Warn("Provider reported error", logger.String("error", msg))
	}
	log.Info("Provider discovery complete",
		logger.Int("nodes", len(res.Nodes)),
		logger.Int("relationships", len(res.Relationships)),
		logger.Duration("duration", time.Since(start)))
	return res
}

// enrich is PHASE2 followed by WRITE_PHASE2. Enrichers run one at a time in
// their fixed order so each sees the nodes and data of the ones before it.
func (o *Orchestrator) enrich(ctx context.Context, r *run) {
	var (
		changed []string
		rels    []models.Relationship
	)
	for _, e := range enrichment.Ordered(o.opts.Enrichers) {
		name := e.Name()
		log := r.log.WithFields(logger.String("enricher", name), logger.Phase(metrics.PhaseEnrichment))
		snapshot := r.nodes.all()

		res, err := guarded(ctx, name+" enrichment", o.opts.EnrichmentTimeout, func(ctx context.Context) models.EnrichmentResult {
			return e.Enrich(ctx, r.userID, snapshot, r.creds)
		})
		if err != nil {
			log.WithError(err).Warn("Enrichment failed")
			r.errs.Add(err)
			continue
		}

		for _, ref := range res.Refinements {
			if refined, ok := r.nodes.refine(ref); ok {
				changed = append(changed, refined)
			}
		}
		for _, n := range res.Nodes {
			if added, isNew := r.nodes.add(n); isNew {
				r.summary.Phase2Nodes++
				changed = append(changed, added)
			}
		}
		// enrichers may key variables by cloud resource id; engines look
		// consumers up by final node name
		res.Data.EnvVars = r.nodes.rekey(res.Data.EnvVars)
		res.Data.AppSettings = r.nodes.rekey(res.Data.AppSettings)
		r.data.Merge(res.Data)
		rels = append(rels, res.Relationships...)
		for _, msg := range res.Errors {
			log.Warn("Enricher reported error", logger.String("error", msg))
		}
		r.errs.AddAll(res.Errors)
		log.Info("Enrichment complete",
			logger.Int("nodes", len(res.Nodes)),
			logger.Int("relationships", len(res.Relationships)),
			logger.Strings("categories", res.Data.Categories()))
	}
	r.summary.Phase2Relationships = len(rels)

	if len(changed) > 0 {
		o.writeServices(ctx, r, "write phase2 services", r.nodes.named(changed))
	}
	if edges := phase2Edges(r.nodes.all(), rels); len(edges) > 0 {
		o.writeDependencies(ctx, r, "write phase2 dependencies", edges)
	}
}

// phase2Edges turns enrichment relationships into ground-truth edges
// tagged with the relationship's provider
func phase2Edges(nodes []models.ServiceNode, rels []models.Relationship) []models.DependencyEdge {
	byProvider := make(map[string][]models.Relationship)
	var order []string
	for _, rel := range rels {
		if _, ok := byProvider[rel.Provider]; !ok {
			order = append(order, rel.Provider)
		}
		byProvider[rel.Provider] = append(byProvider[rel.Provider], rel)
	}
	var out []models.DependencyEdge
	for _, provider := range order {
		out = append(out, inference.RelationshipEdges(provider, 1.0, nodes, byProvider[provider])...)
	}
	return out
}

// infer is PHASE3 followed by WRITE_PHASE3
func (o *Orchestrator) infer(ctx context.Context, r *run) {
	nodes := r.nodes.all()
	data := r.data

	type outcome struct {
		edges []models.DependencyEdge
		err   error
	}
	results, err := concurrency.Map(ctx, o.opts.Runner, o.opts.EngineWorkers, o.opts.Engines,
		func(ctx context.Context, engine inference.Engine) outcome {
			var edges []models.DependencyEdge
			err := deperrors.Guard(engine.Name()+" engine", func() error {
				edges = inference.Run(engine, r.userID, nodes, data)
				return nil
			})
			return outcome{edges: edges, err: err}
		})
	if err != nil {
		r.errs.Add(err)
	}

	var all []models.DependencyEdge
	for i, res := range results {
		name := o.opts.Engines[i].Name()
		log := r.log.WithFields(logger.Engine(name), logger.Phase(metrics.PhaseInference))
		if res.err != nil {
			log.WithError(res.err).Warn("Inference engine failed")
			r.errs.Add(res.err)
			continue
		}
		log.Debug("Inference engine complete", logger.Int("edges", len(res.edges)))
		o.opts.Metrics.EdgesInferred(name, len(res.edges))
		all = append(all, res.edges...)
	}
	r.summary.Phase3Edges = len(all)

	if len(all) > 0 {
		o.writeDependencies(ctx, r, "write phase3 dependencies", all)
	}
}

func (o *Orchestrator) writeServices(ctx context.Context, r *run, op string, nodes []models.ServiceNode) {
	if len(nodes) == 0 {
		return
	}
	_, err := o.write(ctx, op, func(ctx context.Context) (int, error) {
		return o.opts.Writer.WriteServices(ctx, r.userID, nodes)
	})
	o.recordWrite(r, op, err)
}

func (o *Orchestrator) writeDependencies(ctx context.Context, r *run, op string, edges []models.DependencyEdge) {
	_, err := o.write(ctx, op, func(ctx context.Context) (int, error) {
		return o.opts.Writer.WriteDependencies(ctx, r.userID, edges)
	})
	o.recordWrite(r, op, err)
}

func (o *Orchestrator) write(ctx context.Context, op string, fn func(context.Context) (int, error)) (n int, err error) {
	start := time.Now()
	defer func() { o.opts.Metrics.ObservePhase(metrics.PhaseWrite, time.Since(start)) }()
	err = deperrors.Guard(op, func() error {
		var werr error
		n, werr = fn(ctx)
		return werr
	})
	return n, err
}

func (o *Orchestrator) recordWrite(r *run, op string, err error) {
	if err == nil {
		return
	}
	var de *deperrors.DepError
	if !deperrors.As(err, &de) {
		err = deperrors.NewWriteFailure(op, err)
	}
	r.log.WithError(err).Warn("Graph write failed", logger.Phase(metrics.PhaseWrite))
	r.errs.Add(err)
}

// guarded runs fn with a deadline of budget and recovers its panics. An fn
// that ignores its context is abandoned shortly after the deadline.
func guarded[T any](ctx context.Context, unit string, budget time.Duration, fn func(context.Context) T) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		out.err = deperrors.Guard(unit, func() error {
			out.val = fn(callCtx)
			return nil
		})
		done <- out
	}()

	grace := budget / 10
	if grace > maxAbandonGrace {
		grace = maxAbandonGrace
	}
	timer := time.NewTimer(budget + grace)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.val, out.err
	case <-timer.C:
		var zero T
		msg := fmt.Sprintf("%s timed out after %d seconds", unit, deperrors.Seconds(budget))
		return zero, deperrors.NewError(deperrors.ErrorTypeTimeout, msg).WithOperation(unit).Build()
	}
}

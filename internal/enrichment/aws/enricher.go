// Package aws enriches discovered AWS resources with security group rules,
// IAM policies, event sources, target groups, Cloud Map registrations, DNS
// records and messaging fan-out.
package aws

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/catherinevee/depmgr/internal/enrichment"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	awsprov "github.com/catherinevee/depmgr/internal/providers/aws"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

// DefaultRate is the default number of enrichment calls per second
const DefaultRate = 20

// Enricher is the AWS Phase 2 adapter
type Enricher struct {
	opts    providers.Options
	open    awsprov.SessionFactory
	limiter *rate.Limiter
	log     logger.Logger
}

// New creates the AWS enricher. A nil factory selects the SDK sessions and a
// nil limiter paces calls at DefaultRate.
func New(opts providers.Options, sessions awsprov.SessionFactory, limiter *rate.Limiter) *Enricher {
	opts = opts.WithDefaults()
	if sessions == nil {
		sessions = awsprov.NewSession
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(DefaultRate), DefaultRate)
	}
	return &Enricher{
		opts:    opts,
		open:    sessions,
		limiter: limiter,
		log:     opts.Logger.WithFields(logger.String("enricher", enrichment.NameAWS)),
	}
}

// Name implements enrichment.Enricher
func (e *Enricher) Name() string { return enrichment.NameAWS }

// run carries the state of one Enrich call
type run struct {
	*Enricher
	resolver *awsprov.Resolver
	errs     *deperrors.Collector
}

// Enrich implements enrichment.Enricher
func (e *Enricher) Enrich(ctx context.Context, userID string, nodes []models.ServiceNode, creds models.Credentials) models.EnrichmentResult {
	if creds.AWS == nil {
		return models.EnrichmentResult{}
	}
	nodes = enrichment.Filter(nodes, enrichment.Of(models.ProviderAWS))
	if len(nodes) == 0 {
		return models.EnrichmentResult{}
	}

	r := &run{
		Enricher: e,
		resolver: awsprov.NewResolver(e.open, *creds.AWS),
		errs:     deperrors.NewCollector(""),
	}

	var data models.EnrichmentData
	data.SecurityGroups = r.securityGroups(ctx, nodes)
	data.IAMPolicies = r.iamPolicies(ctx, nodes)
	data.LambdaEventSources = r.eventSources(ctx, nodes)
	data.LBTargetGroups = r.targetGroups(ctx, nodes)
	data.CloudMapServices = r.cloudMapServices(ctx, nodes)
	data.DNSRecords = r.dnsRecords(ctx, nodes)
	data.SNSSubscriptions = r.subscriptions(ctx, nodes)
	data.EventBridgeRules = r.eventBridgeRules(ctx, nodes)

	e.log.WithContext(ctx).Info("aws enrichment finished",
		logger.UserID(userID),
		logger.Strings("categories", data.Categories()),
		logger.Int("errors", r.errs.Len()),
	)
	return models.EnrichmentResult{Data: data, Errors: r.errs.Errors()}
}

// clientsFor returns the clients of the node's account and region, or nil
// when the account session could not be opened.
func (r *run) clientsFor(ctx context.Context, node models.ServiceNode) *awsprov.Clients {
	c, account, err := r.resolver.For(ctx, node)
	if err != nil {
		r.errs.AddString(fmt.Sprintf("[account %s] %s", account,
			providers.CallError(models.ProviderAWS, "sts:AssumeRole", err, r.opts.CallTimeout)))
	}
	return c
}

// wait paces one outgoing call
func (r *run) wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// fail records a per-resource failure; the rest of the batch continues
func (r *run) fail(op, resource string, err error) {
	e := providers.CallError(models.ProviderAWS, op, err, r.opts.CallTimeout)
	var de *deperrors.DepError
	if deperrors.As(e, &de) && de.Resource == "" && de.Type != deperrors.ErrorTypeTimeout {
		de.Resource = resource
	}
	r.errs.Add(e)
}

// ofSubType returns the AWS nodes of one sub type
func ofSubType(nodes []models.ServiceNode, subTypes ...string) []models.ServiceNode {
	return enrichment.Filter(nodes, enrichment.Of(models.ProviderAWS, subTypes...))
}

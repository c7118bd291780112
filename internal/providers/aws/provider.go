// Package aws discovers AWS resources across accounts and regions.
package aws

import (
	"context"
	"fmt"

	"github.com/catherinevee/depmgr/internal/concurrency"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

const defaultAccountConcurrency = 10

// Provider is the AWS Phase 1 adapter
type Provider struct {
	opts               providers.Options
	sessions           SessionFactory
	runner             concurrency.Runner
	accountConcurrency int
	log                logger.Logger
}

// Option configures a Provider
type Option func(*Provider)

// WithSessionFactory replaces the SDK session factory
func WithSessionFactory(f SessionFactory) Option {
	return func(p *Provider) { p.sessions = f }
}

// WithRunner sets the runner used for the per-account fan-out
func WithRunner(r concurrency.Runner) Option {
	return func(p *Provider) { p.runner = r }
}

// WithAccountConcurrency bounds how many accounts are scanned at once
func WithAccountConcurrency(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.accountConcurrency = n
		}
	}
}

// New creates the AWS adapter
func New(opts providers.Options, options ...Option) *Provider {
	opts = opts.WithDefaults()
	p := &Provider{
		opts:               opts,
		sessions:           NewSession,
		runner:             concurrency.NewPool(0),
		accountConcurrency: defaultAccountConcurrency,
		log:                opts.Logger.WithFields(logger.Provider(models.ProviderAWS)),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Name implements providers.Provider
func (p *Provider) Name() string { return models.ProviderAWS }

// Connected implements providers.Provider
func (p *Provider) Connected(creds models.Credentials) bool {
	return creds.AWS != nil
}

// Discover implements providers.Provider. One task runs per account; the
// base credentials count as one account when none are listed.
func (p *Provider) Discover(ctx context.Context, userID string, creds models.Credentials) models.ProviderResult {
	if creds.AWS == nil {
		return models.ProviderResult{}
	}
	c := *creds.AWS
	if c.AccessKeyID != "" || c.SecretAccessKey != "" {
		if missing := providers.Missing(map[string]string{
			"access_key_id":     c.AccessKeyID,
			"secret_access_key": c.SecretAccessKey,
		}); len(missing) > 0 {
			return providers.CredentialsError(models.ProviderAWS, missing...)
		}
	}

	targets := []*models.AWSAccount{nil}
	if len(c.Accounts) > 0 {
		targets = make([]*models.AWSAccount, len(c.Accounts))
		for i := range c.Accounts {
			targets[i] = &c.Accounts[i]
		}
	}

	results, err := concurrency.Map(ctx, p.runner, p.accountConcurrency, targets,
		func(ctx context.Context, account *models.AWSAccount) (res models.ProviderResult) {
			label := accountLabel(account)
			if perr := deperrors.Guard("aws account discovery", func() error {
				res = p.discoverAccount(ctx, c, account)
				return nil
			}); perr != nil {
				res = models.ProviderResult{Errors: []string{fmt.Sprintf("[account %s] %v", label, perr)}}
			}
			return res
		})

	var out models.ProviderResult
	for _, r := range results {
		out.Merge(r)
	}
	if err != nil {
		out.Errors = append(out.Errors, err.Error())
	}
	p.log.WithContext(ctx).Info("aws discovery finished",
		logger.UserID(userID),
		logger.Int("accounts", len(targets)),
		logger.Int("nodes", len(out.Nodes)),
		logger.Int("errors", len(out.Errors)),
	)
	return out
}

func (p *Provider) discoverAccount(ctx context.Context, creds models.AWSCredentials, account *models.AWSAccount) models.ProviderResult {
	label := accountLabel(account)

	sess, err := p.sessions(ctx, creds, account)
	if err != nil {
		errs := deperrors.NewCollector(fmt.Sprintf("[account %s] ", label))
		errs.Add(providers.CallError(models.ProviderAWS, "sts:AssumeRole", err, p.opts.CallTimeout))
		return models.ProviderResult{Errors: errs.Errors()}
	}
	if sess.AccountID != "" {
		label = sess.AccountID
	}
	errs := deperrors.NewCollector(fmt.Sprintf("[account %s] ", label))

	var raws []models.RawResource
regions:
	for i, region := range creds.AllRegions() {
		clients := sess.ForRegion(region)
		if clients == nil {
			continue
		}
		sc := scope{accountID: sess.AccountID, region: region, maxPages: p.opts.MaxPages}
		for _, l := range listers {
			// global services are listed once per account
			if l.global && i > 0 {
				continue
			}
			if ctx.Err() != nil {
				errs.Add(deperrors.NewTimeout(models.ProviderAWS, l.op, p.opts.CallTimeout))
				break regions
			}
			found, err := l.fn(ctx, clients, sc)
			raws = append(raws, found...)
			if err != nil {
				errs.Add(providers.CallError(models.ProviderAWS, l.op, err, p.opts.CallTimeout))
			}
		}
	}

	nodes, dropped := mapper.MapAll(raws)
	if dropped > 0 {
		p.log.Debug("dropped unmapped aws resources", logger.Int("count", dropped))
	}
	return models.ProviderResult{Nodes: nodes, Errors: errs.Errors()}
}

func accountLabel(account *models.AWSAccount) string {
	if account == nil {
		return "default"
	}
	return account.AccountID
}

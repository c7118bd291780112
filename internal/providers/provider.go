// Package providers defines the Phase 1 discovery contract shared by every
// cloud adapter.
package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/models"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

// Provider discovers the resources of one cloud for one user. Discover never
// returns a Go error: failures are reported in ProviderResult.Errors.
type Provider interface {
	Name() string
	Connected(creds models.Credentials) bool
	Discover(ctx context.Context, userID string, creds models.Credentials) models.ProviderResult
}

// Options are the knobs shared by all adapters
type Options struct {
	MaxPages    int
	PageSize    int
	CallTimeout time.Duration
	Logger      logger.Logger
}

// WithDefaults fills zero values
func (o Options) WithDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = 100
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 120 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

// PageGuard enforces the hard page ceiling on a paginated listing
type PageGuard struct {
	provider string
	op       string
	max      int
	pages    int
	hit      bool
}

// NewPageGuard creates a guard for one listing operation
func NewPageGuard(provider, op string, maxPages int) *PageGuard {
	if maxPages <= 0 {
		maxPages = 100
	}
	return &PageGuard{provider: provider, op: op, max: maxPages}
}

// Next reports whether another page may be fetched. more is whether the
// API advertised another page.
//
//	for guard.Next(p.HasMorePages()) { ... }
func (g *PageGuard) Next(more bool) bool {
	if !more {
		return false
	}
	if g.pages >= g.max {
		g.hit = true
		return false
	}
	g.pages++
	return true
}

// Pages returns the number of pages fetched so far
func (g *PageGuard) Pages() int {
	return g.pages
}

// Err returns the ceiling error once the guard stopped a listing early
func (g *PageGuard) Err() error {
	if !g.hit {
		return nil
	}
	return deperrors.NewError(deperrors.ErrorTypeExternalCall,
		fmt.Sprintf("pagination ceiling of %d pages reached for %s", g.max, g.op)).
		WithProvider(g.provider).
		WithOperation(g.op).
		Build()
}

// CallError classifies an SDK, HTTP or CLI error. Deadline errors become
// timeouts reported against budget.
func CallError(provider, op string, err error, budget time.Duration) error {
	if err == nil {
		return nil
	}
	if deperrors.Is(err, context.DeadlineExceeded) {
		return deperrors.NewTimeout(provider, op, budget)
	}
	var de *deperrors.DepError
	if deperrors.As(err, &de) {
		return err
	}
	return deperrors.NewExternalCallFailure(provider, op, err)
}

// CredentialsError builds the single result returned for an incomplete
// provider configuration.
func CredentialsError(provider string, missing ...string) models.ProviderResult {
	return models.ProviderResult{
		Errors: []string{deperrors.NewCredentialsMissing(provider, missing...).Error()},
	}
}

// Missing returns the names of the empty required fields
func Missing(fields map[string]string) []string {
	var out []string
	for _, name := range sortedKeys(fields) {
		if fields[name] == "" {
			out = append(out, name)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package gcp discovers Google Cloud resources and their native
// relationships through the Cloud Asset Inventory.
package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/api/cloudasset/v1"
	"google.golang.org/api/option"

	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

const (
	searchOp        = "cloudasset:SearchAllResources"
	relationshipsOp = "cloudasset:ListAssets"
)

// AssetAPI is the slice of the Cloud Asset API used for discovery
type AssetAPI interface {
	SearchResources(ctx context.Context, project, pageToken string, pageSize int64) (*cloudasset.SearchAllResourcesResponse, error)
	ListRelationships(ctx context.Context, project, pageToken string, pageSize int64) (*cloudasset.ListAssetsResponse, error)
}

// ClientFactory opens an AssetAPI for the given credentials
type ClientFactory func(ctx context.Context, creds models.GCPCredentials) (AssetAPI, error)

type assetService struct {
	svc *cloudasset.Service
}

// NewAssetClient is the SDK-backed ClientFactory
func NewAssetClient(ctx context.Context, creds models.GCPCredentials) (AssetAPI, error) {
	var opts []option.ClientOption
	if creds.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(creds.CredentialsFile))
	}
	svc, err := cloudasset.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud asset service: %w", err)
	}
	return &assetService{svc: svc}, nil
}

func (a *assetService) SearchResources(ctx context.Context, project, pageToken string, pageSize int64) (*cloudasset.SearchAllResourcesResponse, error) {
	call := a.svc.V1.SearchAllResources("projects/" + project).PageSize(pageSize).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

func (a *assetService) ListRelationships(ctx context.Context, project, pageToken string, pageSize int64) (*cloudasset.ListAssetsResponse, error) {
	call := a.svc.Assets.List("projects/" + project).ContentType("RELATIONSHIP").PageSize(pageSize).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

// Provider is the GCP Phase 1 adapter
type Provider struct {
	opts    providers.Options
	clients ClientFactory
	log     logger.Logger
}

// New creates the GCP adapter. A nil factory selects the SDK client.
func New(opts providers.Options, clients ClientFactory) *Provider {
	opts = opts.WithDefaults()
	if clients == nil {
		clients = NewAssetClient
	}
	return &Provider{
		opts:    opts,
		clients: clients,
		log:     opts.Logger.WithFields(logger.Provider(models.ProviderGCP)),
	}
}

// Name implements providers.Provider
func (p *Provider) Name() string { return models.ProviderGCP }

// Connected implements providers.Provider
func (p *Provider) Connected(creds models.Credentials) bool {
	return creds.GCP != nil
}

// Discover implements providers.Provider. Each project is searched and then
// its relationship inventory is listed; a failing project does not stop the
// others.
func (p *Provider) Discover(ctx context.Context, userID string, creds models.Credentials) models.ProviderResult {
	if creds.GCP == nil {
		return models.ProviderResult{}
	}
	if len(creds.GCP.ProjectIDs) == 0 {
		return providers.CredentialsError(models.ProviderGCP, "project_ids")
	}

	errs := deperrors.NewCollector("")
	client, err := p.clients(ctx, *creds.GCP)
	if err != nil {
		errs.Add(providers.CallError(models.ProviderGCP, "cloudasset:NewService", err, p.opts.CallTimeout))
		return models.ProviderResult{Errors: errs.Errors()}
	}

	var result models.ProviderResult
	for _, project := range creds.GCP.ProjectIDs {
		raws, err := p.search(ctx, client, project)
		if err != nil {
			errs.Add(p.projectError(project, searchOp, err))
		}
		nodes, dropped := mapper.MapAll(raws)
		if dropped > 0 {
			p.log.Debug("dropped unmapped gcp assets", logger.String("project", project), logger.Int("count", dropped))
		}
		result.Nodes = append(result.Nodes, nodes...)

		rels, err := p.relationships(ctx, client, project)
		if err != nil {
			errs.Add(p.projectError(project, relationshipsOp, err))
		}
		result.Relationships = append(result.Relationships, rels...)
	}
	result.Errors = errs.Errors()

	p.log.WithContext(ctx).Info("gcp discovery finished",
		logger.UserID(userID),
		logger.Int("projects", len(creds.GCP.ProjectIDs)),
		logger.Int("nodes", len(result.Nodes)),
		logger.Int("relationships", len(result.Relationships)),
	)
	return result
}

func (p *Provider) projectError(project, op string, err error) error {
	e := providers.CallError(models.ProviderGCP, op, err, p.opts.CallTimeout)
	var de *deperrors.DepError
	if deperrors.As(e, &de) && de.Resource == "" {
		de.Resource = "projects/" + project
	}
	return e
}

func (p *Provider) search(ctx context.Context, client AssetAPI, project string) ([]models.RawResource, error) {
	var out []models.RawResource
	guard := providers.NewPageGuard(models.ProviderGCP, searchOp, p.opts.MaxPages)
	token := ""
	for more := true; guard.Next(more); {
		resp, err := client.SearchResources(ctx, project, token, int64(p.opts.PageSize))
		if err != nil {
			return out, err
		}
		for _, r := range resp.Results {
			if raw, ok := toRaw(project, r); ok {
				out = append(out, raw)
			}
		}
		token = resp.NextPageToken
		more = token != ""
	}
	return out, guard.Err()
}

func (p *Provider) relationships(ctx context.Context, client AssetAPI, project string) ([]models.Relationship, error) {
	var out []models.Relationship
	guard := providers.NewPageGuard(models.ProviderGCP, relationshipsOp, p.opts.MaxPages)
	token := ""
	for more := true; guard.Next(more); {
		resp, err := client.ListRelationships(ctx, project, token, int64(p.opts.PageSize))
		if err != nil {
			return out, err
		}
		for _, asset := range resp.Assets {
			if asset == nil || asset.RelatedAssets == nil {
				continue
			}
			relType := ""
			if attrs := asset.RelatedAssets.RelationshipAttributes; attrs != nil {
				relType = attrs.Type
			}
			for _, related := range asset.RelatedAssets.Assets {
				if related == nil || related.Asset == "" || relType == "" {
					continue
				}
				out = append(out, models.Relationship{
					SourceID: asset.Name,
					TargetID: related.Asset,
					Type:     relType,
					Provider: models.ProviderGCP,
				})
			}
		}
		token = resp.NextPageToken
		more = token != ""
	}
	return out, guard.Err()
}

func toRaw(project string, r *cloudasset.ResourceSearchResult) (models.RawResource, bool) {
	if r == nil || r.Name == "" || r.AssetType == "" {
		return models.RawResource{}, false
	}
	name := r.DisplayName
	if name == "" {
		name = mapper.ShortID(r.Name)
	}

	meta := map[string]any{models.MetaProject: project}
	if len(r.Labels) > 0 {
		meta[models.MetaLabels] = r.Labels
	}
	raw := models.RawResource{
		Provider:   models.ProviderGCP,
		NativeType: r.AssetType,
		ID:         r.Name,
		Name:       name,
		Region:     r.Location,
		Status:     r.State,
		Metadata:   meta,
	}
	applyAttributes(&raw, r.AdditionalAttributes)
	return raw, true
}

// applyAttributes lifts network identities out of the search result's
// additional attributes.
func applyAttributes(raw *models.RawResource, data []byte) {
	if len(data) == 0 {
		return
	}
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return
	}
	private := stringList(attrs["internalIPs"])
	public := stringList(attrs["externalIPs"])
	if len(private) > 0 {
		raw.Metadata[models.MetaPrivateIPs] = private
		raw.Endpoint = private[0]
	}
	if len(public) > 0 {
		raw.Metadata[models.MetaPublicIPs] = public
		if raw.Endpoint == "" {
			raw.Endpoint = public[0]
		}
	}
	for _, key := range []string{"url", "uri", "endpoint", "ipAddress"} {
		v, ok := attrs[key].(string)
		if !ok || v == "" {
			continue
		}
		host := v
		if u, err := url.Parse(v); err == nil && u.Host != "" {
			host = u.Hostname()
			raw.Metadata[models.MetaURLs] = []string{v}
		}
		if raw.Endpoint == "" {
			raw.Endpoint = host
		}
		if !strings.ContainsAny(host, ":") && strings.ContainsAny(host, "abcdefghijklmnopqrstuvwxyz") {
			raw.Metadata[models.MetaHostnames] = []string{host}
		}
		break
	}
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

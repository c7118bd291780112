// Package ovh discovers OVHcloud Public Cloud project resources.
package ovh

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ovh/go-ovh/ovh"

	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

const defaultEndpoint = "ovh-eu"

// API is the signed REST client surface used for discovery
type API interface {
	GetWithContext(ctx context.Context, url string, resType interface{}) error
}

// ClientFactory creates an API client from credentials
type ClientFactory func(creds models.OVHCredentials) (API, error)

// NewClient is the go-ovh backed ClientFactory
func NewClient(creds models.OVHCredentials) (API, error) {
	endpoint := creds.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	client, err := ovh.NewClient(endpoint, creds.ApplicationKey, creds.ApplicationSecret, creds.ConsumerKey)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Provider is the OVH Phase 1 adapter
type Provider struct {
	opts    providers.Options
	clients ClientFactory
	log     logger.Logger
}

// New creates the OVH adapter. A nil factory selects go-ovh.
func New(opts providers.Options, clients ClientFactory) *Provider {
	opts = opts.WithDefaults()
	if clients == nil {
		clients = NewClient
	}
	return &Provider{
		opts:    opts,
		clients: clients,
		log:     opts.Logger.WithFields(logger.Provider(models.ProviderOVH)),
	}
}

// Name implements providers.Provider
func (p *Provider) Name() string { return models.ProviderOVH }

// Connected implements providers.Provider
func (p *Provider) Connected(creds models.Credentials) bool {
	return creds.OVH != nil
}

type instance struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Region      string `json:"region"`
	IPAddresses []struct {
		IP      string `json:"ip"`
		Type    string `json:"type"`
		Version int    `json:"version"`
	} `json:"ipAddresses"`
}

type kubeCluster struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Region  string `json:"region"`
	Status  string `json:"status"`
	URL     string `json:"url"`
	Version string `json:"version"`
}

type container struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

type databaseService struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Engine      string `json:"engine"`
	Status      string `json:"status"`
	Endpoints   []struct {
		Component string `json:"component"`
		Domain    string `json:"domain"`
		Port      int    `json:"port"`
	} `json:"endpoints"`
	Nodes []struct {
		Region string `json:"region"`
	} `json:"nodes"`
}

// Discover implements providers.Provider
func (p *Provider) Discover(ctx context.Context, userID string, creds models.Credentials) models.ProviderResult {
	if creds.OVH == nil {
		return models.ProviderResult{}
	}
	c := *creds.OVH
	if missing := providers.Missing(map[string]string{
		"project_id":         c.ProjectID,
		"application_key":    c.ApplicationKey,
		"application_secret": c.ApplicationSecret,
		"consumer_key":       c.ConsumerKey,
	}); len(missing) > 0 {
		return providers.CredentialsError(models.ProviderOVH, missing...)
	}

	errs := deperrors.NewCollector("")
	api, err := p.clients(c)
	if err != nil {
		errs.Add(providers.CallError(models.ProviderOVH, "ovh:NewClient", err, p.opts.CallTimeout))
		return models.ProviderResult{Errors: errs.Errors()}
	}

	base := "/cloud/project/" + url.PathEscape(c.ProjectID)
	var raws []models.RawResource

	var instances []instance
	if err := api.GetWithContext(ctx, base+"/instance", &instances); err != nil {
		errs.Add(providers.CallError(models.ProviderOVH, "GET /instance", err, p.opts.CallTimeout))
	}
	for _, in := range instances {
		raws = append(raws, instanceRaw(c.ProjectID, in))
	}

	var kubeIDs []string
	if err := api.GetWithContext(ctx, base+"/kube", &kubeIDs); err != nil {
		errs.Add(providers.CallError(models.ProviderOVH, "GET /kube", err, p.opts.CallTimeout))
	}
	for _, id := range kubeIDs {
		var k kubeCluster
		if err := api.GetWithContext(ctx, base+"/kube/"+url.PathEscape(id), &k); err != nil {
			e := deperrors.NewExternalCallFailure(models.ProviderOVH, "GET /kube/{id}", err)
			e.Resource = id
			errs.Add(e)
			continue
		}
		raws = append(raws, kubeRaw(c.ProjectID, k))
	}

	var containers []container
	if err := api.GetWithContext(ctx, base+"/storage", &containers); err != nil {
		errs.Add(providers.CallError(models.ProviderOVH, "GET /storage", err, p.opts.CallTimeout))
	}
	for _, ct := range containers {
		raws = append(raws, models.RawResource{
			Provider:   models.ProviderOVH,
			NativeType: "ovh:storage",
			ID:         fmt.Sprintf("ovh:%s:storage/%s", c.ProjectID, ct.ID),
			Name:       ct.Name,
			Region:     ct.Region,
			Metadata:   map[string]any{models.MetaProject: c.ProjectID},
		})
	}

	var services []databaseService
	if err := api.GetWithContext(ctx, base+"/database/service", &services); err != nil {
		errs.Add(providers.CallError(models.ProviderOVH, "GET /database/service", err, p.opts.CallTimeout))
	}
	for _, svc := range services {
		raws = append(raws, databaseRaw(c.ProjectID, svc))
	}

	nodes, dropped := mapper.MapAll(raws)
	p.log.WithContext(ctx).Info("ovh discovery finished",
		logger.UserID(userID),
		logger.Int("nodes", len(nodes)),
		logger.Int("unmapped", dropped),
	)
	return models.ProviderResult{Nodes: nodes, Errors: errs.Errors()}
}

func instanceRaw(project string, in instance) models.RawResource {
	meta := map[string]any{models.MetaProject: project}
	var private, public []string
	for _, addr := range in.IPAddresses {
		if addr.IP == "" {
			continue
		}
		if addr.Type == "private" {
			private = append(private, addr.IP)
		} else {
			public = append(public, addr.IP)
		}
	}
	if len(private) > 0 {
		meta[models.MetaPrivateIPs] = private
	}
	if len(public) > 0 {
		meta[models.MetaPublicIPs] = public
	}
	endpoint := ""
	switch {
	case len(private) > 0:
		endpoint = private[0]
	case len(public) > 0:
		endpoint = public[0]
	}
	return models.RawResource{
		Provider:   models.ProviderOVH,
		NativeType: "ovh:instance",
		ID:         fmt.Sprintf("ovh:%s:instance/%s", project, in.ID),
		Name:       in.Name,
		Region:     in.Region,
		Endpoint:   endpoint,
		Status:     in.Status,
		Metadata:   meta,
	}
}

func kubeRaw(project string, k kubeCluster) models.RawResource {
	meta := map[string]any{models.MetaProject: project, "version": k.Version}
	endpoint := ""
	if k.URL != "" {
		meta[models.MetaURLs] = []string{k.URL}
		if u, err := url.Parse(k.URL); err == nil && u.Hostname() != "" {
			endpoint = u.Hostname()
		} else {
			endpoint = k.URL
		}
		meta[models.MetaHostnames] = []string{endpoint}
	}
	return models.RawResource{
		Provider:   models.ProviderOVH,
		NativeType: "ovh:kube",
		ID:         fmt.Sprintf("ovh:%s:kube/%s", project, k.ID),
		Name:       k.Name,
		Region:     k.Region,
		Endpoint:   endpoint,
		Status:     k.Status,
		Metadata:   meta,
	}
}

func databaseRaw(project string, svc databaseService) models.RawResource {
	meta := map[string]any{models.MetaProject: project, models.MetaEngine: svc.Engine}
	var hosts []string
	for _, e := range svc.Endpoints {
		if e.Domain != "" {
			hosts = append(hosts, e.Domain)
			if _, ok := meta[models.MetaPort]; !ok && e.Port > 0 {
				meta[models.MetaPort] = e.Port
			}
		}
	}
	endpoint := ""
	if len(hosts) > 0 {
		meta[models.MetaHostnames] = hosts
		endpoint = hosts[0]
	}
	region := ""
	if len(svc.Nodes) > 0 {
		region = svc.Nodes[0].Region
	}
	name := svc.Description
	if name == "" {
		name = svc.ID
	}
	return models.RawResource{
		Provider:   models.ProviderOVH,
		NativeType: "ovh:database",
		Kind:       svc.Engine,
		ID:         fmt.Sprintf("ovh:%s:database/%s", project, svc.ID),
		Name:       name,
		Region:     region,
		Endpoint:   endpoint,
		Status:     svc.Status,
		Metadata:   meta,
	}
}

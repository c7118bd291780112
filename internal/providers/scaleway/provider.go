// Package scaleway discovers Scaleway resources through the scw CLI.
package scaleway

import (
	"context"
	"encoding/json"

	"github.com/catherinevee/depmgr/internal/execx"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

const defaultRegion = "fr-par"

// listing is one scw list command and the decoder of its JSON output
type listing struct {
	op     string
	args   []string
	decode func(data []byte, region string) ([]models.RawResource, error)
}

var listings = []listing{
	{op: "instance server list", args: []string{"instance", "server", "list", "zone=all"}, decode: decodeServers},
	{op: "k8s cluster list", args: []string{"k8s", "cluster", "list"}, decode: decodeClusters},
	{op: "rdb instance list", args: []string{"rdb", "instance", "list"}, decode: decodeDatabases},
	{op: "lb lb list", args: []string{"lb", "lb", "list", "zone=all"}, decode: decodeLoadBalancers},
}

// Provider is the Scaleway Phase 1 adapter
type Provider struct {
	opts   providers.Options
	runner func(creds models.ScalewayCredentials) execx.Runner
	log    logger.Logger
}

// New creates the Scaleway adapter. A nil runner factory uses the scw
// binary with the credentials passed through its environment.
func New(opts providers.Options, runner func(creds models.ScalewayCredentials) execx.Runner) *Provider {
	opts = opts.WithDefaults()
	if runner == nil {
		runner = func(c models.ScalewayCredentials) execx.Runner {
			return execx.CommandRunner{Env: []string{
				"SCW_ACCESS_KEY=" + c.AccessKey,
				"SCW_SECRET_KEY=" + c.SecretKey,
				"SCW_DEFAULT_PROJECT_ID=" + c.ProjectID,
				"SCW_DEFAULT_REGION=" + c.Region,
			}}
		}
	}
	return &Provider{
		opts:   opts,
		runner: runner,
		log:    opts.Logger.WithFields(logger.Provider(models.ProviderScaleway)),
	}
}

// Name implements providers.Provider
func (p *Provider) Name() string { return models.ProviderScaleway }

// Connected implements providers.Provider
func (p *Provider) Connected(creds models.Credentials) bool {
	return creds.Scaleway != nil
}

// Discover implements providers.Provider. Each listing runs with its own
// timeout; a failing listing is recorded and the others continue.
func (p *Provider) Discover(ctx context.Context, userID string, creds models.Credentials) models.ProviderResult {
	if creds.Scaleway == nil {
		return models.ProviderResult{}
	}
	c := *creds.Scaleway
	if c.ProjectID == "" {
		return providers.CredentialsError(models.ProviderScaleway, "project_id")
	}
	if c.Region == "" {
		c.Region = defaultRegion
	}

	run := p.runner(c)
	errs := deperrors.NewCollector("")
	var raws []models.RawResource
	for _, l := range listings {
		args := append(append([]string(nil), l.args...), "project-id="+c.ProjectID, "-o", "json")
		if l.args[len(l.args)-1] != "zone=all" {
			args = append(args, "region="+c.Region)
		}
		out, err := run.Run(ctx, p.opts.CallTimeout, "scw", args...)
		if err != nil {
			errs.Add(providers.CallError(models.ProviderScaleway, "scw "+l.op, err, p.opts.CallTimeout))
			continue
		}
		found, err := l.decode(out, c.Region)
		if err != nil {
			errs.Add(deperrors.NewParseFailure(models.ProviderScaleway, "scw "+l.op, err))
			continue
		}
		for i := range found {
			found[i].Metadata[models.MetaProject] = c.ProjectID
		}
		raws = append(raws, found...)
	}

	nodes, dropped := mapper.MapAll(raws)
	p.log.WithContext(ctx).Info("scaleway discovery finished",
		logger.UserID(userID),
		logger.Int("nodes", len(nodes)),
		logger.Int("unmapped", dropped),
	)
	return models.ProviderResult{Nodes: nodes, Errors: errs.Errors()}
}

type server struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Zone      string `json:"zone"`
	PrivateIP string `json:"private_ip"`
	PublicIP  *struct {
		Address string `json:"address"`
	} `json:"public_ip"`
	PublicIPs []struct {
		Address string `json:"address"`
	} `json:"public_ips"`
}

func decodeServers(data []byte, region string) ([]models.RawResource, error) {
	var items []server
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make([]models.RawResource, 0, len(items))
	for _, s := range items {
		meta := map[string]any{}
		var public []string
		if s.PublicIP != nil && s.PublicIP.Address != "" {
			public = append(public, s.PublicIP.Address)
		}
		for _, ip := range s.PublicIPs {
			if ip.Address != "" && (len(public) == 0 || public[0] != ip.Address) {
				public = append(public, ip.Address)
			}
		}
		if s.PrivateIP != "" {
			meta[models.MetaPrivateIPs] = []string{s.PrivateIP}
		}
		if len(public) > 0 {
			meta[models.MetaPublicIPs] = public
		}
		endpoint := s.PrivateIP
		if endpoint == "" && len(public) > 0 {
			endpoint = public[0]
		}
		out = append(out, models.RawResource{
			Provider:   models.ProviderScaleway,
			NativeType: "instance:server",
			ID:         s.ID,
			Name:       s.Name,
			Region:     region,
			Zone:       s.Zone,
			Endpoint:   endpoint,
			Status:     s.State,
			Metadata:   meta,
		})
	}
	return out, nil
}

type cluster struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Region     string `json:"region"`
	Version    string `json:"version"`
	ClusterURL string `json:"cluster_url"`
}

func decodeClusters(data []byte, region string) ([]models.RawResource, error) {
	var items []cluster
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make([]models.RawResource, 0, len(items))
	for _, c := range items {
		r := c.Region
		if r == "" {
			r = region
		}
		meta := map[string]any{"version": c.Version}
		if c.ClusterURL != "" {
			meta[models.MetaURLs] = []string{c.ClusterURL}
		}
		out = append(out, models.RawResource{
			Provider:   models.ProviderScaleway,
			NativeType: "k8s:cluster",
			ID:         c.ID,
			Name:       c.Name,
			Region:     r,
			Status:     c.Status,
			Metadata:   meta,
		})
	}
	return out, nil
}

type database struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Region    string `json:"region"`
	Engine    string `json:"engine"`
	Endpoints []struct {
		IP       string `json:"ip"`
		Port     int    `json:"port"`
		Hostname string `json:"hostname"`
	} `json:"endpoints"`
}

func decodeDatabases(data []byte, region string) ([]models.RawResource, error) {
	var items []database
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make([]models.RawResource, 0, len(items))
	for _, d := range items {
		r := d.Region
		if r == "" {
			r = region
		}
		meta := map[string]any{models.MetaEngine: d.Engine}
		var ips, hosts []string
		port := 0
		for _, e := range d.Endpoints {
			if e.IP != "" {
				ips = append(ips, e.IP)
			}
			if e.Hostname != "" {
				hosts = append(hosts, e.Hostname)
			}
			if port == 0 {
				port = e.Port
			}
		}
		if len(ips) > 0 {
			meta[models.MetaPrivateIPs] = ips
		}
		if len(hosts) > 0 {
			meta[models.MetaHostnames] = hosts
		}
		if port > 0 {
			meta[models.MetaPort] = port
		}
		endpoint := ""
		if len(ips) > 0 {
			endpoint = ips[0]
		} else if len(hosts) > 0 {
			endpoint = hosts[0]
		}
		out = append(out, models.RawResource{
			Provider:   models.ProviderScaleway,
			NativeType: "rdb:instance",
			Kind:       d.Engine,
			ID:         d.ID,
			Name:       d.Name,
			Region:     r,
			Endpoint:   endpoint,
			Status:     d.Status,
			Metadata:   meta,
		})
	}
	return out, nil
}

type loadBalancer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Zone   string `json:"zone"`
	IP     []struct {
		IPAddress string `json:"ip_address"`
	} `json:"ip"`
}

func decodeLoadBalancers(data []byte, region string) ([]models.RawResource, error) {
	var items []loadBalancer
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make([]models.RawResource, 0, len(items))
	for _, lb := range items {
		meta := map[string]any{}
		var public []string
		for _, ip := range lb.IP {
			if ip.IPAddress != "" {
				public = append(public, ip.IPAddress)
			}
		}
		endpoint := ""
		if len(public) > 0 {
			meta[models.MetaPublicIPs] = public
			endpoint = public[0]
		}
		out = append(out, models.RawResource{
			Provider:   models.ProviderScaleway,
			NativeType: "lb:lb",
			ID:         lb.ID,
			Name:       lb.Name,
			Region:     region,
			Zone:       lb.Zone,
			Endpoint:   endpoint,
			Status:     lb.Status,
			Metadata:   meta,
		})
	}
	return out, nil
}

// Package azure enriches discovered Azure resources with NSG rules, app
// settings, NIC addressing and Key Vault URIs.
package azure

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v4"

	"github.com/catherinevee/depmgr/internal/enrichment"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

// Enricher is the Azure Phase 2 adapter
type Enricher struct {
	opts    providers.Options
	clients ClientFactory
	log     logger.Logger
}

// New creates the Azure enricher. A nil factory selects the SDK clients.
func New(opts providers.Options, clients ClientFactory) *Enricher {
	opts = opts.WithDefaults()
	if clients == nil {
		clients = NewClients
	}
	return &Enricher{
		opts:    opts,
		clients: clients,
		log:     opts.Logger.WithFields(logger.String("enricher", enrichment.NameAzure)),
	}
}

// Name implements enrichment.Enricher
func (e *Enricher) Name() string { return enrichment.NameAzure }

// Enrich implements enrichment.Enricher
func (e *Enricher) Enrich(ctx context.Context, userID string, nodes []models.ServiceNode, creds models.Credentials) models.EnrichmentResult {
	if creds.Azure == nil {
		return models.EnrichmentResult{}
	}
	nodes = enrichment.Filter(nodes, enrichment.Of(models.ProviderAzure))
	if len(nodes) == 0 {
		return models.EnrichmentResult{}
	}

	errs := deperrors.NewCollector("")
	clients, err := e.clients(*creds.Azure)
	if err != nil {
		errs.Add(providers.CallError(models.ProviderAzure, "azidentity:ClientSecretCredential", err, e.opts.CallTimeout))
		return models.EnrichmentResult{Errors: errs.Errors()}
	}

	var result models.EnrichmentResult
	if clients.NSGs != nil {
		result.Data.NSGRules = e.nsgRules(ctx, clients.NSGs, nodes, errs)
	}
	if clients.Interfaces != nil {
		result.Refinements = append(result.Refinements, e.vmAddresses(ctx, clients.Interfaces, nodes, errs)...)
	}
	if clients.WebApps != nil {
		result.Data.AppSettings = e.appSettings(ctx, clients.WebApps, nodes, errs)
	}
	if clients.Vaults != nil {
		result.Refinements = append(result.Refinements, e.vaultURIs(ctx, clients.Vaults, nodes, errs)...)
	}
	result.Errors = errs.Errors()

	e.log.WithContext(ctx).Info("azure enrichment finished",
		logger.UserID(userID),
		logger.Strings("categories", result.Data.Categories()),
		logger.Int("refinements", len(result.Refinements)),
		logger.Int("errors", len(result.Errors)),
	)
	return result
}

func (e *Enricher) fail(errs *deperrors.Collector, op, resource string, err error) {
	ce := providers.CallError(models.ProviderAzure, op, err, e.opts.CallTimeout)
	var de *deperrors.DepError
	if deperrors.As(ce, &de) && de.Resource == "" && de.Type != deperrors.ErrorTypeTimeout {
		de.Resource = resource
	}
	errs.Add(ce)
}

func (e *Enricher) nsgRules(ctx context.Context, client NSGGetter, nodes []models.ServiceNode, errs *deperrors.Collector) []models.NSGRuleSet {
	var out []models.NSGRuleSet
	for _, n := range enrichment.Filter(nodes, enrichment.Of(models.ProviderAzure, "nsg")) {
		rg := n.MetaString(models.MetaResourceGroup)
		if rg == "" {
			continue
		}
		resp, err := client.Get(ctx, rg, n.Name, nil)
		if err != nil {
			e.fail(errs, "network:SecurityGroups.Get", n.Name, err)
			continue
		}
		out = append(out, toRuleSet(n.CloudResourceID, resp.SecurityGroup))
	}
	return out
}

func toRuleSet(id string, sg armnetwork.SecurityGroup) models.NSGRuleSet {
	set := models.NSGRuleSet{NSGID: id, Name: deref(sg.Name)}
	if sg.Properties == nil {
		return set
	}
	for _, nic := range sg.Properties.NetworkInterfaces {
		if nic != nil && nic.ID != nil {
			set.AttachedResourceIDs = append(set.AttachedResourceIDs, *nic.ID)
		}
	}
	for _, subnet := range sg.Properties.Subnets {
		if subnet != nil && subnet.ID != nil {
			set.AttachedResourceIDs = append(set.AttachedResourceIDs, *subnet.ID)
		}
	}
	for _, rule := range sg.Properties.SecurityRules {
		if rule == nil || rule.Properties == nil {
			continue
		}
		p := rule.Properties
		r := models.NSGRule{Name: deref(rule.Name)}
		if p.Direction != nil {
			r.Direction = string(*p.Direction)
		}
		if p.Access != nil {
			r.Access = string(*p.Access)
		}
		if p.Protocol != nil {
			r.Protocol = string(*p.Protocol)
		}
		if p.Priority != nil {
			r.Priority = *p.Priority
		}
		r.SourcePrefixes = collect(p.SourceAddressPrefix, p.SourceAddressPrefixes)
		r.DestinationPorts = collect(p.DestinationPortRange, p.DestinationPortRanges)
		set.Rules = append(set.Rules, r)
	}
	return set
}

// vmAddresses reads the NICs of every resource group holding a discovered
// VM and refines the VMs with their private addresses, subnets and NSGs.
func (e *Enricher) vmAddresses(ctx context.Context, client InterfaceLister, nodes []models.ServiceNode, errs *deperrors.Collector) []models.NodeRefinement {
	vms := make(map[string]models.ServiceNode)
	groups := make(map[string]bool)
	for _, n := range enrichment.Filter(nodes, enrichment.Of(models.ProviderAzure, "azure_vm")) {
		vms[strings.ToLower(n.CloudResourceID)] = n
		if rg := n.MetaString(models.MetaResourceGroup); rg != "" {
			groups[rg] = true
		}
	}
	rgs := make([]string, 0, len(groups))
	for rg := range groups {
		rgs = append(rgs, rg)
	}
	sort.Strings(rgs)

	type addressing struct {
		private, public, subnets, nsgs []string
	}
	found := make(map[string]*addressing)
	var order []string

	const op = "network:Interfaces.List"
	for _, rg := range rgs {
		guard := providers.NewPageGuard(models.ProviderAzure, op, e.opts.MaxPages)
		pager := client.NewListPager(rg, nil)
		for guard.Next(pager.More()) {
			page, err := pager.NextPage(ctx)
			if err != nil {
				e.fail(errs, op, rg, err)
				break
			}
			for _, nic := range page.Value {
				if nic == nil || nic.Properties == nil || nic.Properties.VirtualMachine == nil {
					continue
				}
				vmID := strings.ToLower(deref(nic.Properties.VirtualMachine.ID))
				if _, ok := vms[vmID]; !ok {
					continue
				}
				a, ok := found[vmID]
				if !ok {
					a = &addressing{}
					found[vmID] = a
					order = append(order, vmID)
				}
				if sg := nic.Properties.NetworkSecurityGroup; sg != nil && sg.ID != nil {
					a.nsgs = appendUnique(a.nsgs, *sg.ID)
				}
				for _, cfg := range nic.Properties.IPConfigurations {
					if cfg == nil || cfg.Properties == nil {
						continue
					}
					a.private = appendUnique(a.private, deref(cfg.Properties.PrivateIPAddress))
					if cfg.Properties.Subnet != nil {
						a.subnets = appendUnique(a.subnets, deref(cfg.Properties.Subnet.ID))
					}
					if pip := cfg.Properties.PublicIPAddress; pip != nil && pip.Properties != nil {
						a.public = appendUnique(a.public, deref(pip.Properties.IPAddress))
					}
				}
			}
		}
		errs.Add(guard.Err())
	}

	var out []models.NodeRefinement
	for _, id := range order {
		vm, a := vms[id], found[id]
		ref := models.NodeRefinement{CloudResourceID: vm.CloudResourceID, Metadata: map[string]any{}}
		if len(a.private) > 0 {
			ref.Metadata[models.MetaPrivateIPs] = a.private
			if vm.Endpoint == "" {
				ref.Endpoint = a.private[0]
			}
		}
		if len(a.public) > 0 {
			ref.Metadata[models.MetaPublicIPs] = a.public
		}
		if len(a.subnets) > 0 {
			ref.Metadata[models.MetaSubnetIDs] = a.subnets
		}
		if len(a.nsgs) > 0 {
			ref.Metadata[models.MetaNSGIDs] = a.nsgs
		}
		out = append(out, ref)
	}
	return out
}

func (e *Enricher) appSettings(ctx context.Context, client AppSettingsReader, nodes []models.ServiceNode, errs *deperrors.Collector) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, n := range enrichment.Filter(nodes, enrichment.Of(models.ProviderAzure, "app_service", "azure_function")) {
		rg := n.MetaString(models.MetaResourceGroup)
		if rg == "" {
			continue
		}
		resp, err := client.ListApplicationSettings(ctx, rg, n.Name, nil)
		if err != nil {
			e.fail(errs, "web:WebApps.ListApplicationSettings", n.Name, err)
			continue
		}
		settings := make(map[string]string, len(resp.Properties))
		for k, v := range resp.Properties {
			if v != nil {
				settings[k] = *v
			}
		}
		if len(settings) > 0 {
			out[n.Name] = settings
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (e *Enricher) vaultURIs(ctx context.Context, client VaultGetter, nodes []models.ServiceNode, errs *deperrors.Collector) []models.NodeRefinement {
	var out []models.NodeRefinement
	for _, n := range enrichment.Filter(nodes, enrichment.Of(models.ProviderAzure, "key_vault")) {
		rg := n.MetaString(models.MetaResourceGroup)
		if rg == "" {
			continue
		}
		resp, err := client.Get(ctx, rg, n.Name, nil)
		if err != nil {
			e.fail(errs, "keyvault:Vaults.Get", n.Name, err)
			continue
		}
		if resp.Properties == nil || resp.Properties.VaultURI == nil {
			continue
		}
		uri := *resp.Properties.VaultURI
		u, err := url.Parse(uri)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, models.NodeRefinement{
			CloudResourceID: n.CloudResourceID,
			Endpoint:        u.Hostname(),
			Metadata: map[string]any{
				models.MetaHostnames: []string{u.Hostname()},
				models.MetaURLs:      []string{uri},
			},
		})
	}
	return out
}

func collect(single *string, list []*string) []string {
	var out []string
	out = appendUnique(out, deref(single))
	for _, s := range list {
		out = appendUnique(out, deref(s))
	}
	return out
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

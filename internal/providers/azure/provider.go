// Package azure discovers the resources of one Azure subscription through
// the Resource Manager listing API.
package azure

import (
	"context"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

const listOp = "resources:List"

// ResourceLister is the subset of armresources.Client used for discovery
type ResourceLister interface {
	NewListPager(options *armresources.ClientListOptions) *runtime.Pager[armresources.ClientListResponse]
}

// ClientFactory builds a ResourceLister for a subscription
type ClientFactory func(creds models.AzureCredentials) (ResourceLister, error)

// NewResourcesClient is the SDK-backed ClientFactory
func NewResourcesClient(creds models.AzureCredentials) (ResourceLister, error) {
	cred, err := azidentity.NewClientSecretCredential(creds.TenantID, creds.ClientID, creds.ClientSecret, nil)
	if err != nil {
		return nil, err
	}
	client, err := armresources.NewClient(creds.SubscriptionID, cred, nil)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// dnsSuffixes maps a lowercase resource type to the public hostname suffix
// of its data-plane endpoint.
var dnsSuffixes = map[string]string{
	"microsoft.web/sites":                       "azurewebsites.net",
	"microsoft.keyvault/vaults":                 "vault.azure.net",
	"microsoft.sql/servers":                     "database.windows.net",
	"microsoft.storage/storageaccounts":         "blob.core.windows.net",
	"microsoft.cache/redis":                     "redis.cache.windows.net",
	"microsoft.documentdb/databaseaccounts":     "documents.azure.com",
	"microsoft.dbforpostgresql/flexibleservers": "postgres.database.azure.com",
	"microsoft.dbformysql/flexibleservers":      "mysql.database.azure.com",
	"microsoft.containerregistry/registries":    "azurecr.io",
	"microsoft.servicebus/namespaces":           "servicebus.windows.net",
	"microsoft.eventhub/namespaces":             "servicebus.windows.net",
	"microsoft.apimanagement/service":           "azure-api.net",
}

// Provider is the Azure Phase 1 adapter
type Provider struct {
	opts    providers.Options
	clients ClientFactory
	log     logger.Logger
}

// New creates the Azure adapter. A nil factory selects the SDK client.
func New(opts providers.Options, clients ClientFactory) *Provider {
	opts = opts.WithDefaults()
	if clients == nil {
		clients = NewResourcesClient
	}
	return &Provider{
		opts:    opts,
		clients: clients,
		log:     opts.Logger.WithFields(logger.Provider(models.ProviderAzure)),
	}
}

// Name implements providers.Provider
func (p *Provider) Name() string { return models.ProviderAzure }

// Connected implements providers.Provider
func (p *Provider) Connected(creds models.Credentials) bool {
	return creds.Azure != nil
}

// Discover implements providers.Provider
func (p *Provider) Discover(ctx context.Context, userID string, creds models.Credentials) models.ProviderResult {
	if creds.Azure == nil {
		return models.ProviderResult{}
	}
	c := *creds.Azure
	if missing := providers.Missing(map[string]string{
		"tenant_id":       c.TenantID,
		"client_id":       c.ClientID,
		"client_secret":   c.ClientSecret,
		"subscription_id": c.SubscriptionID,
	}); len(missing) > 0 {
		return providers.CredentialsError(models.ProviderAzure, missing...)
	}

	errs := deperrors.NewCollector("")
	client, err := p.clients(c)
	if err != nil {
		errs.Add(providers.CallError(models.ProviderAzure, "azidentity:ClientSecretCredential", err, p.opts.CallTimeout))
		return models.ProviderResult{Errors: errs.Errors()}
	}

	var raws []models.RawResource
	guard := providers.NewPageGuard(models.ProviderAzure, listOp, p.opts.MaxPages)
	pager := client.NewListPager(&armresources.ClientListOptions{
		Expand: to.Ptr("provisioningState"),
		Top:    to.Ptr(int32(p.opts.PageSize)),
	})
	for guard.Next(pager.More()) {
		page, err := pager.NextPage(ctx)
		if err != nil {
			errs.Add(providers.CallError(models.ProviderAzure, listOp, err, p.opts.CallTimeout))
			break
		}
		for _, res := range page.Value {
			if raw, ok := toRaw(c.SubscriptionID, res); ok {
				raws = append(raws, raw)
			}
		}
	}
	errs.Add(guard.Err())

	nodes, dropped := mapper.MapAll(raws)
	p.log.WithContext(ctx).Info("azure discovery finished",
		logger.UserID(userID),
		logger.Int("nodes", len(nodes)),
		logger.Int("unmapped", dropped),
		logger.Int("pages", guard.Pages()),
	)
	return models.ProviderResult{Nodes: nodes, Errors: errs.Errors()}
}

func toRaw(subscriptionID string, res *armresources.GenericResourceExpanded) (models.RawResource, bool) {
	if res == nil || res.ID == nil || res.Type == nil {
		return models.RawResource{}, false
	}
	id := *res.ID
	name := deref(res.Name)
	resourceType := strings.ToLower(*res.Type)

	meta := map[string]any{"subscription_id": subscriptionID}
	if rid, err := arm.ParseResourceID(id); err == nil {
		meta[models.MetaResourceGroup] = rid.ResourceGroupName
	}
	if len(res.Tags) > 0 {
		tags := make(map[string]string, len(res.Tags))
		for k, v := range res.Tags {
			tags[k] = deref(v)
		}
		meta[models.MetaLabels] = tags
	}

	raw := models.RawResource{
		Provider:   models.ProviderAzure,
		NativeType: resourceType,
		Kind:       deref(res.Kind),
		ID:         id,
		Name:       name,
		Region:     deref(res.Location),
		Status:     deref(res.ProvisioningState),
		Metadata:   meta,
	}
	if suffix, ok := dnsSuffixes[resourceType]; ok && name != "" {
		raw.Endpoint = strings.ToLower(name) + "." + suffix
		meta[models.MetaHostnames] = []string{raw.Endpoint}
	}
	return raw, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

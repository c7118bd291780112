package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appservice/armappservice"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v4"

	"github.com/catherinevee/depmgr/internal/models"
)

// NSGGetter is the subset of armnetwork.SecurityGroupsClient used here
type NSGGetter interface {
	Get(ctx context.Context, resourceGroupName, networkSecurityGroupName string, options *armnetwork.SecurityGroupsClientGetOptions) (armnetwork.SecurityGroupsClientGetResponse, error)
}

// InterfaceLister is the subset of armnetwork.InterfacesClient used here
type InterfaceLister interface {
	NewListPager(resourceGroupName string, options *armnetwork.InterfacesClientListOptions) *runtime.Pager[armnetwork.InterfacesClientListResponse]
}

// AppSettingsReader is the subset of armappservice.WebAppsClient used here
type AppSettingsReader interface {
	ListApplicationSettings(ctx context.Context, resourceGroupName, name string, options *armappservice.WebAppsClientListApplicationSettingsOptions) (armappservice.WebAppsClientListApplicationSettingsResponse, error)
}

// VaultGetter is the subset of armkeyvault.VaultsClient used here
type VaultGetter interface {
	Get(ctx context.Context, resourceGroupName, vaultName string, options *armkeyvault.VaultsClientGetOptions) (armkeyvault.VaultsClientGetResponse, error)
}

// Clients bundles the management clients of one subscription. A nil field
// disables the category that needs it.
type Clients struct {
	NSGs       NSGGetter
	Interfaces InterfaceLister
	WebApps    AppSettingsReader
	Vaults     VaultGetter
}

// ClientFactory opens the clients of a subscription
type ClientFactory func(creds models.AzureCredentials) (*Clients, error)

// NewClients is the SDK-backed ClientFactory
func NewClients(creds models.AzureCredentials) (*Clients, error) {
	cred, err := azidentity.NewClientSecretCredential(creds.TenantID, creds.ClientID, creds.ClientSecret, nil)
	if err != nil {
		return nil, err
	}
	nsgs, err := armnetwork.NewSecurityGroupsClient(creds.SubscriptionID, cred, nil)
	if err != nil {
		return nil, err
	}
	nics, err := armnetwork.NewInterfacesClient(creds.SubscriptionID, cred, nil)
	if err != nil {
		return nil, err
	}
	webApps, err := armappservice.NewWebAppsClient(creds.SubscriptionID, cred, nil)
	if err != nil {
		return nil, err
	}
	vaults, err := armkeyvault.NewVaultsClient(creds.SubscriptionID, cred, nil)
	if err != nil {
		return nil, err
	}
	return &Clients{NSGs: nsgs, Interfaces: nics, WebApps: webApps, Vaults: vaults}, nil
}

package models

// Credentials is the per-provider configuration of one user. A nil section
// means the provider is not connected.
type Credentials struct {
	AWS       *AWSCredentials       `yaml:"aws,omitempty" json:"aws,omitempty"`
	Azure     *AzureCredentials     `yaml:"azure,omitempty" json:"azure,omitempty"`
	GCP       *GCPCredentials       `yaml:"gcp,omitempty" json:"gcp,omitempty"`
	OVH       *OVHCredentials       `yaml:"ovh,omitempty" json:"ovh,omitempty"`
	Scaleway  *ScalewayCredentials  `yaml:"scaleway,omitempty" json:"scaleway,omitempty"`
	Tailscale *TailscaleCredentials `yaml:"tailscale,omitempty" json:"tailscale,omitempty"`
	OnPrem    []OnPremCluster       `yaml:"onprem,omitempty" json:"onprem,omitempty" validate:"dive"`
}

// AWSCredentials configures the AWS adapters
type AWSCredentials struct {
	AccessKeyID     string       `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string       `yaml:"secret_access_key" json:"secret_access_key"`
	SessionToken    string       `yaml:"session_token,omitempty" json:"session_token,omitempty"`
	Region          string       `yaml:"region" json:"region"`
	Regions         []string     `yaml:"regions,omitempty" json:"regions,omitempty"`
	Accounts        []AWSAccount `yaml:"accounts,omitempty" json:"accounts,omitempty" validate:"dive"`
}

// AllRegions returns Regions, falling back to Region
func (c AWSCredentials) AllRegions() []string {
	if len(c.Regions) > 0 {
		return c.Regions
	}
	if c.Region != "" {
		return []string{c.Region}
	}
	return []string{"us-east-1"}
}

// AWSAccount is an additional account reached by assuming RoleARN
type AWSAccount struct {
	AccountID  string `yaml:"account_id" json:"account_id" validate:"required"`
	RoleARN    string `yaml:"role_arn" json:"role_arn" validate:"required"`
	ExternalID string `yaml:"external_id,omitempty" json:"external_id,omitempty"`
}

// AzureCredentials configures the Azure adapters with a service principal
type AzureCredentials struct {
	TenantID       string `yaml:"tenant_id" json:"tenant_id"`
	ClientID       string `yaml:"client_id" json:"client_id"`
	ClientSecret   string `yaml:"client_secret" json:"client_secret"`
	SubscriptionID string `yaml:"subscription_id" json:"subscription_id"`
}

// GCPCredentials lists the projects to scan. An empty CredentialsFile uses
// application default credentials.
type GCPCredentials struct {
	ProjectIDs      []string `yaml:"project_ids" json:"project_ids"`
	CredentialsFile string   `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`
}

// OVHCredentials configures the OVH public cloud adapter
type OVHCredentials struct {
	ProjectID         string `yaml:"project_id" json:"project_id"`
	Region            string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint          string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	ApplicationKey    string `yaml:"application_key" json:"application_key"`
	ApplicationSecret string `yaml:"application_secret" json:"application_secret"`
	ConsumerKey       string `yaml:"consumer_key" json:"consumer_key"`
}

// ScalewayCredentials configures the scw CLI invocations
type ScalewayCredentials struct {
	ProjectID string `yaml:"project_id" json:"project_id"`
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key,omitempty" json:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty" json:"secret_key,omitempty"`
}

// TailscaleCredentials configures the Tailscale API client
type TailscaleCredentials struct {
	APIKey  string `yaml:"api_key" json:"api_key"`
	Tailnet string `yaml:"tailnet" json:"tailnet"`
}

// OnPremCluster is a cluster reachable through the kubeconfig bridge
type OnPremCluster struct {
	ClusterID   string `yaml:"cluster_id" json:"cluster_id" validate:"required"`
	ClusterName string `yaml:"cluster_name" json:"cluster_name"`
}

// Package tailscale discovers the devices of a tailnet through the
// Tailscale control API.
package tailscale

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

const (
	// DefaultBaseURL is the public control plane
	DefaultBaseURL = "https://api.tailscale.com"
	devicesOp      = "GET /devices"
	onlineWindow   = 10 * time.Minute
)

// Provider is the Tailscale Phase 1 adapter
type Provider struct {
	opts    providers.Options
	baseURL string
	client  *retryablehttp.Client
	now     func() time.Time
	log     logger.Logger
}

// New creates the Tailscale adapter. An empty baseURL selects the public API.
func New(opts providers.Options, baseURL string) *Provider {
	opts = opts.WithDefaults()
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	log := opts.Logger.WithFields(logger.Provider(models.ProviderTailscale))

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = opts.CallTimeout
	client.Logger = leveledLogger{log}

	return &Provider{
		opts:    opts,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		now:     time.Now,
		log:     log,
	}
}

// Name implements providers.Provider
func (p *Provider) Name() string { return models.ProviderTailscale }

// Connected implements providers.Provider
func (p *Provider) Connected(creds models.Credentials) bool {
	return creds.Tailscale != nil
}

type device struct {
	ID                 string   `json:"id"`
	NodeID             string   `json:"nodeId"`
	Name               string   `json:"name"`
	Hostname           string   `json:"hostname"`
	Addresses          []string `json:"addresses"`
	OS                 string   `json:"os"`
	LastSeen           string   `json:"lastSeen"`
	ConnectedToControl *bool    `json:"connectedToControl"`
	Tags               []string `json:"tags"`
}

type devicesResponse struct {
	Devices []device `json:"devices"`
}

// Discover implements providers.Provider
func (p *Provider) Discover(ctx context.Context, userID string, creds models.Credentials) models.ProviderResult {
	if creds.Tailscale == nil {
		return models.ProviderResult{}
	}
	c := *creds.Tailscale
	if c.APIKey == "" {
		return providers.CredentialsError(models.ProviderTailscale, "api_key")
	}
	tailnet := c.Tailnet
	if tailnet == "" {
		tailnet = "-"
	}

	errs := deperrors.NewCollector("")
	devices, err := p.devices(ctx, c.APIKey, tailnet)
	if err != nil {
		errs.Add(err)
		return models.ProviderResult{Errors: errs.Errors()}
	}

	raws := make([]models.RawResource, 0, len(devices))
	for _, d := range devices {
		if raw, ok := p.toRaw(tailnet, d); ok {
			raws = append(raws, raw)
		}
	}
	nodes, _ := mapper.MapAll(raws)
	p.log.WithContext(ctx).Info("tailscale discovery finished",
		logger.UserID(userID),
		logger.String("tailnet", tailnet),
		logger.Int("nodes", len(nodes)),
	)
	return models.ProviderResult{Nodes: nodes, Errors: errs.Errors()}
}

func (p *Provider) devices(ctx context.Context, apiKey, tailnet string) ([]device, error) {
	endpoint := fmt.Sprintf("%s/api/v2/tailnet/%s/devices", p.baseURL, url.PathEscape(tailnet))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, deperrors.NewError(deperrors.ErrorTypeInternal, "could not build devices request").
			WithProvider(models.ProviderTailscale).WithWrapped(err).Build()
	}
	req.SetBasicAuth(apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, providers.CallError(models.ProviderTailscale, devicesOp, err, p.opts.CallTimeout)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, providers.CallError(models.ProviderTailscale, devicesOp, err, p.opts.CallTimeout)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, deperrors.NewExternalCallFailure(models.ProviderTailscale, devicesOp,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out devicesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, deperrors.NewParseFailure(models.ProviderTailscale, devicesOp, err)
	}
	return out.Devices, nil
}

func (p *Provider) toRaw(tailnet string, d device) (models.RawResource, bool) {
	id := d.NodeID
	if id == "" {
		id = d.ID
	}
	if id == "" {
		return models.RawResource{}, false
	}
	name := d.Hostname
	if name == "" {
		name = strings.SplitN(d.Name, ".", 2)[0]
	}

	var ips []string
	for _, a := range d.Addresses {
		if _, err := netip.ParseAddr(a); err == nil {
			ips = append(ips, a)
		}
	}
	online := p.online(d)
	meta := map[string]any{
		models.MetaTailnet: tailnet,
		models.MetaOnline:  online,
		"os":               d.OS,
	}
	if len(ips) > 0 {
		meta[models.MetaPrivateIPs] = ips
	}
	if d.Name != "" {
		meta[models.MetaHostnames] = []string{d.Name}
	}
	if len(d.Tags) > 0 {
		meta["tags"] = d.Tags
	}

	status := "offline"
	if online {
		status = "online"
	}
	raw := models.RawResource{
		Provider:    models.ProviderTailscale,
		NativeType:  "tailscale:device",
		ID:          "tailscale:" + tailnet + ":" + id,
		Name:        name,
		DisplayName: d.Name,
		Status:      status,
		Metadata:    meta,
	}
	if len(ips) > 0 {
		raw.Endpoint = ips[0]
	}
	return raw, true
}

func (p *Provider) online(d device) bool {
	if d.ConnectedToControl != nil {
		return *d.ConnectedToControl
	}
	seen, err := time.Parse(time.RFC3339, d.LastSeen)
	if err != nil {
		return false
	}
	return p.now().Sub(seen) <= onlineWindow
}

// leveledLogger routes retryablehttp logs through the structured logger
type leveledLogger struct {
	log logger.Logger
}

func (l leveledLogger) fields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error(msg, l.fields(kv)...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug(msg, l.fields(kv)...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debug(msg, l.fields(kv)...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn(msg, l.fields(kv)...) }

// Package onprem discovers self-managed Kubernetes clusters and their nodes
// through kubeconfig contexts.
package onprem

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/catherinevee/depmgr/internal/kube"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

const listNodesOp = "nodes:List"

// Provider is the on-prem Phase 1 adapter
type Provider struct {
	opts      providers.Options
	connector kube.Connector
	log       logger.Logger
}

// New creates the on-prem adapter
func New(opts providers.Options, connector kube.Connector) *Provider {
	opts = opts.WithDefaults()
	return &Provider{
		opts:      opts,
		connector: connector,
		log:       opts.Logger.WithFields(logger.Provider(models.ProviderOnPrem)),
	}
}

// Name implements providers.Provider
func (p *Provider) Name() string { return models.ProviderOnPrem }

// Connected implements providers.Provider
func (p *Provider) Connected(creds models.Credentials) bool {
	return len(creds.OnPrem) > 0
}

// ClusterID returns the cloud resource id used for an on-prem cluster node
func ClusterID(clusterID string) string {
	return "onprem://" + clusterID
}

// Discover implements providers.Provider. Every configured cluster yields a
// cluster node even when it cannot be reached.
func (p *Provider) Discover(ctx context.Context, userID string, creds models.Credentials) models.ProviderResult {
	errs := deperrors.NewCollector("")
	var raws []models.RawResource

	for _, cl := range creds.OnPrem {
		if cl.ClusterID == "" {
			errs.Add(deperrors.NewCredentialsMissing(models.ProviderOnPrem, "cluster_id"))
			continue
		}
		name := cl.ClusterName
		if name == "" {
			name = cl.ClusterID
		}
		cluster := models.RawResource{
			Provider:   models.ProviderOnPrem,
			NativeType: "onprem:cluster",
			ID:         ClusterID(cl.ClusterID),
			Name:       name,
			Status:     "unknown",
			Metadata: map[string]any{
				models.MetaCluster: cl.ClusterID,
				"kube_context":     cl.ClusterID,
			},
		}

		nodes, err := p.listNodes(ctx, cl.ClusterID)
		if err != nil {
			e := providers.CallError(models.ProviderOnPrem, listNodesOp, err, p.opts.CallTimeout)
			var de *deperrors.DepError
			if deperrors.As(e, &de) && de.Resource == "" {
				de.Resource = cl.ClusterID
			}
			errs.Add(e)
		} else {
			cluster.Status = "reachable"
		}
		raws = append(raws, cluster)
		raws = append(raws, nodes...)
	}

	out, _ := mapper.MapAll(raws)
	p.log.WithContext(ctx).Info("on-prem discovery finished",
		logger.UserID(userID),
		logger.Int("clusters", len(creds.OnPrem)),
		logger.Int("nodes", len(out)),
	)
	return models.ProviderResult{Nodes: out, Errors: errs.Errors()}
}

func (p *Provider) listNodes(ctx context.Context, clusterID string) ([]models.RawResource, error) {
	if p.connector == nil {
		return nil, kube.ErrUnknownCluster
	}
	cs, err := p.connector.Clientset(clusterID)
	if err != nil {
		return nil, err
	}

	var out []models.RawResource
	guard := providers.NewPageGuard(models.ProviderOnPrem, listNodesOp, p.opts.MaxPages)
	opts := metav1.ListOptions{Limit: int64(p.opts.PageSize)}
	for more := true; guard.Next(more); {
		list, err := cs.CoreV1().Nodes().List(ctx, opts)
		if err != nil {
			return out, err
		}
		for i := range list.Items {
			out = append(out, nodeRaw(clusterID, &list.Items[i]))
		}
		opts.Continue = list.Continue
		more = list.Continue != ""
	}
	return out, guard.Err()
}

func nodeRaw(clusterID string, n *corev1.Node) models.RawResource {
	var internal, external, hosts []string
	for _, addr := range n.Status.Addresses {
		switch addr.Type {
		case corev1.NodeInternalIP:
			internal = append(internal, addr.Address)
		case corev1.NodeExternalIP:
			external = append(external, addr.Address)
		case corev1.NodeHostName, corev1.NodeInternalDNS:
			hosts = append(hosts, addr.Address)
		}
	}
	meta := map[string]any{models.MetaCluster: clusterID}
	if len(internal) > 0 {
		meta[models.MetaPrivateIPs] = internal
	}
	if len(external) > 0 {
		meta[models.MetaPublicIPs] = external
	}
	if len(hosts) > 0 {
		meta[models.MetaHostnames] = hosts
	}
	if len(n.Labels) > 0 {
		meta[models.MetaLabels] = n.Labels
	}

	status := "NotReady"
	for _, c := range n.Status.Conditions {
		if c.Type == corev1.NodeReady && c.Status == corev1.ConditionTrue {
			status = "Ready"
		}
	}
	raw := models.RawResource{
		Provider:   models.ProviderOnPrem,
		NativeType: "onprem:node",
		ID:         ClusterID(clusterID) + "/node/" + n.Name,
		Name:       n.Name,
		Status:     status,
		Metadata:   meta,
	}
	if len(internal) > 0 {
		raw.Endpoint = internal[0]
	}
	return raw
}

// Package kubernetes enriches discovered clusters with their in-cluster
// services, workloads, ingresses and container environments.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	k8s "k8s.io/client-go/kubernetes"

	"github.com/catherinevee/depmgr/internal/enrichment"
	"github.com/catherinevee/depmgr/internal/kube"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

// Enricher is the Kubernetes Phase 2 adapter
type Enricher struct {
	connector kube.Connector
	opts      providers.Options
	log       logger.Logger
}

// New creates the Kubernetes enricher
func New(connector kube.Connector, opts providers.Options) *Enricher {
	opts = opts.WithDefaults()
	return &Enricher{
		connector: connector,
		opts:      opts,
		log:       opts.Logger.WithFields(logger.String("enricher", enrichment.NameKubernetes)),
	}
}

// Name implements enrichment.Enricher
func (e *Enricher) Name() string { return enrichment.NameKubernetes }

// Enrich implements enrichment.Enricher. Only clusters the connector knows
// are inspected; the others are skipped without error.
func (e *Enricher) Enrich(ctx context.Context, userID string, nodes []models.ServiceNode, creds models.Credentials) models.EnrichmentResult {
	var result models.EnrichmentResult
	if e.connector == nil {
		return result
	}
	errs := deperrors.NewCollector("")

	for _, cluster := range enrichment.Filter(nodes, enrichment.OfType(models.ResourceTypeKubernetesCluster)) {
		cs, err := e.connect(cluster)
		if errors.Is(err, kube.ErrUnknownCluster) {
			e.log.Debug("cluster not in kubeconfig", logger.String("cluster", cluster.Name))
			continue
		}
		if err != nil {
			errs.Add(clusterError(cluster.Name, "connect", err))
			continue
		}
		snap, err := e.snapshot(ctx, cs)
		if err != nil {
			errs.Add(clusterError(cluster.Name, "list", err))
		}
		build(cluster, snap, &result)
	}

	result.Errors = errs.Errors()
	e.log.WithContext(ctx).Info("kubernetes enrichment finished",
		logger.UserID(userID),
		logger.Int("nodes", len(result.Nodes)),
		logger.Int("relationships", len(result.Relationships)),
		logger.Int("env_var_sets", len(result.Data.EnvVars)),
	)
	return result
}

func clusterError(cluster, op string, err error) error {
	return deperrors.NewError(deperrors.ErrorTypeExternalCall, op+" failed").
		WithProvider(models.ProviderKubernetes).
		WithOperation(op).
		WithResource(cluster).
		WithWrapped(err).
		Build()
}

// connect tries the explicit context, the cloud resource id (EKS contexts
// are named by ARN) and finally the node name.
func (e *Enricher) connect(cluster models.ServiceNode) (k8s.Interface, error) {
	candidates := []string{cluster.MetaString("kube_context"), cluster.CloudResourceID, cluster.Name}
	var last error = kube.ErrUnknownCluster
	for _, c := range candidates {
		if c == "" {
			continue
		}
		cs, err := e.connector.Clientset(c)
		if err == nil {
			return cs, nil
		}
		if !errors.Is(err, kube.ErrUnknownCluster) {
			return nil, err
		}
		last = err
	}
	return nil, last
}

type snapshot struct {
	services     []corev1.Service
	deployments  []appsv1.Deployment
	statefulSets []appsv1.StatefulSet
	daemonSets   []appsv1.DaemonSet
	ingresses    []networkingv1.Ingress
	configMaps   map[string]map[string]string
}

func listAll[T any](ctx context.Context, o providers.Options, op string, fetch func(context.Context, metav1.ListOptions) ([]T, string, error)) ([]T, error) {
	var out []T
	guard := providers.NewPageGuard(models.ProviderKubernetes, op, o.MaxPages)
	opts := metav1.ListOptions{Limit: int64(o.PageSize)}
	for more := true; guard.Next(more); {
		items, next, err := fetch(ctx, opts)
		if err != nil {
			return out, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, items...)
		opts.Continue = next
		more = next != ""
	}
	return out, guard.Err()
}

func (e *Enricher) snapshot(ctx context.Context, cs k8s.Interface) (*snapshot, error) {
	s := &snapshot{configMaps: make(map[string]map[string]string)}
	var errs []error

	var err error
	s.services, err = listAll(ctx, e.opts, "services", func(ctx context.Context, o metav1.ListOptions) ([]corev1.Service, string, error) {
		l, err := cs.CoreV1().Services(metav1.NamespaceAll).List(ctx, o)
		if err != nil {
			return nil, "", err
		}
		return l.Items, l.Continue, nil
	})
	errs = append(errs, err)

	s.deployments, err = listAll(ctx, e.opts, "deployments", func(ctx context.Context, o metav1.ListOptions) ([]appsv1.Deployment, string, error) {
		l, err := cs.AppsV1().Deployments(metav1.NamespaceAll).List(ctx, o)
		if err != nil {
			return nil, "", err
		}
		return l.Items, l.Continue, nil
	})
	errs = append(errs, err)

	s.statefulSets, err = listAll(ctx, e.opts, "statefulsets", func(ctx context.Context, o metav1.ListOptions) ([]appsv1.StatefulSet, string, error) {
		l, err := cs.AppsV1().StatefulSets(metav1.NamespaceAll).List(ctx, o)
		if err != nil {
			return nil, "", err
		}
		return l.Items, l.Continue, nil
	})
	errs = append(errs, err)

	s.daemonSets, err = listAll(ctx, e.opts, "daemonsets", func(ctx context.Context, o metav1.ListOptions) ([]appsv1.DaemonSet, string, error) {
		l, err := cs.AppsV1().DaemonSets(metav1.NamespaceAll).List(ctx, o)
		if err != nil {
			return nil, "", err
		}
		return l.Items, l.Continue, nil
	})
	errs = append(errs, err)

	s.ingresses, err = listAll(ctx, e.opts, "ingresses", func(ctx context.Context, o metav1.ListOptions) ([]networkingv1.Ingress, string, error) {
		l, err := cs.NetworkingV1().Ingresses(metav1.NamespaceAll).List(ctx, o)
		if err != nil {
			return nil, "", err
		}
		return l.Items, l.Continue, nil
	})
	errs = append(errs, err)

	cms, err := listAll(ctx, e.opts, "configmaps", func(ctx context.Context, o metav1.ListOptions) ([]corev1.ConfigMap, string, error) {
		l, err := cs.CoreV1().ConfigMaps(metav1.NamespaceAll).List(ctx, o)
		if err != nil {
			return nil, "", err
		}
		return l.Items, l.Continue, nil
	})
	errs = append(errs, err)
	for _, cm := range cms {
		s.configMaps[cm.Namespace+"/"+cm.Name] = cm.Data
	}

	return s, errors.Join(errs...)
}

// workload is the common view of deployments, statefulsets and daemonsets
type workload struct {
	kind      string
	name      string
	namespace string
	labels    map[string]string
	template  corev1.PodTemplateSpec
	ready     bool
}

func (s *snapshot) workloads() []workload {
	var out []workload
	for _, d := range s.deployments {
		out = append(out, workload{"deployment", d.Name, d.Namespace, d.Labels, d.Spec.Template,
			d.Status.AvailableReplicas > 0})
	}
	for _, st := range s.statefulSets {
		out = append(out, workload{"statefulset", st.Name, st.Namespace, st.Labels, st.Spec.Template,
			st.Status.ReadyReplicas > 0})
	}
	for _, ds := range s.daemonSets {
		out = append(out, workload{"daemonset", ds.Name, ds.Namespace, ds.Labels, ds.Spec.Template,
			ds.Status.NumberReady > 0})
	}
	return out
}

func objectID(clusterID, namespace, kind, name string) string {
	return fmt.Sprintf("k8s://%s/%s/%s/%s", clusterID, namespace, kind, name)
}

func build(cluster models.ServiceNode, s *snapshot, result *models.EnrichmentResult) {
	if s == nil {
		return
	}
	clusterID := cluster.CloudResourceID
	var raws []models.RawResource

	type svcRef struct {
		id       string
		selector labels.Selector
	}
	services := make(map[string][]svcRef)
	serviceIDs := make(map[string]string)

	for _, svc := range s.services {
		id := objectID(clusterID, svc.Namespace, "service", svc.Name)
		fqdn := fmt.Sprintf("%s.%s.svc.cluster.local", svc.Name, svc.Namespace)
		meta := map[string]any{
			models.MetaNamespace: svc.Namespace,
			models.MetaK8sName:   svc.Name,
			models.MetaCluster:   cluster.Name,
			models.MetaHostnames: []string{fqdn},
		}
		if len(svc.Spec.Selector) > 0 {
			meta[models.MetaSelector] = copyMap(svc.Spec.Selector)
		}
		if len(svc.Spec.Ports) > 0 {
			meta[models.MetaPort] = int(svc.Spec.Ports[0].Port)
		}
		endpoint := ""
		if ip := svc.Spec.ClusterIP; ip != "" && ip != corev1.ClusterIPNone {
			meta[models.MetaPrivateIPs] = []string{ip}
			endpoint = ip
		}
		var public, hosts []string
		for _, ing := range svc.Status.LoadBalancer.Ingress {
			if ing.IP != "" {
				public = append(public, ing.IP)
			}
			if ing.Hostname != "" {
				hosts = append(hosts, ing.Hostname)
			}
		}
		if len(public) > 0 {
			meta[models.MetaPublicIPs] = public
		}
		if len(hosts) > 0 {
			meta[models.MetaHostnames] = append([]string{fqdn}, hosts...)
		}
		raws = append(raws, models.RawResource{
			Provider:   models.ProviderKubernetes,
			NativeType: "k8s:service",
			ID:         id,
			Name:       svc.Name,
			Region:     cluster.Region,
			Endpoint:   endpoint,
			Status:     string(svc.Spec.Type),
			Metadata:   meta,
		})
		serviceIDs[svc.Namespace+"/"+svc.Name] = id
		if len(svc.Spec.Selector) > 0 {
			services[svc.Namespace] = append(services[svc.Namespace], svcRef{id, labels.SelectorFromSet(svc.Spec.Selector)})
		}
	}

	for _, w := range s.workloads() {
		id := objectID(clusterID, w.namespace, w.kind, w.name)
		status := "unavailable"
		if w.ready {
			status = "available"
		}
		meta := map[string]any{
			models.MetaNamespace: w.namespace,
			models.MetaK8sName:   w.name,
			models.MetaCluster:   cluster.Name,
		}
		if len(w.template.Labels) > 0 {
			meta[models.MetaLabels] = copyMap(w.template.Labels)
		}
		raws = append(raws, models.RawResource{
			Provider:   models.ProviderKubernetes,
			NativeType: "k8s:" + w.kind,
			ID:         id,
			Name:       w.name,
			Region:     cluster.Region,
			Status:     status,
			Metadata:   meta,
		})

		if env := s.environment(w); len(env) > 0 {
			if result.Data.EnvVars == nil {
				result.Data.EnvVars = make(map[string]map[string]string)
			}
			// keyed by object id; workload names repeat across namespaces
			if result.Data.EnvVars[id] == nil {
				result.Data.EnvVars[id] = make(map[string]string, len(env))
			}
			for k, v := range env {
				result.Data.EnvVars[id][k] = v
			}
		}

		podLabels := labels.Set(w.template.Labels)
		for _, ref := range services[w.namespace] {
			if len(podLabels) > 0 && ref.selector.Matches(podLabels) {
				result.Relationships = append(result.Relationships, models.Relationship{
					SourceID: ref.id,
					TargetID: id,
					Type:     mapper.RelationshipServiceToWorkload,
					Provider: models.ProviderKubernetes,
				})
			}
		}
	}

	for _, ing := range s.ingresses {
		id := objectID(clusterID, ing.Namespace, "ingress", ing.Name)
		var hosts []string
		backends := make(map[string]bool)
		if b := ing.Spec.DefaultBackend; b != nil && b.Service != nil {
			backends[b.Service.Name] = true
		}
		for _, rule := range ing.Spec.Rules {
			if rule.Host != "" {
				hosts = append(hosts, rule.Host)
			}
			if rule.HTTP == nil {
				continue
			}
			for _, path := range rule.HTTP.Paths {
				if path.Backend.Service != nil {
					backends[path.Backend.Service.Name] = true
				}
			}
		}
		meta := map[string]any{
			models.MetaNamespace: ing.Namespace,
			models.MetaK8sName:   ing.Name,
			models.MetaCluster:   cluster.Name,
		}
		if len(hosts) > 0 {
			meta[models.MetaHostnames] = hosts
		}
		endpoint := ""
		for _, lb := range ing.Status.LoadBalancer.Ingress {
			if lb.IP != "" {
				meta[models.MetaPublicIPs] = []string{lb.IP}
				endpoint = lb.IP
				break
			}
			if lb.Hostname != "" {
				endpoint = lb.Hostname
				break
			}
		}
		raws = append(raws, models.RawResource{
			Provider:   models.ProviderKubernetes,
			NativeType: "k8s:ingress",
			ID:         id,
			Name:       ing.Name,
			Region:     cluster.Region,
			Endpoint:   endpoint,
			Metadata:   meta,
		})

		names := make([]string, 0, len(backends))
		for name := range backends {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if target, ok := serviceIDs[ing.Namespace+"/"+name]; ok {
				result.Relationships = append(result.Relationships, models.Relationship{
					SourceID: id,
					TargetID: target,
					Type:     mapper.RelationshipIngressToService,
					Provider: models.ProviderKubernetes,
				})
			}
		}
	}

	nodes, _ := mapper.MapAll(raws)
	result.Nodes = append(result.Nodes, nodes...)
}

// environment flattens literal env vars and envFrom ConfigMaps of every
// container. Later containers win on conflicts.
func (s *snapshot) environment(w workload) map[string]string {
	env := make(map[string]string)
	containers := append(append([]corev1.Container(nil), w.template.Spec.InitContainers...), w.template.Spec.Containers...)
	for _, c := range containers {
		for _, from := range c.EnvFrom {
			if from.ConfigMapRef == nil {
				continue
			}
			for k, v := range s.configMaps[w.namespace+"/"+from.ConfigMapRef.Name] {
				env[from.Prefix+k] = v
			}
		}
		for _, v := range c.Env {
			switch {
			case v.Value != "":
				env[v.Name] = v.Value
			case v.ValueFrom != nil && v.ValueFrom.ConfigMapKeyRef != nil:
				ref := v.ValueFrom.ConfigMapKeyRef
				if val, ok := s.configMaps[w.namespace+"/"+ref.Name][ref.Key]; ok {
					env[v.Name] = val
				}
			}
		}
	}
	return env
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

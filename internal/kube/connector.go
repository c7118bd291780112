// Package kube opens Kubernetes clients for clusters named by kubeconfig
// context.
package kube

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// ErrUnknownCluster is returned when no kubeconfig context matches a cluster
var ErrUnknownCluster = errors.New("no kubeconfig context for cluster")

// Connector returns a client for a cluster
type Connector interface {
	Clientset(cluster string) (kubernetes.Interface, error)
}

// KubeconfigConnector resolves clusters against kubeconfig contexts. An
// empty Path uses the default loading rules (KUBECONFIG, ~/.kube/config).
type KubeconfigConnector struct {
	Path    string
	Timeout time.Duration

	mu      sync.Mutex
	clients map[string]kubernetes.Interface
}

// NewKubeconfigConnector creates a connector
func NewKubeconfigConnector(path string, timeout time.Duration) *KubeconfigConnector {
	return &KubeconfigConnector{Path: path, Timeout: timeout, clients: make(map[string]kubernetes.Interface)}
}

func (c *KubeconfigConnector) rules() *clientcmd.ClientConfigLoadingRules {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if c.Path != "" {
		rules.ExplicitPath = c.Path
	}
	return rules
}

// Contexts lists the context names of the kubeconfig
func (c *KubeconfigConnector) Contexts() ([]string, error) {
	raw, err := c.rules().Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	names := make([]string, 0, len(raw.Contexts))
	for name := range raw.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Clientset implements Connector. Clients are cached per cluster.
func (c *KubeconfigConnector) Clientset(cluster string) (kubernetes.Interface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clients == nil {
		c.clients = make(map[string]kubernetes.Interface)
	}
	if cs, ok := c.clients[cluster]; ok {
		return cs, nil
	}

	rules := c.rules()
	raw, err := rules.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	if _, ok := raw.Contexts[cluster]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, cluster)
	}

	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules,
		&clientcmd.ConfigOverrides{CurrentContext: cluster}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build client config for %s: %w", cluster, err)
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset for %s: %w", cluster, err)
	}
	c.clients[cluster] = cs
	return cs, nil
}

// Static is a fixed cluster-to-client table
type Static map[string]kubernetes.Interface

// Clientset implements Connector
func (s Static) Clientset(cluster string) (kubernetes.Interface, error) {
	if cs, ok := s[cluster]; ok {
		return cs, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, cluster)
}

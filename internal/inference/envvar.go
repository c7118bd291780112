package inference

import (
	"net/netip"
	"strings"

	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
)

// keyHints classify a variable by its name when neither the port nor the
// target type decides
var keyHints = []struct {
	keyword string
	depType models.DependencyType
}{
	{"REDIS", models.DependencyCache},
	{"MEMCACHE", models.DependencyCache},
	{"CACHE", models.DependencyCache},
	{"POSTGRES", models.DependencyDatabase},
	{"MYSQL", models.DependencyDatabase},
	{"MONGO", models.DependencyDatabase},
	{"DATABASE", models.DependencyDatabase},
	{"DB_", models.DependencyDatabase},
	{"KAFKA", models.DependencyStreaming},
	{"QUEUE", models.DependencyQueue},
	{"AMQP", models.DependencyQueue},
	{"RABBIT", models.DependencyQueue},
	{"TOPIC", models.DependencyMessaging},
	{"ELASTIC", models.DependencySearch},
	{"SEARCH", models.DependencySearch},
	{"SECRET", models.DependencySecretAccess},
	{"VAULT", models.DependencySecretAccess},
	{"BUCKET", models.DependencyStorage},
}

// EnvVarEngine reads environment variables and app settings for
// references to other nodes: secret stores, storage buckets, and
// hostnames or URLs of any other service.
type EnvVarEngine struct{}

// Name implements Engine
func (EnvVarEngine) Name() string { return TagEnvVar }

// Infer implements Engine
func (EnvVarEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	if len(data.EnvVars) == 0 && len(data.AppSettings) == 0 {
		return nil
	}
	idx := NewIndex(nodes)
	out := newEdgeSet(TagEnvVar)

	visit := func(consumer, key, value string) {
		if !idx.Has(consumer) || strings.TrimSpace(value) == "" {
			return
		}
		if ref, ok := secretReference(value); ok {
			if m, found := resolveSecret(idx, ref); found {
				out.add(consumer, m.Name, models.DependencySecretAccess, ConfidenceSecretReference, m.Fuzzy, key)
			}
			return
		}
		if bucket, ok := bucketReference(key, value); ok {
			if m, found := resolveBucket(idx, bucket); found {
				out.add(consumer, m.Name, models.DependencyStorage, ConfidenceEnvBucket, m.Fuzzy, key)
			}
			return
		}
		if !looksLikeHost(value) {
			return
		}
		m, found := idx.Resolve(value)
		if !found {
			return
		}
		target, _ := idx.Node(m.Name)
		if target.ResourceType == models.ResourceTypeSecretStore {
			out.add(consumer, m.Name, models.DependencySecretAccess, ConfidenceSecretReference, m.Fuzzy, key)
			return
		}
		out.add(consumer, m.Name, hostDependency(key, value, target), ConfidenceEnvHostname, m.Fuzzy, key)
	}

	eachVar(data.EnvVars, visit)
	eachVar(data.AppSettings, visit)
	return out.sorted()
}

// secretReference extracts the secret store named by a value: a Key Vault
// reference or URI, a Secrets Manager ARN or a Secret Manager resource name
func secretReference(value string) (string, bool) {
	v := strings.TrimSpace(value)
	lower := strings.ToLower(v)
	switch {
	case strings.HasPrefix(lower, "@microsoft.keyvault("):
		inner := strings.TrimSuffix(v[len("@microsoft.keyvault("):], ")")
		for _, part := range strings.Split(inner, ";") {
			k, val, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(k)) {
			case "secreturi":
				return HostOf(val), true
			case "vaultname":
				return strings.ToLower(strings.TrimSpace(val)) + ".vault.azure.net", true
			}
		}
		return "", false
	case strings.Contains(lower, ".vault.azure.net"):
		return HostOf(v), true
	case strings.HasPrefix(lower, "arn:aws:secretsmanager:"):
		return v, true
	case strings.HasPrefix(lower, "projects/") && strings.Contains(lower, "/secrets/"):
		parts := strings.Split(v, "/")
		if len(parts) >= 4 {
			return "//secretmanager.googleapis.com/" + strings.Join(parts[:4], "/"), true
		}
	}
	return "", false
}

// resolveSecret also accepts a Secrets Manager ARN without the random
// suffix AWS appends to the secret name
func resolveSecret(idx *Index, ref string) (Match, bool) {
	if m, ok := idx.ResolveExact(ref); ok {
		return m, true
	}
	if strings.HasPrefix(ref, "arn:aws:secretsmanager:") {
		prefix := strings.ToLower(ref) + "-"
		for _, n := range idx.Nodes() {
			if strings.HasPrefix(strings.ToLower(n.CloudResourceID), prefix) {
				return Match{Name: n.Name}, true
			}
		}
	}
	return idx.Resolve(ref)
}

// bucketReference extracts a bucket name from s3://, gs:// or a *BUCKET* key
func bucketReference(key, value string) (string, bool) {
	v := strings.TrimSpace(value)
	for _, scheme := range []string{"s3://", "gs://"} {
		if strings.HasPrefix(strings.ToLower(v), scheme) {
			name := v[len(scheme):]
			if i := strings.Index(name, "/"); i >= 0 {
				name = name[:i]
			}
			return name, name != ""
		}
	}
	if strings.HasPrefix(v, "arn:aws:s3:::") {
		return v, true
	}
	if strings.Contains(strings.ToUpper(key), "BUCKET") && !strings.ContainsAny(v, " /:") {
		return v, true
	}
	return "", false
}

func resolveBucket(idx *Index, bucket string) (Match, bool) {
	if m, ok := idx.ResolveExact(bucket); ok {
		if n, _ := idx.Node(m.Name); n.ResourceType == models.ResourceTypeStorageBucket {
			return m, true
		}
	}
	for _, n := range idx.Nodes() {
		if n.ResourceType == models.ResourceTypeStorageBucket && strings.EqualFold(n.Name, bucket) {
			return Match{Name: n.Name}, true
		}
	}
	return Match{}, false
}

// looksLikeHost accepts URLs, IPs and dotted hostnames
func looksLikeHost(value string) bool {
	v := strings.TrimSpace(value)
	if strings.ContainsAny(v, " \t\n") {
		return false
	}
	if strings.Contains(v, "://") {
		return true
	}
	host := HostOf(v)
	if _, err := netip.ParseAddr(host); err == nil {
		return true
	}
	return strings.Contains(host, ".") && !strings.HasPrefix(host, ".") && !strings.HasSuffix(host, ".")
}

// hostDependency classifies a hostname reference by explicit port, then
// target type, then the variable name, then the URL scheme
func hostDependency(key, value string, target models.ServiceNode) models.DependencyType {
	if port, ok := PortOf(value); ok {
		if dt := portDependency(port); dt != models.DependencyNetwork {
			return dt
		}
	}
	if dt := dependencyFor(target, ""); dt != "" && dt != models.DependencyInvocation {
		return dt
	}
	upper := strings.ToUpper(key)
	for _, h := range keyHints {
		if strings.Contains(upper, h.keyword) {
			return h.depType
		}
	}
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return models.DependencyHTTP
	}
	return models.DependencyNetwork
}

func portDependency(port int) models.DependencyType {
	dt, _ := mapper.InferDependencyTypeFromPort(port)
	return dt
}

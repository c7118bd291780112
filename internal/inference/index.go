package inference

import (
	"net/netip"
	"net/url"
	"sort"
	"strings"

	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
)

// minFuzzyName keeps very short names out of substring matching
const minFuzzyName = 4

// ambiguous marks an address shared by several nodes
const ambiguous = -1

// Match is a resolved node name. Fuzzy marks the substring fallback.
type Match struct {
	Name  string
	Fuzzy bool
}

// Index resolves identity hints (ARNs, ids, IPs, hostnames, names) to
// node names. Nodes are indexed in name order so ambiguous hints always
// resolve the same way.
type Index struct {
	nodes   []models.ServiceNode
	byName  map[string]int
	byLower map[string]int
	byID    map[string]int
	byShort map[string][]int
	byAddr  map[string]int
	byURL   map[string]int
	byK8s   map[string]int
	aliases map[string][]string
	ips     []ipEntry
}

type ipEntry struct {
	addr netip.Addr
	node int
}

// NewIndex builds the lookup tables for nodes
func NewIndex(nodes []models.ServiceNode) *Index {
	sorted := append([]models.ServiceNode(nil), nodes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	idx := &Index{
		nodes:   sorted,
		byName:  make(map[string]int, len(sorted)),
		byLower: make(map[string]int, len(sorted)),
		byID:    make(map[string]int, len(sorted)),
		byShort: make(map[string][]int),
		byAddr:  make(map[string]int),
		byURL:   make(map[string]int),
		byK8s:   make(map[string]int),
		aliases: make(map[string][]string),
	}
	for i, n := range sorted {
		if n.Name == "" {
			continue
		}
		setOnce(idx.byName, n.Name, i)
		setOnce(idx.byLower, strings.ToLower(n.Name), i)
		if n.CloudResourceID != "" {
			id := strings.ToLower(n.CloudResourceID)
			setOnce(idx.byID, id, i)
			if short := strings.ToLower(mapper.ShortID(n.CloudResourceID)); short != "" && short != id {
				idx.byShort[short] = append(idx.byShort[short], i)
			}
		}

		for _, addr := range addresses(n) {
			if prev, ok := idx.byAddr[addr]; ok && prev != i {
				idx.byAddr[addr] = ambiguous
				continue
			}
			idx.byAddr[addr] = i
		}
		for _, u := range n.MetaStrings(models.MetaURLs) {
			setOnce(idx.byURL, normalizeURL(u), i)
		}
		for _, ip := range n.IPs() {
			if a, err := netip.ParseAddr(ip); err == nil {
				idx.ips = append(idx.ips, ipEntry{addr: a.Unmap(), node: i})
			}
		}

		if n.ResourceType == models.ResourceTypeK8sService {
			name := n.MetaString(models.MetaK8sName)
			if name == "" {
				name = n.Name
			}
			if ns := n.MetaString(models.MetaNamespace); ns != "" {
				setOnce(idx.byK8s, strings.ToLower(name+"."+ns), i)
			}
		}
	}
	return idx
}

func setOnce(m map[string]int, key string, i int) {
	if _, ok := m[key]; !ok {
		m[key] = i
	}
}

func normalizeURL(u string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(u)), "/")
}

// addresses returns the lowercase endpoint, IPs and hostnames of n.
// URLs are indexed whole since many services share one API host.
func addresses(n models.ServiceNode) []string {
	var out []string
	add := func(s string) {
		if s = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), ".")); s != "" {
			out = append(out, s)
		}
	}
	add(HostOf(n.Endpoint))
	for _, ip := range n.IPs() {
		add(ip)
	}
	for _, h := range n.MetaStrings(models.MetaHostnames) {
		add(h)
	}
	return out
}

// Nodes returns the indexed nodes in name order
func (x *Index) Nodes() []models.ServiceNode { return x.nodes }

// Node returns the node with the exact name
func (x *Index) Node(name string) (models.ServiceNode, bool) {
	i, ok := x.byName[name]
	if !ok {
		return models.ServiceNode{}, false
	}
	return x.nodes[i], true
}

// Has reports whether a node with the exact name exists
func (x *Index) Has(name string) bool {
	_, ok := x.byName[name]
	return ok
}

// Alias registers a structured name (a CloudMap "service.namespace", for
// example) that resolves to the given nodes.
func (x *Index) Alias(alias string, names ...string) {
	key := strings.ToLower(alias)
	for _, name := range names {
		if x.Has(name) {
			x.aliases[key] = appendUnique(x.aliases[key], name)
		}
	}
}

// ByID resolves an exact cloud resource id or ARN
func (x *Index) ByID(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	if i, ok := x.byID[strings.ToLower(id)]; ok {
		return x.nodes[i].Name, true
	}
	return "", false
}

// ByShortID resolves the last segment of an id ("i-0abc", "orders-bucket").
// Ambiguous short ids do not resolve.
func (x *Index) ByShortID(short string) (string, bool) {
	hits := x.byShort[strings.ToLower(short)]
	if len(hits) != 1 {
		return "", false
	}
	return x.nodes[hits[0]].Name, true
}

// ByAddress resolves an endpoint, IP or hostname
func (x *Index) ByAddress(addr string) (string, bool) {
	addr = strings.ToLower(strings.TrimSuffix(addr, "."))
	if addr == "" {
		return "", false
	}
	if i, ok := x.byAddr[addr]; ok && i != ambiguous {
		return x.nodes[i].Name, true
	}
	return "", false
}

// InPrefix returns the names of nodes with an IP inside prefix, sorted
func (x *Index) InPrefix(prefix netip.Prefix) []string {
	var out []string
	for _, e := range x.ips {
		if prefix.Contains(e.addr) {
			out = appendUnique(out, x.nodes[e.node].Name)
		}
	}
	sort.Strings(out)
	return out
}

// Resolve maps a hint to one node, trying in order: exact id, short id,
// endpoint or IP, Kubernetes service DNS name, registered alias, exact
// name, and finally a fuzzy substring or suffix match.
func (x *Index) Resolve(hint string) (Match, bool) {
	if m, ok := x.ResolveExact(hint); ok {
		return m, true
	}
	if name, ok := x.fuzzy(HostOf(hint)); ok {
		return Match{Name: name, Fuzzy: true}, true
	}
	return Match{}, false
}

// ResolveExact is Resolve without the fuzzy fallback
func (x *Index) ResolveExact(hint string) (Match, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return Match{}, false
	}
	if name, ok := x.ByID(hint); ok {
		return Match{Name: name}, true
	}
	if strings.Contains(hint, "://") {
		if i, ok := x.byURL[normalizeURL(hint)]; ok {
			return Match{Name: x.nodes[i].Name}, true
		}
	} else if name, ok := x.ByShortID(hint); ok {
		return Match{Name: name}, true
	}

	host := HostOf(hint)
	if name, ok := x.ByAddress(host); ok {
		return Match{Name: name}, true
	}
	if name, ok := x.k8sService(host); ok {
		return Match{Name: name}, true
	}
	if names := x.aliases[strings.ToLower(host)]; len(names) > 0 {
		return Match{Name: names[0]}, true
	}
	if i, ok := x.byLower[strings.ToLower(hint)]; ok {
		return Match{Name: x.nodes[i].Name}, true
	}
	return Match{}, false
}

// Aliased returns every node registered under alias, in registration order
func (x *Index) Aliased(alias string) []string {
	return x.aliases[strings.ToLower(alias)]
}

// k8sService matches svc.ns, svc.ns.svc and svc.ns.svc.cluster.local
func (x *Index) k8sService(host string) (string, bool) {
	host = strings.ToLower(host)
	host = strings.TrimSuffix(host, ".cluster.local")
	host = strings.TrimSuffix(host, ".svc")
	parts := strings.Split(host, ".")
	if len(parts) != 2 {
		return "", false
	}
	if i, ok := x.byK8s[host]; ok {
		return x.nodes[i].Name, true
	}
	return "", false
}

// fuzzy picks the node whose name is the longest substring of host, or
// whose address is a suffix of host. Ties go to the first name in order.
func (x *Index) fuzzy(host string) (string, bool) {
	host = strings.ToLower(host)
	if len(host) < minFuzzyName {
		return "", false
	}
	best, bestLen := -1, 0
	for i, n := range x.nodes {
		name := strings.ToLower(n.Name)
		if len(name) >= minFuzzyName && len(name) > bestLen && strings.Contains(host, name) {
			best, bestLen = i, len(name)
		}
		for _, addr := range addresses(n) {
			if len(addr) > bestLen && strings.HasSuffix(host, "."+addr) {
				best, bestLen = i, len(addr)
			}
		}
	}
	if best < 0 {
		return "", false
	}
	return x.nodes[best].Name, true
}

// HostOf extracts the host from a URL, connection string, host:port or
// bare hostname. Other strings are returned trimmed.
func HostOf(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if strings.Contains(v, "://") {
		if u, err := url.Parse(v); err == nil && u.Host != "" {
			return strings.TrimSuffix(u.Hostname(), ".")
		}
	}
	if strings.HasPrefix(v, "arn:") {
		return v
	}
	if i := strings.LastIndex(v, "@"); i >= 0 {
		v = v[i+1:]
	}
	if i := strings.IndexAny(v, "/?"); i >= 0 {
		v = v[:i]
	}
	if _, err := netip.ParseAddr(strings.Trim(v, "[]")); err == nil {
		return strings.Trim(v, "[]")
	}
	if ap, err := netip.ParseAddrPort(v); err == nil {
		return ap.Addr().String()
	}
	if i := strings.LastIndex(v, ":"); i > 0 && strings.Count(v, ":") == 1 {
		if _, ok := portOf(v[i+1:]); ok {
			v = v[:i]
		}
	}
	return strings.TrimSuffix(v, ".")
}

// PortOf returns the explicit port of a URL or host:port value
func PortOf(value string) (int, bool) {
	v := strings.TrimSpace(value)
	if strings.Contains(v, "://") {
		if u, err := url.Parse(v); err == nil && u.Host != "" {
			return portOf(u.Port())
		}
		return 0, false
	}
	if i := strings.LastIndex(v, "@"); i >= 0 {
		v = v[i+1:]
	}
	if i := strings.IndexAny(v, "/?"); i >= 0 {
		v = v[:i]
	}
	if ap, err := netip.ParseAddrPort(v); err == nil {
		return int(ap.Port()), true
	}
	if i := strings.LastIndex(v, ":"); i > 0 && strings.Count(v, ":") == 1 {
		return portOf(v[i+1:])
	}
	return 0, false
}

func portOf(s string) (int, bool) {
	if s == "" || len(s) > 5 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 || n > 65535 {
		return 0, false
	}
	return n, true
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, have := range list {
			if have == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

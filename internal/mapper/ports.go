package mapper

import (
	"sort"
	"strconv"
	"strings"

	"github.com/catherinevee/depmgr/internal/models"
)

// PortInfo is the dependency type and conventional service name of a port
type PortInfo struct {
	DependencyType models.DependencyType
	Name           string
}

var portTable = map[int]PortInfo{
	22:    {models.DependencyNetwork, "ssh"},
	53:    {models.DependencyDNS, "dns"},
	80:    {models.DependencyNetwork, "http"},
	443:   {models.DependencyNetwork, "https"},
	1433:  {models.DependencyDatabase, "mssql"},
	1521:  {models.DependencyDatabase, "oracle"},
	2379:  {models.DependencyDatabase, "etcd"},
	3000:  {models.DependencyHTTP, "http-dev"},
	3306:  {models.DependencyDatabase, "mysql"},
	4222:  {models.DependencyMessaging, "nats"},
	5000:  {models.DependencyHTTP, "http-app"},
	5432:  {models.DependencyDatabase, "postgresql"},
	5671:  {models.DependencyQueue, "amqps"},
	5672:  {models.DependencyQueue, "amqp"},
	6379:  {models.DependencyCache, "redis"},
	6443:  {models.DependencyOrchestration, "kubernetes-api"},
	8000:  {models.DependencyHTTP, "http-app"},
	8080:  {models.DependencyHTTP, "http-alt"},
	8443:  {models.DependencyHTTP, "https-alt"},
	9042:  {models.DependencyDatabase, "cassandra"},
	9090:  {models.DependencyHTTP, "http-metrics"},
	9092:  {models.DependencyStreaming, "kafka"},
	9200:  {models.DependencySearch, "elasticsearch"},
	9300:  {models.DependencySearch, "elasticsearch-transport"},
	11211: {models.DependencyCache, "memcached"},
	27017: {models.DependencyDatabase, "mongodb"},
}

var knownPorts = func() []int {
	out := make([]int, 0, len(portTable))
	for p := range portTable {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}()

// InferDependencyTypeFromPort looks a port up in the static table. Unknown
// ports are plain network dependencies with no name.
func InferDependencyTypeFromPort(port int) (models.DependencyType, string) {
	if info, ok := portTable[port]; ok {
		return info.DependencyType, info.Name
	}
	return models.DependencyNetwork, ""
}

// InferDependencyTypeFromRange classifies a port range by the lowest well
// known port it contains. Ranges that open everything are network.
func InferDependencyTypeFromRange(from, to int) (models.DependencyType, string) {
	if from == to {
		return InferDependencyTypeFromPort(from)
	}
	if from <= 0 && (to <= 0 || to >= 65535) {
		return models.DependencyNetwork, ""
	}
	if to < from {
		from, to = to, from
	}
	for _, p := range knownPorts {
		if p >= from && p <= to {
			return InferDependencyTypeFromPort(p)
		}
	}
	return models.DependencyNetwork, ""
}

// ParsePortSpec parses an NSG-style port spec ("443", "8000-8080", "*")
// into an inclusive range. ok is false for malformed specs.
func ParsePortSpec(spec string) (from, to int, ok bool) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "*" {
		return 0, 65535, true
	}
	if i := strings.Index(spec, "-"); i > 0 {
		f, okF := atoi(spec[:i])
		t, okT := atoi(spec[i+1:])
		return f, t, okF && okT
	}
	p, ok := atoi(spec)
	return p, p, ok
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 65535 {
		return 0, false
	}
	return n, true
}

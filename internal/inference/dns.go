package inference

import (
	"strings"

	"github.com/catherinevee/depmgr/internal/models"
)

// DNSEngine links hosted zones to the nodes their A, AAAA, CNAME and
// alias records point at.
type DNSEngine struct{}

// Name implements Engine
func (DNSEngine) Name() string { return TagDNS }

// Infer implements Engine
func (DNSEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	if len(data.DNSRecords) == 0 {
		return nil
	}
	idx := NewIndex(nodes)

	zones := make(map[string]string)
	for _, n := range idx.Nodes() {
		if n.ResourceType != models.ResourceTypeDNSZone {
			continue
		}
		if id := n.MetaString("zone_id"); id != "" {
			setZone(zones, id, n.Name)
		}
		setZone(zones, n.Name, n.Name)
	}

	out := newEdgeSet(TagDNS)
	for _, rec := range data.DNSRecords {
		zone, ok := zones[strings.ToLower(rec.ZoneID)]
		if !ok {
			zone, ok = zones[strings.ToLower(strings.TrimSuffix(rec.ZoneName, "."))]
		}
		if !ok {
			continue
		}

		values := append([]string(nil), rec.Values...)
		if rec.AliasTarget != "" {
			values = append(values, rec.AliasTarget)
		}
		for _, v := range values {
			m, found := idx.Resolve(strings.TrimSuffix(strings.TrimPrefix(strings.ToLower(v), "dualstack."), "."))
			if !found {
				continue
			}
			out.add(zone, m.Name, models.DependencyDNS, ConfidenceDNS, m.Fuzzy, rec.Type+" "+rec.Name)
		}
	}
	return out.sorted()
}

func setZone(zones map[string]string, key, name string) {
	key = strings.ToLower(strings.TrimSuffix(key, "."))
	if _, ok := zones[key]; !ok {
		zones[key] = name
	}
}

package inference

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
)

// minPrefixBits is the widest CIDR expanded into edges
const minPrefixBits = 16

// maxTailnetDevices bounds the all-pairs expansion of one tailnet
const maxTailnetDevices = 100

// SecurityGroupEngine links the members of a security group to the
// sources its inbound rules admit: other groups' members (SG reference)
// and nodes whose IPs fall inside an allowed CIDR.
type SecurityGroupEngine struct{}

// Name implements Engine
func (SecurityGroupEngine) Name() string { return TagSecurityGroup }

// Infer implements Engine
func (SecurityGroupEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	if len(data.SecurityGroups) == 0 {
		return nil
	}
	idx := NewIndex(nodes)
	members := groupMembers(idx.Nodes())
	out := newEdgeSet(TagSecurityGroup)

	for _, sg := range data.SecurityGroups {
		targets := members[sg.GroupID]
		if len(targets) == 0 {
			continue
		}
		for _, rule := range sg.Inbound {
			depType, portName := mapper.InferDependencyTypeFromRange(int(rule.FromPort), int(rule.ToPort))
			detail := ruleDetail(sg.GroupID, rule.Protocol, int(rule.FromPort), int(rule.ToPort), portName)

			for _, src := range rule.SourceGroupIDs {
				for _, from := range members[src] {
					for _, to := range targets {
						out.add(from, to, depType, ConfidenceSGReference, false, detail)
					}
				}
			}
			for _, cidr := range rule.CIDRs {
				prefix, ok := narrowPrefix(cidr)
				if !ok {
					continue
				}
				for _, from := range idx.InPrefix(prefix) {
					for _, to := range targets {
						out.add(from, to, depType, ConfidenceSGCIDR, false, detail)
					}
				}
			}
		}
	}
	return out.sorted()
}

// groupMembers maps a security group id to the names of nodes attached to
// it, in name order
func groupMembers(nodes []models.ServiceNode) map[string][]string {
	out := make(map[string][]string)
	for _, n := range nodes {
		if n.ResourceType == models.ResourceTypeFirewall {
			continue
		}
		for _, gid := range n.MetaStrings(models.MetaSecurityGroupIDs) {
			out[gid] = appendUnique(out[gid], n.Name)
		}
	}
	return out
}

func ruleDetail(group, protocol string, from, to int, portName string) string {
	ports := fmt.Sprintf("%d", from)
	if from != to {
		ports = fmt.Sprintf("%d-%d", from, to)
	}
	detail := fmt.Sprintf("%s allows %s/%s", group, strings.ToLower(protocol), ports)
	if portName != "" {
		detail += " (" + portName + ")"
	}
	return detail
}

// narrowPrefix parses a CIDR or single address, rejecting anything wider
// than /16
func narrowPrefix(s string) (netip.Prefix, bool) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, false
		}
		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()), true
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil || prefix.Bits() < minPrefixBits {
		return netip.Prefix{}, false
	}
	return prefix.Masked(), true
}

// NSGEngine applies Azure NSG inbound allow rules to the VMs the group
// protects, either directly through a NIC or through a subnet.
type NSGEngine struct{}

// Name implements Engine
func (NSGEngine) Name() string { return TagNSG }

// Infer implements Engine
func (NSGEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	if len(data.NSGRules) == 0 {
		return nil
	}
	idx := NewIndex(nodes)
	out := newEdgeSet(TagNSG)

	for _, rs := range data.NSGRules {
		targets := protectedBy(idx.Nodes(), rs)
		if len(targets) == 0 {
			continue
		}
		for _, rule := range rs.Rules {
			if !strings.EqualFold(rule.Direction, "Inbound") || !strings.EqualFold(rule.Access, "Allow") {
				continue
			}
			var sources []string
			for _, p := range rule.SourcePrefixes {
				if prefix, ok := narrowPrefix(p); ok {
					sources = appendUnique(sources, idx.InPrefix(prefix)...)
				}
			}
			if len(sources) == 0 {
				continue
			}
			sort.Strings(sources)

			specs := rule.DestinationPorts
			if len(specs) == 0 {
				specs = []string{"*"}
			}
			for _, spec := range specs {
				from, to, ok := mapper.ParsePortSpec(spec)
				if !ok {
					continue
				}
				depType, _ := mapper.InferDependencyTypeFromRange(from, to)
				detail := fmt.Sprintf("%s rule %s port %s", rs.Name, rule.Name, spec)
				for _, src := range sources {
					for _, dst := range targets {
						out.add(src, dst, depType, ConfidenceNSG, false, detail)
					}
				}
			}
		}
	}
	return out.sorted()
}

// protectedBy returns the nodes an NSG applies to: those listing the NSG
// in nsg_ids, or sitting in one of its attached subnets
func protectedBy(nodes []models.ServiceNode, rs models.NSGRuleSet) []string {
	attached := make(map[string]bool, len(rs.AttachedResourceIDs))
	for _, id := range rs.AttachedResourceIDs {
		attached[strings.ToLower(id)] = true
	}
	var out []string
	for _, n := range nodes {
		if n.Provider != models.ProviderAzure || n.ResourceType == models.ResourceTypeFirewall {
			continue
		}
		hit := false
		for _, id := range n.MetaStrings(models.MetaNSGIDs) {
			if strings.EqualFold(id, rs.NSGID) {
				hit = true
			}
		}
		for _, id := range n.MetaStrings(models.MetaSubnetIDs) {
			if attached[strings.ToLower(id)] {
				hit = true
			}
		}
		if hit {
			out = append(out, n.Name)
		}
	}
	return out
}

// TailscaleEngine treats online devices on the same tailnet as mutually
// reachable. Large tailnets are skipped rather than expanded.
type TailscaleEngine struct{}

// Name implements Engine
func (TailscaleEngine) Name() string { return TagTailscale }

// Infer implements Engine
func (TailscaleEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	tailnets := make(map[string][]string)
	for _, n := range NewIndex(nodes).Nodes() {
		if n.Provider != models.ProviderTailscale || n.MetaString(models.MetaOnline) != "true" {
			continue
		}
		tn := n.MetaString(models.MetaTailnet)
		tailnets[tn] = append(tailnets[tn], n.Name)
	}

	out := newEdgeSet(TagTailscale)
	for tn, devices := range tailnets {
		if len(devices) > maxTailnetDevices {
			continue
		}
		for _, a := range devices {
			for _, b := range devices {
				out.add(a, b, models.DependencyNetwork, ConfidenceTailscale, false, "tailnet "+tn)
			}
		}
	}
	return out.sorted()
}

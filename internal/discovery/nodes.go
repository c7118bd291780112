package discovery

import (
	"sort"

	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
)

// nodeSet merges nodes across providers and enrichers. Nodes are unique by
// cloud resource id; a later record for a known id refines the stored one.
// Names stay unique: a colliding name gets a stable suffix.
//
// Names already stored for a cloud resource id are reserved, so a resource
// keeps its name across runs whichever other providers answered.
type nodeSet struct {
	nodes  []models.ServiceNode
	byID   map[string]int
	byName map[string]int

	storedName map[string]string // cloud resource id -> name
	storedID   map[string]string // name -> cloud resource id
}

func newNodeSet() *nodeSet {
	return &nodeSet{
		byID:       make(map[string]int),
		byName:     make(map[string]int),
		storedName: make(map[string]string),
		storedID:   make(map[string]string),
	}
}

// reserve records the names resources were stored under by earlier runs
func (s *nodeSet) reserve(names map[string]string) {
	for id, name := range names {
		if id == "" || name == "" {
			continue
		}
		s.storedName[id] = name
		s.storedID[name] = id
	}
}

// taken reports whether name belongs to another node of this run, or was
// stored for a resource other than id
func (s *nodeSet) taken(name, id string) bool {
	if _, ok := s.byName[name]; ok {
		return true
	}
	owner, ok := s.storedID[name]
	return ok && owner != id
}

// add stores n and returns its final name. isNew is false when n refined a
// node already present.
func (s *nodeSet) add(n models.ServiceNode) (name string, isNew bool) {
	if n.Name == "" {
		n.Name = mapper.ShortID(n.CloudResourceID)
	}
	if n.Name == "" {
		return "", false
	}
	if n.CloudResourceID != "" {
		if i, ok := s.byID[n.CloudResourceID]; ok {
			mergeInto(&s.nodes[i], n)
			return s.nodes[i].Name, false
		}
	}

	n = n.Clone()
	if stored, ok := s.storedName[n.CloudResourceID]; ok && !s.taken(stored, n.CloudResourceID) {
		n.Name = stored
	}
	key := n.CloudResourceID
	if key == "" {
		key = n.Provider + "/" + n.Name
	}
	for s.taken(n.Name, n.CloudResourceID) {
		n.Name = mapper.SuffixName(n.Name, key)
	}

	s.nodes = append(s.nodes, n)
	i := len(s.nodes) - 1
	s.byName[n.Name] = i
	if n.CloudResourceID != "" {
		s.byID[n.CloudResourceID] = i
	}
	return n.Name, true
}

// refine applies an enricher's refinement and returns the node's name
func (s *nodeSet) refine(ref models.NodeRefinement) (string, bool) {
	i, ok := s.byID[ref.CloudResourceID]
	if !ok {
		return "", false
	}
	ref.Apply(&s.nodes[i])
	return s.nodes[i].Name, true
}

// rekey replaces map keys that are cloud resource ids of known nodes with
// those nodes' final names. Other keys are kept.
func (s *nodeSet) rekey(vars map[string]map[string]string) map[string]map[string]string {
	if len(vars) == 0 {
		return vars
	}
	out := make(map[string]map[string]string, len(vars))
	for key, values := range vars {
		if i, ok := s.byID[key]; ok {
			key = s.nodes[i].Name
		}
		if out[key] == nil {
			out[key] = make(map[string]string, len(values))
		}
		for k, v := range values {
			out[key][k] = v
		}
	}
	return out
}

func (s *nodeSet) len() int { return len(s.nodes) }

// all returns copies of every node in insertion order
func (s *nodeSet) all() []models.ServiceNode {
	out := make([]models.ServiceNode, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.Clone()
	}
	return out
}

// named returns copies of the named nodes, once each, sorted by name
func (s *nodeSet) named(names []string) []models.ServiceNode {
	uniq := make(map[string]bool, len(names))
	var out []models.ServiceNode
	for _, name := range names {
		i, ok := s.byName[name]
		if !ok || uniq[name] {
			continue
		}
		uniq[name] = true
		out = append(out, s.nodes[i].Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// mergeInto refines dst with the non-empty attributes of src. Name and
// cloud resource id never change.
func mergeInto(dst *models.ServiceNode, src models.ServiceNode) {
	if src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
	}
	if src.SubType != "" {
		dst.SubType = src.SubType
	}
	if src.Region != "" {
		dst.Region = src.Region
	}
	if src.Zone != "" {
		dst.Zone = src.Zone
	}
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	for k, v := range src.Metadata {
		dst.SetMeta(k, v)
	}
}

package aton

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

var (
	ErrUnknownReference = errors.New("unknown reference")
	ErrInvalidLink      = errors.New("invalid parent/child link")
)

// Graph is an arena of entities and their satellite peerings. Entities are
// addressed by index; the index map resolves payload-local or stored keys.
type Graph struct {
	Entities     []Entity
	Aggregations []Aggregation
	Associations []Association

	index map[string]int
}

// NewGraph returns an empty graph ready for Add.
func NewGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Add appends an entity and indexes it under its LocalID. A duplicate key
// is rejected so that references stay unambiguous.
func (g *Graph) Add(e Entity) (int, error) {
	if g.index == nil {
		g.index = make(map[string]int)
	}
	if e.LocalID != "" {
		if _, ok := g.index[e.LocalID]; ok {
			return -1, fmt.Errorf("duplicate id %q", e.LocalID)
		}
	}
	e.Parent = NoParent
	e.Children = nil
	e.Aggregations = nil
	e.Associations = nil
	g.Entities = append(g.Entities, e)
	i := len(g.Entities) - 1
	if e.LocalID != "" {
		g.index[e.LocalID] = i
	}
	return i, nil
}

// Resolve looks up a reference, accepting a leading '#'.
func (g *Graph) Resolve(ref string) (int, bool) {
	key := strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if key == "" {
		return -1, false
	}
	i, ok := g.index[key]
	return i, ok
}

// Link attaches equipment to a structure in both directions. Re-linking the
// same pair is a no-op; moving equipment detaches it from its old parent.
func (g *Graph) Link(parent, child int) error {
	if !g.valid(parent) || !g.valid(child) {
		return ErrUnknownReference
	}
	p, c := &g.Entities[parent], &g.Entities[child]
	if p.Kind() != KindStructure || c.Kind() != KindEquipment {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidLink, p.Type, c.Type)
	}
	if c.Parent == parent {
		return nil
	}
	if c.Parent != NoParent {
		old := &g.Entities[c.Parent]
		old.Children = removeIndex(old.Children, child)
	}
	c.Parent = parent
	p.Children = append(p.Children, child)
	return nil
}

// AddAggregation stores the aggregation and adds its index to each peer's
// back-reference set. Peers outside the arena are dropped.
func (g *Graph) AddAggregation(a Aggregation) int {
	a.Peers = g.validPeers(a.Peers)
	g.Aggregations = append(g.Aggregations, a)
	i := len(g.Aggregations) - 1
	for _, p := range a.Peers {
		g.Entities[p].Aggregations = appendUnique(g.Entities[p].Aggregations, i)
	}
	return i
}

// AddAssociation records an association among already added entities and
// returns its index. Peers that are out of range are dropped.
func (g *Graph) AddAssociation(a Association) int {
	a.Peers = g.validPeers(a.Peers)
	g.Associations = append(g.Associations, a)
	i := len(g.Associations) - 1
	for _, p := range a.Peers {
		g.Entities[p].Associations = appendUnique(g.Entities[p].Associations, i)
	}
	return i
}

// ParentOf returns the parent entity of i, if any.
func (g *Graph) ParentOf(i int) (*Entity, bool) {
	if !g.valid(i) || g.Entities[i].Parent == NoParent {
		return nil, false
	}
	return &g.Entities[g.Entities[i].Parent], true
}

// Geometries returns the non-nil entity geometries in arena order.
func (g *Graph) Geometries() []orb.Geometry {
	out := make([]orb.Geometry, 0, len(g.Entities))
	for _, e := range g.Entities {
		if e.Geometry != nil {
			out = append(out, e.Geometry)
		}
	}
	return out
}

// AtonNumbers returns the entity numbers in arena order.
func (g *Graph) AtonNumbers() []string {
	out := make([]string, 0, len(g.Entities))
	for _, e := range g.Entities {
		out = append(out, e.AtonNumber)
	}
	return out
}

// Check verifies that every link is mirrored on the other side.
func (g *Graph) Check() error {
	for i, e := range g.Entities {
		if e.Parent != NoParent {
			if !g.valid(e.Parent) || !containsIndex(g.Entities[e.Parent].Children, i) {
				return fmt.Errorf("%w: %d does not list child %d", ErrInvalidLink, e.Parent, i)
			}
		}
		for _, c := range e.Children {
			if !g.valid(c) || g.Entities[c].Parent != i {
				return fmt.Errorf("%w: child %d does not point back to %d", ErrInvalidLink, c, i)
			}
		}
		for _, a := range e.Aggregations {
			if a >= len(g.Aggregations) || !containsIndex(g.Aggregations[a].Peers, i) {
				return fmt.Errorf("%w: aggregation %d does not list %d", ErrInvalidLink, a, i)
			}
		}
		for _, a := range e.Associations {
			if a >= len(g.Associations) || !containsIndex(g.Associations[a].Peers, i) {
				return fmt.Errorf("%w: association %d does not list %d", ErrInvalidLink, a, i)
			}
		}
	}
	return nil
}

func (g *Graph) valid(i int) bool {
	return i >= 0 && i < len(g.Entities)
}

func (g *Graph) validPeers(peers []int) []int {
	out := make([]int, 0, len(peers))
	for _, p := range peers {
		if g.valid(p) && !containsIndex(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func containsIndex(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func appendUnique(s []int, v int) []int {
	if containsIndex(s, v) {
		return s
	}
	return append(s, v)
}

func removeIndex(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

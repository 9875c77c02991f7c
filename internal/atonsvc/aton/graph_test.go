package aton

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeTable(t *testing.T) {
	for typ, info := range typeTable {
		got, ok := TypeForTag(info.tag)
		require.True(t, ok, info.tag)
		assert.Equal(t, typ, got)
		assert.Equal(t, info.tag, typ.Tag())
	}
	_, ok := TypeForTag("NotAnAtoN")
	assert.False(t, ok)
	assert.Equal(t, "", TypeUnknown.Tag())
	assert.False(t, TypeUnknown.Known())
	assert.Equal(t, KindStructure, TypeCardinalBuoy.Kind())
	assert.Equal(t, KindEquipment, TypeLight.Kind())
	assert.Equal(t, KindOther, TypeNavigationLine.Kind())
	assert.Equal(t, TypeLighthouse, ParseType("Lighthouse"))
	assert.Equal(t, TypeUnknown, ParseType("bogus"))
	assert.Equal(t, "urn:IALA:S125:roles:child", RoleChild.Arcrole())
}

func TestGraphParentChild(t *testing.T) {
	g := NewGraph()
	s1, err := g.Add(NewEntity(TypeCardinalBuoy, "S1"))
	require.NoError(t, err)
	e1, err := g.Add(NewEntity(TypeLight, "E1"))
	require.NoError(t, err)
	e2, err := g.Add(NewEntity(TypeTopmark, "E2"))
	require.NoError(t, err)

	for _, ref := range []string{"#E1", "#E2"} {
		c, ok := g.Resolve(ref)
		require.True(t, ok)
		p, ok := g.Resolve("#S1")
		require.True(t, ok)
		require.NoError(t, g.Link(p, c))
	}
	// declared from the structure side as well
	require.NoError(t, g.Link(s1, e1))

	assert.ElementsMatch(t, []int{e1, e2}, g.Entities[s1].Children)
	assert.Equal(t, s1, g.Entities[e1].Parent)
	assert.Equal(t, s1, g.Entities[e2].Parent)
	p, ok := g.ParentOf(e2)
	require.True(t, ok)
	assert.Equal(t, "S1", p.LocalID)
	assert.NoError(t, g.Check())
}

func TestGraphLinkRules(t *testing.T) {
	g := NewGraph()
	s1, _ := g.Add(NewEntity(TypePile, "S1"))
	s2, _ := g.Add(NewEntity(TypeLighthouse, "S2"))
	e1, _ := g.Add(NewEntity(TypeLight, "E1"))
	o1, _ := g.Add(NewEntity(TypeRecommendedTrack, "O1"))

	assert.ErrorIs(t, g.Link(e1, s1), ErrInvalidLink)
	assert.ErrorIs(t, g.Link(s1, o1), ErrInvalidLink)
	assert.ErrorIs(t, g.Link(s1, 42), ErrUnknownReference)

	require.NoError(t, g.Link(s1, e1))
	require.NoError(t, g.Link(s2, e1))
	assert.Empty(t, g.Entities[s1].Children)
	assert.Equal(t, []int{e1}, g.Entities[s2].Children)
	assert.NoError(t, g.Check())

	_, err := g.Add(NewEntity(TypeLight, "E1"))
	assert.Error(t, err)

	_, ok := g.Resolve("#missing")
	assert.False(t, ok)
	_, ok = g.Resolve("#")
	assert.False(t, ok)
}

func TestGraphPeerings(t *testing.T) {
	g := NewGraph()
	a, _ := g.Add(NewEntity(TypeLateralBuoy, "A"))
	b, _ := g.Add(NewEntity(TypeLateralBuoy, "B"))
	c, _ := g.Add(NewEntity(TypeVirtualAISAtoN, "C"))

	ag := g.AddAggregation(Aggregation{Peering{Category: "leading line", Peers: []int{a, b, b, 99}}})
	as := g.AddAssociation(Association{Peering{Category: "channel markings", Peers: []int{b, c}}})

	assert.Equal(t, []int{a, b}, g.Aggregations[ag].Peers)
	assert.Equal(t, []int{ag}, g.Entities[a].Aggregations)
	assert.Equal(t, []int{ag}, g.Entities[b].Aggregations)
	assert.Equal(t, []int{as}, g.Entities[b].Associations)
	assert.Equal(t, []int{as}, g.Entities[c].Associations)
	assert.Empty(t, g.Entities[c].Aggregations)
	assert.NoError(t, g.Check())
}

func TestGraphGeometriesAndNumbers(t *testing.T) {
	g := NewGraph()
	e := NewEntity(TypeLight, "E1")
	e.AtonNumber = "AtoN-1"
	e.Geometry = orb.Point{1, 2}
	_, _ = g.Add(e)
	f := NewEntity(TypeLight, "E2")
	f.AtonNumber = "AtoN-2"
	_, _ = g.Add(f)

	assert.Equal(t, []orb.Geometry{orb.Point{1, 2}}, g.Geometries())
	assert.Equal(t, []string{"AtoN-1", "AtoN-2"}, g.AtonNumbers())
}

func TestTruncatedDate(t *testing.T) {
	tests := []struct {
		in    TruncatedDate
		valid bool
		year  int
		month int
		day   int
	}{
		{"2024", true, 2024, 1, 1},
		{"2024-05", true, 2024, 5, 1},
		{"2024-05-17", true, 2024, 5, 17},
		{"--05", true, 2000, 5, 1},
		{"--05-17", true, 2000, 5, 17},
		{"----17", true, 2000, 1, 17},
		{"2024-13", false, 0, 0, 0},
		{"24-05", false, 0, 0, 0},
		{"----32", false, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.in.Valid())
			tm, ok := tt.in.Time(2000)
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.Equal(t, tt.year, tm.Year())
				assert.Equal(t, tt.month, int(tm.Month()))
				assert.Equal(t, tt.day, tm.Day())
			}
		})
	}
	assert.True(t, TruncatedDate("").Valid())
	assert.True(t, TruncatedDate("").IsZero())
}

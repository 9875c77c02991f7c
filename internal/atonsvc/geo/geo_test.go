package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func TestIntersects(t *testing.T) {
	r1 := square(0, 50, 2, 52)
	r2 := square(10, 60, 12, 62)

	tests := []struct {
		name string
		a, b orb.Geometry
		want bool
	}{
		{"world covers region", World, r1, true},
		{"disjoint regions", r1, r2, false},
		{"point inside polygon", orb.Point{1, 51}, r1, true},
		{"point outside polygon", orb.Point{5, 51}, r1, false},
		{"point on edge", orb.Point{0, 51}, r1, true},
		{"overlapping polygons", r1, square(1, 51, 3, 53), true},
		{"nested polygon", square(0.5, 50.5, 1, 51), r1, true},
		{"line crossing polygon", orb.LineString{{-1, 51}, {3, 51}}, r1, true},
		{"line inside polygon", orb.LineString{{0.5, 51}, {1.5, 51}}, r1, true},
		{"line missing polygon", orb.LineString{{5, 51}, {6, 51}}, r1, false},
		{"collection member hits", orb.Collection{orb.Point{11, 61}, orb.Point{50, 50}}, r2, true},
		{"nil never intersects", nil, r1, false},
		{"equal points", orb.Point{1, 1}, orb.Point{1, 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Intersects(tt.a, tt.b))
			assert.Equal(t, tt.want, Intersects(tt.b, tt.a))
		})
	}
}

func TestUnion(t *testing.T) {
	assert.Nil(t, Union())
	assert.Nil(t, Union(nil, nil))

	p := orb.Point{1, 2}
	assert.Equal(t, p, Union(nil, p))

	u := Union(p, orb.Collection{orb.Point{3, 4}, nil}, orb.Point{5, 6})
	c, ok := u.(orb.Collection)
	require.True(t, ok)
	assert.Len(t, c, 3)
}

func TestWKTRoundTrip(t *testing.T) {
	g, err := ParseWKT("SRID=4326;POINT(1.5 52.25)")
	require.NoError(t, err)
	assert.Equal(t, orb.Point{1.5, 52.25}, g)
	assert.Equal(t, "POINT(1.5 52.25)", WKT(g))

	g, err = ParseWKT("")
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.Equal(t, "", WKT(nil))

	_, err = ParseWKT("POINT(oops")
	assert.Error(t, err)
}

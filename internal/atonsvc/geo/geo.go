// Package geo holds the geometry helpers shared by ingestion, dataset scoping and
// subscription matching. Geometries are orb values with X = longitude, Y = latitude
// in EPSG:4326.
package geo

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
)

const SRID = 4326

// World covers the whole lon/lat plane.
var World = orb.Polygon{orb.Ring{
	{-180, -90}, {180, -90}, {180, 90}, {-180, 90}, {-180, -90},
}}

// ParseWKT decodes a WKT string. An empty string decodes to nil.
func ParseWKT(s string) (orb.Geometry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	// PostGIS EWKT prefix
	if strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		if i := strings.Index(s, ";"); i > 0 {
			s = s[i+1:]
		}
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid wkt: %w", err)
	}
	return g, nil
}

// WKT encodes g, returning "" for nil.
func WKT(g orb.Geometry) string {
	if g == nil {
		return ""
	}
	return wkt.MarshalString(g)
}

// Union merges the non-nil geometries into one. Nested collections are flattened.
// The result is nil when nothing is left.
func Union(geoms ...orb.Geometry) orb.Geometry {
	var out orb.Collection
	for _, g := range geoms {
		out = appendFlat(out, g)
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func appendFlat(out orb.Collection, g orb.Geometry) orb.Collection {
	switch v := g.(type) {
	case nil:
		return out
	case orb.Collection:
		for _, c := range v {
			out = appendFlat(out, c)
		}
		return out
	}
	return append(out, g)
}

// Intersects reports whether a and b share at least one point. A nil geometry
// intersects nothing.
func Intersects(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	pa, pb := decompose(a), decompose(b)

	for _, s1 := range pa.segments {
		for _, s2 := range pb.segments {
			if segmentsIntersect(s1[0], s1[1], s2[0], s2[1]) {
				return true
			}
		}
	}
	for _, p := range pa.points {
		if pointTouches(p, pb) {
			return true
		}
	}
	for _, p := range pb.points {
		if pointTouches(p, pa) {
			return true
		}
	}
	// a shape wholly inside a polygon of the other shares no boundary crossing
	for _, poly := range pb.polygons {
		for _, s := range pa.segments {
			if planar.PolygonContains(poly, s[0]) {
				return true
			}
		}
	}
	for _, poly := range pa.polygons {
		for _, s := range pb.segments {
			if planar.PolygonContains(poly, s[0]) {
				return true
			}
		}
	}
	return false
}

type parts struct {
	points   []orb.Point
	segments [][2]orb.Point
	polygons []orb.Polygon
}

func decompose(g orb.Geometry) parts {
	var p parts
	var walk func(orb.Geometry)
	addLine := func(ls []orb.Point) {
		if len(ls) == 1 {
			p.points = append(p.points, ls[0])
		}
		for i := 1; i < len(ls); i++ {
			p.segments = append(p.segments, [2]orb.Point{ls[i-1], ls[i]})
		}
	}
	walk = func(g orb.Geometry) {
		switch v := g.(type) {
		case orb.Point:
			p.points = append(p.points, v)
		case orb.MultiPoint:
			p.points = append(p.points, v...)
		case orb.LineString:
			addLine(v)
		case orb.MultiLineString:
			for _, ls := range v {
				addLine(ls)
			}
		case orb.Ring:
			addLine(v)
			p.polygons = append(p.polygons, orb.Polygon{v})
		case orb.Polygon:
			for _, r := range v {
				addLine(r)
			}
			p.polygons = append(p.polygons, v)
		case orb.MultiPolygon:
			for _, poly := range v {
				walk(poly)
			}
		case orb.Bound:
			walk(v.ToPolygon())
		case orb.Collection:
			for _, c := range v {
				walk(c)
			}
		}
	}
	walk(g)
	return p
}

func pointTouches(pt orb.Point, other parts) bool {
	for _, q := range other.points {
		if q == pt {
			return true
		}
	}
	for _, s := range other.segments {
		if onSegment(s[0], s[1], pt) {
			return true
		}
	}
	for _, poly := range other.polygons {
		if planar.PolygonContains(poly, pt) {
			return true
		}
	}
	return false
}

func orientation(a, b, c orb.Point) int {
	v := (b[1]-a[1])*(c[0]-b[0]) - (b[0]-a[0])*(c[1]-b[1])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return 2
	}
	return 0
}

func onSegment(a, b, p orb.Point) bool {
	if orientation(a, b, p) != 0 {
		return false
	}
	return p[0] <= max(a[0], b[0]) && p[0] >= min(a[0], b[0]) &&
		p[1] <= max(a[1], b[1]) && p[1] >= min(a[1], b[1])
}

func segmentsIntersect(p1, q1, p2, q2 orb.Point) bool {
	o1 := orientation(p1, q1, p2)
	o2 := orientation(p1, q1, q2)
	o3 := orientation(p2, q2, p1)
	o4 := orientation(p2, q2, q1)
	if o1 != o2 && o3 != o4 {
		return true
	}
	return (o1 == 0 && onSegment(p1, q1, p2)) ||
		(o2 == 0 && onSegment(p1, q1, q2)) ||
		(o3 == 0 && onSegment(p2, q2, p1)) ||
		(o4 == 0 && onSegment(p2, q2, q1))
}

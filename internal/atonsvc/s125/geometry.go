package s125

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const srsName = "EPSG:4326"

// Positions are written "lat lon", the EPSG:4326 axis order. orb points are
// (lon, lat) so every read and write swaps explicitly here and nowhere else.

func formatPos(p orb.Point) string {
	return formatFloat(p.Lat()) + " " + formatFloat(p.Lon())
}

func formatPosList(ps []orb.Point) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, formatPos(p))
	}
	return strings.Join(parts, " ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parsePosList(s string) ([]orb.Point, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields)%2 != 0 {
		return nil, fmt.Errorf("position list has %d values", len(fields))
	}
	out := make([]orb.Point, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		lat, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		lon, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, err
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("position %s %s out of range", fields[i], fields[i+1])
		}
		out = append(out, orb.Point{lon, lat})
	}
	return out, nil
}

// geometryNode renders the geometry property content of a member. gid seeds
// the gml:id of each primitive.
func geometryNode(g orb.Geometry, gid string) (*node, error) {
	parts, err := flatten(g)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, nil
	}
	geom := elem("geometry")
	for i, p := range parts {
		id := fmt.Sprintf("%s-G%d", gid, i+1)
		switch v := p.(type) {
		case orb.Point:
			geom.add(elem("S100:pointProperty",
				elem("S100:Point", textElem("gml:pos", formatPos(v))).attr("gml:id", id).attr("srsName", srsName)))
		case orb.LineString:
			geom.add(elem("S100:curveProperty",
				elem("S100:Curve",
					elem("gml:segments",
						elem("gml:LineStringSegment", textElem("gml:posList", formatPosList(v))))).attr("gml:id", id).attr("srsName", srsName)))
		case orb.Polygon:
			patch := elem("gml:PolygonPatch")
			for r, ring := range v {
				name := "gml:interior"
				if r == 0 {
					name = "gml:exterior"
				}
				patch.add(elem(name, elem("gml:LinearRing", textElem("gml:posList", formatPosList(ring)))))
			}
			geom.add(elem("S100:surfaceProperty",
				elem("S100:Surface", elem("gml:patches", patch)).attr("gml:id", id).attr("srsName", srsName)))
		}
	}
	return geom, nil
}

// flatten splits multi geometries and collections into points, lines and polygons.
func flatten(g orb.Geometry) ([]orb.Geometry, error) {
	switch v := g.(type) {
	case nil:
		return nil, nil
	case orb.Point, orb.LineString, orb.Polygon:
		return []orb.Geometry{v}, nil
	case orb.Ring:
		return []orb.Geometry{orb.Polygon{v}}, nil
	case orb.MultiPoint:
		out := make([]orb.Geometry, 0, len(v))
		for _, p := range v {
			out = append(out, p)
		}
		return out, nil
	case orb.MultiLineString:
		out := make([]orb.Geometry, 0, len(v))
		for _, l := range v {
			out = append(out, l)
		}
		return out, nil
	case orb.MultiPolygon:
		out := make([]orb.Geometry, 0, len(v))
		for _, p := range v {
			out = append(out, p)
		}
		return out, nil
	case orb.Collection:
		var out []orb.Geometry
		for _, c := range v {
			parts, err := flatten(c)
			if err != nil {
				return nil, err
			}
			out = append(out, parts...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported geometry %s", g.GeoJSONType())
	}
}

// parseGeometry reads the primitives under a member's geometry element and
// combines them into a single orb geometry.
func parseGeometry(geom *node) (orb.Geometry, error) {
	if geom == nil {
		return nil, nil
	}
	var parts []orb.Geometry
	for _, prop := range geom.children {
		switch prop.name {
		case "pointProperty":
			pos := prop.find("pos")
			if pos == nil {
				return nil, fmt.Errorf("point without position")
			}
			pts, err := parsePosList(pos.text)
			if err != nil {
				return nil, err
			}
			if len(pts) != 1 {
				return nil, fmt.Errorf("point with %d positions", len(pts))
			}
			parts = append(parts, pts[0])
		case "curveProperty":
			var line orb.LineString
			for _, seg := range collect(prop, "posList") {
				pts, err := parsePosList(seg.text)
				if err != nil {
					return nil, err
				}
				line = append(line, pts...)
			}
			if len(line) < 2 {
				return nil, fmt.Errorf("curve with %d positions", len(line))
			}
			parts = append(parts, line)
		case "surfaceProperty":
			var poly orb.Polygon
			for _, ring := range collect(prop, "LinearRing") {
				list := ring.find("posList")
				if list == nil {
					continue
				}
				pts, err := parsePosList(list.text)
				if err != nil {
					return nil, err
				}
				poly = append(poly, orb.Ring(pts))
			}
			if len(poly) == 0 {
				return nil, fmt.Errorf("surface without rings")
			}
			parts = append(parts, poly)
		}
	}
	return combine(parts), nil
}

// collect returns every descendant with the given name in document order.
func collect(n *node, local string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == local {
			out = append(out, c)
		}
		out = append(out, collect(c, local)...)
	}
	return out
}

func combine(parts []orb.Geometry) orb.Geometry {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	var (
		mp  orb.MultiPoint
		mls orb.MultiLineString
		mpg orb.MultiPolygon
	)
	for _, p := range parts {
		switch v := p.(type) {
		case orb.Point:
			mp = append(mp, v)
		case orb.LineString:
			mls = append(mls, v)
		case orb.Polygon:
			mpg = append(mpg, v)
		}
	}
	switch len(parts) {
	case len(mp):
		return mp
	case len(mls):
		return mls
	case len(mpg):
		return mpg
	}
	return orb.Collection(parts)
}

// Package s125 converts between S-125 GML documents and the aton graph.
package s125

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/atonsvc/aton"
)

// Elements of a member that map onto Entity fields. Any other element with
// plain text content is kept as an Attribute.
var structuralElements = map[string]bool{
	"atonNumber":                           true,
	"idCode":                               true,
	"textualDescription":                   true,
	"textualDescriptionInNationalLanguage": true,
	"featureName":                          true,
	"information":                          true,
	"dateStart":                            true,
	"dateEnd":                              true,
	"periodStart":                          true,
	"periodEnd":                            true,
	"scaleMinimum":                         true,
	"parent":                               true,
	"child":                                true,
	"peerAtonAggregation":                  true,
	"peerAtonAssociation":                  true,
	"geometry":                             true,
	"boundedBy":                            true,
}

// Parser builds an aton graph from a feed payload.
type Parser struct {
	// Filter, when set, drops members before they are indexed. References to
	// dropped members are treated as unresolved.
	Filter func(e *aton.Entity) bool
}

type pendingLinks struct {
	index    int
	parents  []string
	children []string
}

// Parse reads one payload. Only an unreadable document is an error; a member
// that cannot be mapped is logged and skipped.
func (p Parser) Parse(ctx context.Context, payload []byte) (*aton.Graph, error) {
	logger := log.Ctx(ctx)
	root, err := decodeTree(bytes.NewReader(payload))
	if err != nil {
		return nil, ErrParse.Err(err)
	}

	g := aton.NewGraph()
	var links []pendingLinks
	var satellites []*node

	for _, m := range root.children {
		switch m.name {
		case "member":
		case "imember":
			satellites = append(satellites, m.children...)
			continue
		default:
			continue
		}
		for _, feature := range m.children {
			typ, ok := aton.TypeForTag(feature.name)
			if !ok {
				logger.Warn().Str("tag", feature.name).Msg("dropping member with unknown type")
				continue
			}
			e, err := decodeEntity(typ, feature)
			if err != nil {
				logger.Error().Err(err).Str("tag", feature.name).Str("gml_id", feature.get("id")).Msg("dropping member that failed to parse")
				continue
			}
			if p.Filter != nil && !p.Filter(&e) {
				continue
			}
			i, err := g.Add(e)
			if err != nil {
				logger.Error().Err(err).Str("gml_id", e.LocalID).Msg("dropping member")
				continue
			}
			links = append(links, pendingLinks{
				index:    i,
				parents:  hrefs(feature, "parent"),
				children: hrefs(feature, "child"),
			})
		}
	}

	for _, l := range links {
		for _, ref := range l.parents {
			parent, ok := g.Resolve(ref)
			if !ok {
				logger.Debug().Str("ref", ref).Msg("unresolved parent reference")
				continue
			}
			if err := g.Link(parent, l.index); err != nil {
				logger.Warn().Err(err).Str("ref", ref).Msg("ignoring parent reference")
			}
		}
		for _, ref := range l.children {
			child, ok := g.Resolve(ref)
			if !ok {
				logger.Debug().Str("ref", ref).Msg("unresolved child reference")
				continue
			}
			if err := g.Link(l.index, child); err != nil {
				logger.Warn().Err(err).Str("ref", ref).Msg("ignoring child reference")
			}
		}
	}

	for _, s := range satellites {
		peers := resolveAll(g, hrefs(s, "peer"))
		peering := aton.Peering{LocalID: s.get("id"), Peers: peers}
		switch s.name {
		case aton.TagAggregation:
			peering.Category = s.value("categoryOfAggregation")
			g.AddAggregation(aton.Aggregation{Peering: peering})
		case aton.TagAssociation:
			peering.Category = s.value("categoryOfAssociation")
			g.AddAssociation(aton.Association{Peering: peering})
		default:
			logger.Warn().Str("tag", s.name).Msg("dropping information member with unknown type")
		}
	}

	return g, nil
}

// Parse uses a Parser without a filter.
func Parse(ctx context.Context, payload []byte) (*aton.Graph, error) {
	return Parser{}.Parse(ctx, payload)
}

func resolveAll(g *aton.Graph, refs []string) []int {
	out := make([]int, 0, len(refs))
	for _, ref := range refs {
		if i, ok := g.Resolve(ref); ok {
			out = append(out, i)
		}
	}
	return out
}

func hrefs(n *node, local string) []string {
	var out []string
	for _, c := range n.all(local) {
		if h := c.get("href"); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func decodeEntity(typ aton.Type, n *node) (aton.Entity, error) {
	e := aton.NewEntity(typ, n.get("id"))
	e.AtonNumber = n.value("atonNumber")
	e.IDCode = n.value("idCode")
	e.TextualDescription = n.value("textualDescription")
	e.TextualDescriptionInNationalLanguage = n.value("textualDescriptionInNationalLanguage")

	for _, fn := range n.all("featureName") {
		e.FeatureNames = append(e.FeatureNames, aton.FeatureName{
			Name:        fn.value("name"),
			Language:    fn.value("language"),
			DisplayName: fn.value("displayName") == "true",
		})
	}
	for _, in := range n.all("information") {
		e.Informations = append(e.Informations, aton.Information{
			Headline:      in.value("headline"),
			Text:          in.value("text"),
			Language:      in.value("language"),
			FileLocator:   in.value("fileLocator"),
			FileReference: in.value("fileReference"),
		})
	}

	var err error
	if e.DateStart, err = truncatedDate(n, "dateStart"); err != nil {
		return e, err
	}
	if e.DateEnd, err = truncatedDate(n, "dateEnd"); err != nil {
		return e, err
	}
	if e.PeriodStart, err = truncatedDate(n, "periodStart"); err != nil {
		return e, err
	}
	if e.PeriodEnd, err = truncatedDate(n, "periodEnd"); err != nil {
		return e, err
	}
	if s := n.value("scaleMinimum"); s != "" {
		if e.ScaleMinimum, err = strconv.Atoi(s); err != nil {
			return e, fmt.Errorf("scaleMinimum: %w", err)
		}
	}

	for _, c := range n.children {
		if structuralElements[c.name] || len(c.children) > 0 {
			continue
		}
		e.Attributes = append(e.Attributes, aton.Attribute{Name: c.name, Value: strings.TrimSpace(c.text)})
	}

	if e.Geometry, err = parseGeometry(n.child("geometry")); err != nil {
		return e, fmt.Errorf("geometry: %w", err)
	}
	return e, nil
}

// truncatedDate accepts the value either as element text or wrapped in a
// nested date element.
func truncatedDate(n *node, local string) (aton.TruncatedDate, error) {
	c := n.child(local)
	if c == nil {
		return "", nil
	}
	s := strings.TrimSpace(c.text)
	if d := c.child("date"); d != nil {
		s = strings.TrimSpace(d.text)
	}
	td := aton.TruncatedDate(s)
	if !td.Valid() {
		return "", fmt.Errorf("%s: invalid truncated date %q", local, s)
	}
	return td, nil
}

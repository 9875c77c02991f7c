package s125

import (
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"github.com/grad-enav/atonservice/internal/atonsvc/aton"
)

const (
	NamespaceS125  = "http://www.iala-aism.int/S125/gml/0.0"
	NamespaceS100  = "http://www.iho.int/s100gml/1.0"
	NamespaceGML   = "http://www.opengis.net/gml/3.2"
	NamespaceXLink = "http://www.w3.org/1999/xlink"

	ProductIdentifier = "S-125"

	prefixAton        = "ID"
	prefixAggregation = "AG"
	prefixAssociation = "AS"
)

// DatasetInfo is the identification block written at the top of a dataset.
type DatasetInfo struct {
	FileIdentifier string
	Title          string
	Abstract       string
	Language       string
	Edition        string
	ProductEdition string
	ReferenceDate  time.Time
}

// ExternalID is the document id of a stored record: a fixed prefix and the
// zero padded internal id.
func ExternalID(prefix string, id int64) string {
	return fmt.Sprintf("%s%06d", prefix, id)
}

// AtonID is the document id of an entity.
func AtonID(id int64) string {
	return ExternalID(prefixAton, id)
}

// BuildDataset serialises the graph. Entities keep their arena order. Ids
// come from the stored ids, or from the arena position for unsaved records,
// so an unchanged graph always produces the same bytes.
func BuildDataset(info DatasetInfo, g *aton.Graph) ([]byte, error) {
	if g == nil {
		g = aton.NewGraph()
	}
	entityIDs := make([]string, len(g.Entities))
	for i := range g.Entities {
		entityIDs[i] = ExternalID(prefixAton, stableID(g.Entities[i].ID, i))
	}
	aggregationIDs := make([]string, len(g.Aggregations))
	for i := range g.Aggregations {
		aggregationIDs[i] = ExternalID(prefixAggregation, stableID(g.Aggregations[i].ID, i))
	}
	associationIDs := make([]string, len(g.Associations))
	for i := range g.Associations {
		associationIDs[i] = ExternalID(prefixAssociation, stableID(g.Associations[i].ID, i))
	}

	root := elem("S125:DataSet").
		attr("xmlns:S125", NamespaceS125).
		attr("xmlns:S100", NamespaceS100).
		attr("xmlns:gml", NamespaceGML).
		attr("xmlns:xlink", NamespaceXLink).
		attr("gml:id", datasetID(info))

	var bound orb.Bound
	hasBound := false
	for _, e := range g.Entities {
		if e.Geometry == nil {
			continue
		}
		if !hasBound {
			bound = e.Geometry.Bound()
			hasBound = true
		} else {
			bound = bound.Union(e.Geometry.Bound())
		}
	}
	if hasBound {
		root.add(elem("gml:boundedBy",
			elem("gml:Envelope",
				textElem("gml:lowerCorner", formatPos(bound.Min)),
				textElem("gml:upperCorner", formatPos(bound.Max)),
			).attr("srsName", srsName)))
	}
	root.add(identification(info))

	for i := range g.Entities {
		e := &g.Entities[i]
		feature, err := entityNode(e, entityIDs, aggregationIDs, associationIDs, entityIDs[i])
		if err != nil {
			return nil, err
		}
		root.add(elem("member", feature))
	}
	for i, a := range g.Aggregations {
		n := elem("S125:"+aton.TagAggregation).attr("gml:id", aggregationIDs[i])
		if a.Category != "" {
			n.add(textElem("categoryOfAggregation", a.Category))
		}
		n.add(peerLinks("peer", a.Peers, entityIDs, aton.RoleAggregation)...)
		root.add(elem("imember", n))
	}
	for i, a := range g.Associations {
		n := elem("S125:"+aton.TagAssociation).attr("gml:id", associationIDs[i])
		if a.Category != "" {
			n.add(textElem("categoryOfAssociation", a.Category))
		}
		n.add(peerLinks("peer", a.Peers, entityIDs, aton.RoleAssociation)...)
		root.add(elem("imember", n))
	}
	return root.encode(), nil
}

func stableID(id int64, pos int) int64 {
	if id > 0 {
		return id
	}
	return int64(pos + 1)
}

func datasetID(info DatasetInfo) string {
	if info.FileIdentifier != "" {
		return info.FileIdentifier
	}
	return "DS"
}

func identification(info DatasetInfo) *node {
	n := elem("DatasetIdentificationInformation",
		textElem("S100:encodingSpecification", "S-100 Part 10b"),
		textElem("S100:encodingSpecificationEdition", "1.0"),
		textElem("S100:productIdentifier", ProductIdentifier),
		textElem("S100:productEdition", info.ProductEdition),
		textElem("S100:applicationProfile", "1"),
		textElem("S100:datasetFileIdentifier", info.FileIdentifier),
		textElem("S100:datasetTitle", info.Title),
	)
	if !info.ReferenceDate.IsZero() {
		n.add(textElem("S100:datasetReferenceDate", string(aton.DateOf(info.ReferenceDate.UTC()))))
	}
	n.add(
		textElem("S100:datasetLanguage", info.Language),
		textElem("S100:datasetAbstract", info.Abstract),
		textElem("S100:datasetEdition", info.Edition),
	)
	return n
}

func entityNode(e *aton.Entity, entityIDs, aggregationIDs, associationIDs []string, id string) (*node, error) {
	if !e.Type.Known() {
		return nil, ErrValidation.Msg(fmt.Sprintf("aton %q has no S-125 type", e.AtonNumber))
	}
	n := elem("S125:"+e.Type.Tag()).attr("gml:id", id)
	n.add(
		optText("atonNumber", e.AtonNumber),
		optText("idCode", e.IDCode),
		optText("textualDescription", e.TextualDescription),
		optText("textualDescriptionInNationalLanguage", e.TextualDescriptionInNationalLanguage),
	)
	for _, fn := range e.FeatureNames {
		f := elem("featureName", optText("name", fn.Name), optText("language", fn.Language))
		if fn.DisplayName {
			f.add(textElem("displayName", "true"))
		}
		n.add(f)
	}
	for _, in := range e.Informations {
		n.add(elem("information",
			optText("headline", in.Headline),
			optText("text", in.Text),
			optText("language", in.Language),
			optText("fileLocator", in.FileLocator),
			optText("fileReference", in.FileReference),
		))
	}
	n.add(
		optText("dateStart", string(e.DateStart)),
		optText("dateEnd", string(e.DateEnd)),
		optText("periodStart", string(e.PeriodStart)),
		optText("periodEnd", string(e.PeriodEnd)),
	)
	if e.ScaleMinimum != 0 {
		n.add(textElem("scaleMinimum", strconv.Itoa(e.ScaleMinimum)))
	}
	for _, a := range e.Attributes {
		n.add(textElem(a.Name, a.Value))
	}
	if e.Parent != aton.NoParent {
		n.add(peerLinks("parent", []int{e.Parent}, entityIDs, aton.RoleParent)...)
	}
	n.add(peerLinks("child", e.Children, entityIDs, aton.RoleChild)...)
	n.add(peerLinks("peerAtonAggregation", e.Aggregations, aggregationIDs, aton.RoleAggregation)...)
	n.add(peerLinks("peerAtonAssociation", e.Associations, associationIDs, aton.RoleAssociation)...)

	geom, err := geometryNode(e.Geometry, id)
	if err != nil {
		return nil, ErrValidation.MsgErr(fmt.Sprintf("aton %q has an invalid geometry", e.AtonNumber), err)
	}
	n.add(geom)
	return n, nil
}

func peerLinks(name string, refs []int, ids []string, role aton.Role) []*node {
	out := make([]*node, 0, len(refs))
	for _, r := range refs {
		if r < 0 || r >= len(ids) {
			continue
		}
		out = append(out, elem(name).
			attr("xlink:href", "#"+ids[r]).
			attr("xlink:role", string(role)).
			attr("xlink:arcrole", role.Arcrole()))
	}
	return out
}

func optText(name, value string) *node {
	if value == "" {
		return nil
	}
	return textElem(name, value)
}

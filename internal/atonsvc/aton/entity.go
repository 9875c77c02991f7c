// Package aton holds the AtoN domain model: one shared entity shape refined by a
// closed type table, and an arena graph that links entities by index.
package aton

import (
	"github.com/paulmach/orb"
)

// NoParent marks an unattached equipment entity.
const NoParent = -1

type FeatureName struct {
	Name        string `json:"name"`
	Language    string `json:"language,omitempty"`
	DisplayName bool   `json:"displayName,omitempty"`
}

type Information struct {
	Headline      string `json:"headline,omitempty"`
	Text          string `json:"text,omitempty"`
	Language      string `json:"language,omitempty"`
	FileLocator   string `json:"fileLocator,omitempty"`
	FileReference string `json:"fileReference,omitempty"`
}

// Attribute is a type-specific simple property (colour, category, shape...)
// kept in document order.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Entity is one aid to navigation. Links to other entities are arena indices
// into the owning Graph and are meaningless outside of it.
type Entity struct {
	ID      int64  `json:"id"`
	LocalID string `json:"-"`
	Type    Type   `json:"type"`

	AtonNumber                           string        `json:"atonNumber"`
	IDCode                               string        `json:"idCode,omitempty"`
	TextualDescription                   string        `json:"textualDescription,omitempty"`
	TextualDescriptionInNationalLanguage string        `json:"textualDescriptionInNationalLanguage,omitempty"`
	FeatureNames                         []FeatureName `json:"featureNames,omitempty"`
	Informations                         []Information `json:"informations,omitempty"`
	DateStart                            TruncatedDate `json:"dateStart,omitempty"`
	DateEnd                              TruncatedDate `json:"dateEnd,omitempty"`
	PeriodStart                          TruncatedDate `json:"periodStart,omitempty"`
	PeriodEnd                            TruncatedDate `json:"periodEnd,omitempty"`
	ScaleMinimum                         int           `json:"scaleMinimum,omitempty"`
	Attributes                           []Attribute   `json:"attributes,omitempty"`
	Geometry                             orb.Geometry  `json:"-"`

	Parent       int   `json:"-"`
	Children     []int `json:"-"`
	Aggregations []int `json:"-"`
	Associations []int `json:"-"`
}

// NewEntity returns an entity of the given type with no links.
func NewEntity(t Type, localID string) Entity {
	return Entity{Type: t, LocalID: localID, Parent: NoParent}
}

func (e *Entity) Kind() Kind {
	return e.Type.Kind()
}

func (e *Entity) HasParent() bool {
	return e.Parent != NoParent
}

// Attr returns the first attribute value with the given name.
func (e *Entity) Attr(name string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Peering is the shape shared by aggregations and associations: a category
// and an unordered set of peer entities.
type Peering struct {
	ID       int64  `json:"id"`
	LocalID  string `json:"-"`
	Category string `json:"category,omitempty"`
	Peers    []int  `json:"-"`
}

type Aggregation struct {
	Peering
}

type Association struct {
	Peering
}

// PeerSet is a peering as it is stored: a category and the AtoN numbers of
// its peers. Stored peerings carry no identifier of their own, so a set is
// identified by its kind, category and members.
type PeerSet struct {
	Category string
	Numbers  []string
}

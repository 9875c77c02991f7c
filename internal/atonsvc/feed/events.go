package feed

import "github.com/paulmach/orb"

const (
	TopicSaved   = "aton.saved"
	TopicDeleted = "aton.deleted"
)

type AtonEventKind int

const (
	AtonSaved AtonEventKind = iota + 1
	AtonDeleted
)

func (k AtonEventKind) String() string {
	switch k {
	case AtonSaved:
		return "saved"
	case AtonDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

func (k AtonEventKind) Topic() string {
	if k == AtonDeleted {
		return TopicDeleted
	}
	return TopicSaved
}

// AtonEvent is published once per processed feed message.
type AtonEvent struct {
	Kind        AtonEventKind
	AtonNumbers []string
	Geometry    orb.Geometry
}

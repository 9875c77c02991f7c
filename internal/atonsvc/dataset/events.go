package dataset

import (
	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
)

const (
	TopicPublished = "dataset.published"
	TopicDeleted   = "dataset.deleted"
)

// EventKind tells a publication from a withdrawal.
type EventKind int

const (
	EventPublished EventKind = iota
	EventDeleted
)

func (k EventKind) String() string {
	if k == EventDeleted {
		return "deleted"
	}
	return "published"
}

func (k EventKind) Topic() string {
	if k == EventDeleted {
		return TopicDeleted
	}
	return TopicPublished
}

// Event is published on the bus whenever a dataset gets new content or is
// withdrawn. Dataset is a snapshot taken when the event was raised.
type Event struct {
	Kind       EventKind        `json:"kind"`
	Operation  models.Operation `json:"operation"`
	SequenceNo int64            `json:"sequenceNo"`
	Dataset    models.Dataset   `json:"dataset"`
}

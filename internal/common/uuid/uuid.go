// Package uuid wraps github.com/google/uuid with time-ordered (v7) generation as the default.
package uuid

import (
	"github.com/google/uuid"
)

type UUID = uuid.UUID

var Nil = uuid.Nil

// New returns a new UUIDv7. Panics if the random source fails.
func New() UUID {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id
}

func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

func MustParse(s string) UUID {
	return uuid.MustParse(s)
}

// Ptr returns a pointer to a copy of id, or nil for the zero UUID.
func Ptr(id UUID) *UUID {
	if id == Nil {
		return nil
	}
	return &id
}

// NullUUID is a UUID that may be SQL NULL.
type NullUUID = uuid.NullUUID

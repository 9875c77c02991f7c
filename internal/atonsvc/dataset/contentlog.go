package dataset

import (
	"context"
	"time"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

// ContentLog answers history queries over the content log. Entries are
// returned in sequence order.
type ContentLog struct {
	store ContentStore
}

// NewContentLog returns a history view over store.
func NewContentLog(store ContentStore) *ContentLog {
	return &ContentLog{store: store}
}

// FindOriginal returns the entry with sequence number 0.
func (l *ContentLog) FindOriginal(ctx context.Context, id uuid.UUID) (*models.ContentLogEntry, apperrors.Error) {
	e, err := l.store.FindOriginal(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	return e, nil
}

// FindDeltas returns every entry after the original.
func (l *ContentLog) FindDeltas(ctx context.Context, id uuid.UUID) ([]models.ContentLogEntry, apperrors.Error) {
	return l.store.FindDeltas(ctx, id)
}

// FindLatest returns the newest entry generated at or before asOf. A zero
// asOf means now.
func (l *ContentLog) FindLatest(ctx context.Context, id uuid.UUID, asOf time.Time) (*models.ContentLogEntry, apperrors.Error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	e, err := l.store.FindLatest(ctx, id, asOf)
	if err != nil {
		return nil, notFound(err, id)
	}
	return e, nil
}

// FindForUUIDDuring returns the entries generated within [from, to].
func (l *ContentLog) FindForUUIDDuring(ctx context.Context, id uuid.UUID, from, to time.Time) ([]models.ContentLogEntry, apperrors.Error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, ErrValidation.Msg("time range ends before it starts")
	}
	if to.IsZero() {
		to = time.Now()
	}
	return l.store.FindDuring(ctx, id, from, to)
}

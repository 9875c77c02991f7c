package dataset

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/grad-enav/atonservice/internal/atonsvc/aton"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/dberror"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

// Store persists dataset rows.
type Store interface {
	Create(ctx context.Context, d *models.Dataset) apperrors.Error
	Update(ctx context.Context, d *models.Dataset) apperrors.Error
	Get(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error)
	Touch(ctx context.Context, id uuid.UUID) apperrors.Error
	Delete(ctx context.Context, id uuid.UUID) apperrors.Error
	Find(ctx context.Context, f models.DatasetFilter, page models.Page) (*models.DatasetPage, apperrors.Error)
}

// ContentStore persists the current content of each dataset and the
// append-only content log.
type ContentStore interface {
	GetContent(ctx context.Context, id uuid.UUID) (*models.DatasetContent, apperrors.Error)
	Publish(ctx context.Context, c *models.DatasetContent, entry *models.ContentLogEntry) apperrors.Error
	AppendLog(ctx context.Context, entry *models.ContentLogEntry) apperrors.Error
	LastSequence(ctx context.Context, id uuid.UUID) (int64, apperrors.Error)
	FindOriginal(ctx context.Context, id uuid.UUID) (*models.ContentLogEntry, apperrors.Error)
	FindDeltas(ctx context.Context, id uuid.UUID) ([]models.ContentLogEntry, apperrors.Error)
	FindLatest(ctx context.Context, id uuid.UUID, asOf time.Time) (*models.ContentLogEntry, apperrors.Error)
	FindDuring(ctx context.Context, id uuid.UUID, from, to time.Time) ([]models.ContentLogEntry, apperrors.Error)
}

// AtonSource loads the AtoNs whose geometry intersects g. A nil g selects
// every AtoN.
type AtonSource interface {
	LoadGraph(ctx context.Context, g orb.Geometry) (*aton.Graph, apperrors.Error)
}

// Publisher is the part of the event bus the manager needs.
type Publisher interface {
	Publish(topic string, data any, timeout time.Duration) int
}

func notFound(err apperrors.Error, id uuid.UUID) apperrors.Error {
	if errors.Is(err, dberror.ErrNotFound) {
		return ErrNotFound.Msg("dataset " + id.String() + " not found")
	}
	return err
}

package secom

import (
	"context"
	"time"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

// SubscriptionStore persists subscription requests. Replace swaps every
// subscription of the request's client for the request in one step and
// returns the ones it removed.
type SubscriptionStore interface {
	Replace(ctx context.Context, r *models.SubscriptionRequest) ([]models.SubscriptionRequest, apperrors.Error)
	Get(ctx context.Context, id uuid.UUID) (*models.SubscriptionRequest, apperrors.Error)
	Delete(ctx context.Context, id uuid.UUID) apperrors.Error
	FindByClient(ctx context.Context, mrn string) ([]models.SubscriptionRequest, apperrors.Error)
	FindByDataReference(ctx context.Context, id uuid.UUID) ([]models.SubscriptionRequest, apperrors.Error)
	FindMatching(ctx context.Context, c models.SubscriptionCriteria) ([]models.SubscriptionRequest, apperrors.Error)
	TouchLastAttempted(ctx context.Context, id uuid.UUID, at time.Time) apperrors.Error
}

// DatasetSource resolves dataset references and current content.
type DatasetSource interface {
	FindOne(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error)
	Content(ctx context.Context, id uuid.UUID) (*models.DatasetContent, apperrors.Error)
}

// Packager bundles the content a dataset had within [from, to] into an
// exchange set archive.
type Packager interface {
	Package(ctx context.Context, d *models.Dataset, from, to time.Time) ([]byte, error)
}

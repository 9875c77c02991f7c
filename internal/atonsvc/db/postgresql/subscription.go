package postgresql

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/dberror"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

// SubscriptionStore keeps SECOM subscription requests.
type SubscriptionStore struct {
	db *sql.DB
}

const subscriptionColumns = `uuid, client_mrn, COALESCE(container_type, ''), COALESCE(data_product_type, ''),
	COALESCE(product_version, ''), data_reference, ST_AsText(geometry), subscription_period_start,
	subscription_period_end, created_at, updated_at, last_attempted_at`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SubscriptionStore) Create(ctx context.Context, r *models.SubscriptionRequest) apperrors.Error {
	return insertSubscription(ctx, s.db, r)
}

// Replace removes every subscription of r's client and stores r in their
// place. Nothing changes when either step fails. The removed subscriptions
// are returned.
func (s *SubscriptionStore) Replace(ctx context.Context, r *models.SubscriptionRequest) ([]models.SubscriptionRequest, apperrors.Error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to start transaction")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rollback(ctx, tx)

	removed, aerr := manySubscriptions(ctx, tx,
		`DELETE FROM subscription_requests WHERE client_mrn = $1 RETURNING `+subscriptionColumns, r.ClientMRN)
	if aerr != nil {
		return nil, aerr
	}
	if aerr := insertSubscription(ctx, tx, r); aerr != nil {
		return nil, aerr
	}
	if err := tx.Commit(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to commit transaction")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return removed, nil
}

func insertSubscription(ctx context.Context, q queryRower, r *models.SubscriptionRequest) apperrors.Error {
	if r.UUID == uuid.Nil {
		r.UUID = uuid.New()
	}
	query := `
		INSERT INTO subscription_requests (uuid, client_mrn, container_type, data_product_type, product_version,
			data_reference, geometry, subscription_period_start, subscription_period_end)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, ST_GeomFromText($7, 4326), $8, $9)
		RETURNING created_at, updated_at`
	row := q.QueryRowContext(ctx, query, r.UUID, r.ClientMRN, string(r.ContainerType), r.DataProductType,
		r.ProductVersion, nullUUID(r.DataReference), geomArg(r.Geometry), nullTime(r.SubscriptionPeriodStart),
		nullTime(r.SubscriptionPeriodEnd))
	if err := row.Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		return mapError(ctx, err, "subscription")
	}
	return nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*models.SubscriptionRequest, apperrors.Error) {
	r, err := scanSubscription(s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscription_requests WHERE uuid = $1`, id))
	if err != nil {
		return nil, mapError(ctx, err, "subscription")
	}
	return r, nil
}

func (s *SubscriptionStore) Delete(ctx context.Context, id uuid.UUID) apperrors.Error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscription_requests WHERE uuid = $1`, id)
	if err != nil {
		return mapError(ctx, err, "subscription")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("subscription not found")
	}
	return nil
}

// FindByClient returns the subscriptions of one client, oldest first.
func (s *SubscriptionStore) FindByClient(ctx context.Context, mrn string) ([]models.SubscriptionRequest, apperrors.Error) {
	return s.many(ctx, `SELECT `+subscriptionColumns+` FROM subscription_requests WHERE client_mrn = $1 ORDER BY created_at`, mrn)
}

func (s *SubscriptionStore) FindByDataReference(ctx context.Context, id uuid.UUID) ([]models.SubscriptionRequest, apperrors.Error) {
	return s.many(ctx, `SELECT `+subscriptionColumns+` FROM subscription_requests WHERE data_reference = $1 ORDER BY created_at`, id)
}

// FindMatching returns the subscriptions compatible with the criteria. A
// null column or a zero criterion matches anything.
func (s *SubscriptionStore) FindMatching(ctx context.Context, c models.SubscriptionCriteria) ([]models.SubscriptionRequest, apperrors.Error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscription_requests
		WHERE ($1::text IS NULL OR container_type IS NULL OR container_type = $1)
		AND ($2::text IS NULL OR data_product_type IS NULL OR data_product_type = $2)
		AND ($3::text IS NULL OR product_version IS NULL OR product_version = $3)
		AND ($4::uuid IS NULL OR data_reference IS NULL OR data_reference = $4)
		AND ($5::text IS NULL OR geometry IS NULL OR ST_Intersects(geometry, ST_GeomFromText($5, 4326)))
		AND ($6::timestamptz IS NULL OR (
			(subscription_period_start IS NULL OR subscription_period_start <= $6)
			AND (subscription_period_end IS NULL OR subscription_period_end >= $6)))
		ORDER BY created_at`
	return s.many(ctx, query, nullString(string(c.ContainerType)), nullString(c.ProductType),
		nullString(c.ProductVersion), nullUUID(c.DataReference), geomArg(c.Geometry), nullTime(c.AsOf))
}

// TouchLastAttempted records a delivery attempt.
func (s *SubscriptionStore) TouchLastAttempted(ctx context.Context, id uuid.UUID, at time.Time) apperrors.Error {
	res, err := s.db.ExecContext(ctx, `UPDATE subscription_requests SET last_attempted_at = $2 WHERE uuid = $1`, id, at)
	if err != nil {
		return mapError(ctx, err, "subscription")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("subscription not found")
	}
	return nil
}

func (s *SubscriptionStore) many(ctx context.Context, query string, args ...any) ([]models.SubscriptionRequest, apperrors.Error) {
	return manySubscriptions(ctx, s.db, query, args...)
}

func manySubscriptions(ctx context.Context, q queryRower, query string, args ...any) ([]models.SubscriptionRequest, apperrors.Error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(ctx, err, "subscription")
	}
	defer rows.Close()
	out := []models.SubscriptionRequest{}
	for rows.Next() {
		r, err := scanSubscription(rows)
		if err != nil {
			return nil, mapError(ctx, err, "subscription")
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, err, "subscription")
	}
	return out, nil
}

func scanSubscription(row scanner) (*models.SubscriptionRequest, error) {
	var (
		r                       models.SubscriptionRequest
		container               string
		ref                     uuid.NullUUID
		wkt                     sql.NullString
		start, end, lastAttempt sql.NullTime
	)
	err := row.Scan(&r.UUID, &r.ClientMRN, &container, &r.DataProductType, &r.ProductVersion, &ref, &wkt,
		&start, &end, &r.CreatedAt, &r.UpdatedAt, &lastAttempt)
	if err != nil {
		return nil, err
	}
	r.ContainerType = models.ContainerType(container)
	if ref.Valid {
		r.DataReference = uuid.Ptr(ref.UUID)
	}
	if r.Geometry, err = scanGeom(wkt); err != nil {
		return nil, err
	}
	r.SubscriptionPeriodStart = timePtr(start)
	r.SubscriptionPeriodEnd = timePtr(end)
	r.LastAttemptedAt = timePtr(lastAttempt)
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

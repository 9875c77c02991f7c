// Package postgresql implements the stores on PostgreSQL with PostGIS.
// Geometry crosses the boundary as EPSG:4326 WKT.
package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/golang/snappy"
	"github.com/jackc/pgconn"
	jsonitor "github.com/json-iterator/go"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/dberror"
	"github.com/grad-enav/atonservice/internal/atonsvc/geo"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
)

var json = jsonitor.ConfigCompatibleWithStandardLibrary

const uniqueViolation = "23505"

// Stores groups every store on one handle.
type Stores struct {
	Atons         *AtonStore
	Datasets      *DatasetStore
	Content       *ContentStore
	Subscriptions *SubscriptionStore
}

// NewStores returns every store over one handle.
func NewStores(db *sql.DB) *Stores {
	return &Stores{
		Atons:         &AtonStore{db: db},
		Datasets:      &DatasetStore{db: db},
		Content:       &ContentStore{db: db},
		Subscriptions: &SubscriptionStore{db: db},
	}
}

// geomArg renders a geometry parameter. A nil geometry is SQL NULL.
func geomArg(g orb.Geometry) sql.NullString {
	if g == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: geo.WKT(g), Valid: true}
}

func scanGeom(s sql.NullString) (orb.Geometry, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	g, err := geo.ParseWKT(s.String)
	if err != nil {
		return nil, dberror.ErrInvalidWKT.Err(err)
	}
	return g, nil
}

func compress(b []byte) []byte {
	if b == nil {
		return nil
	}
	return snappy.Encode(nil, b)
}

func decompress(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	out, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, dberror.ErrDatabase.MsgErr("corrupt blob", err)
	}
	return out, nil
}

// mapError converts driver errors to db errors.
func mapError(ctx context.Context, err error, what string) apperrors.Error {
	if errors.Is(err, sql.ErrNoRows) {
		return dberror.ErrNotFound.Msg(what + " not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return dberror.ErrAlreadyExists.Msg(what + " already exists")
	}
	log.Ctx(ctx).Error().Err(err).Str("entity", what).Msg("database operation failed")
	return dberror.ErrDatabase.Err(err)
}

func rollback(ctx context.Context, tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Ctx(ctx).Error().Err(err).Msg("failed to rollback transaction")
	}
}

package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/dberror"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

// DatasetStore keeps dataset definitions in s125_datasets.
type DatasetStore struct {
	db *sql.DB
}

const datasetColumns = `uuid, COALESCE(file_identifier, ''), title, COALESCE(abstract, ''), COALESCE(edition, ''),
	COALESCE(language, ''), COALESCE(product_edition, ''), ST_AsText(geometry), cancelled, created_at, last_updated_at`

// Create inserts a new dataset. A duplicate UUID is ErrAlreadyExists.
func (s *DatasetStore) Create(ctx context.Context, d *models.Dataset) apperrors.Error {
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	query := `
		INSERT INTO s125_datasets (uuid, file_identifier, title, abstract, edition, language, product_edition, geometry, cancelled)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), ST_GeomFromText($8, 4326), $9)
		RETURNING created_at, last_updated_at`
	row := s.db.QueryRowContext(ctx, query, d.UUID, d.FileIdentifier, d.Title, d.Abstract, d.Edition,
		d.Language, d.ProductEdition, geomArg(d.Geometry), d.Cancelled)
	if err := row.Scan(&d.CreatedAt, &d.LastUpdatedAt); err != nil {
		return mapError(ctx, err, "dataset")
	}
	return nil
}

// Update rewrites the identification and geometry of an existing dataset.
func (s *DatasetStore) Update(ctx context.Context, d *models.Dataset) apperrors.Error {
	query := `
		UPDATE s125_datasets SET
			file_identifier = NULLIF($2, ''), title = $3, abstract = NULLIF($4, ''), edition = NULLIF($5, ''),
			language = NULLIF($6, ''), product_edition = NULLIF($7, ''), geometry = ST_GeomFromText($8, 4326),
			cancelled = $9, last_updated_at = NOW()
		WHERE uuid = $1
		RETURNING created_at, last_updated_at`
	row := s.db.QueryRowContext(ctx, query, d.UUID, d.FileIdentifier, d.Title, d.Abstract, d.Edition,
		d.Language, d.ProductEdition, geomArg(d.Geometry), d.Cancelled)
	if err := row.Scan(&d.CreatedAt, &d.LastUpdatedAt); err != nil {
		return mapError(ctx, err, "dataset")
	}
	return nil
}

// Get returns a dataset by UUID or ErrNotFound.
func (s *DatasetStore) Get(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM s125_datasets WHERE uuid = $1`, id)
	d, err := scanDataset(row)
	if err != nil {
		return nil, mapError(ctx, err, "dataset")
	}
	return d, nil
}

// Touch bumps last_updated_at, recording that the content changed.
func (s *DatasetStore) Touch(ctx context.Context, id uuid.UUID) apperrors.Error {
	res, err := s.db.ExecContext(ctx, `UPDATE s125_datasets SET last_updated_at = NOW() WHERE uuid = $1`, id)
	if err != nil {
		return mapError(ctx, err, "dataset")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("dataset not found")
	}
	return nil
}

func (s *DatasetStore) Delete(ctx context.Context, id uuid.UUID) apperrors.Error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM s125_datasets WHERE uuid = $1`, id)
	if err != nil {
		return mapError(ctx, err, "dataset")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("dataset not found")
	}
	return nil
}

// Find pages through datasets matching the filter, newest update first.
func (s *DatasetStore) Find(ctx context.Context, f models.DatasetFilter, page models.Page) (*models.DatasetPage, apperrors.Error) {
	page = page.Normalize()
	where, args := datasetWhere(f)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM s125_datasets`+where, args...).Scan(&total); err != nil {
		return nil, mapError(ctx, err, "dataset")
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM s125_datasets%s ORDER BY last_updated_at DESC, uuid LIMIT $%d OFFSET $%d`,
		datasetColumns, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(ctx, err, "dataset")
	}
	defer rows.Close()

	out := &models.DatasetPage{Total: total, Page: page, Items: []models.Dataset{}}
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, mapError(ctx, err, "dataset")
		}
		out.Items = append(out.Items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, err, "dataset")
	}
	return out, nil
}

func datasetWhere(f models.DatasetFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.UUID != nil {
		conds = append(conds, "uuid = "+next(*f.UUID))
	}
	if f.Geometry != nil {
		conds = append(conds, "ST_Intersects(geometry, ST_GeomFromText("+next(geomArg(f.Geometry))+", 4326))")
	}
	if f.From != nil {
		conds = append(conds, "last_updated_at >= "+next(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "last_updated_at <= "+next(*f.To))
	}
	if !f.IncludeCancelled {
		conds = append(conds, "cancelled = false")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanDataset(row scanner) (*models.Dataset, error) {
	var (
		d   models.Dataset
		wkt sql.NullString
	)
	err := row.Scan(&d.UUID, &d.FileIdentifier, &d.Title, &d.Abstract, &d.Edition, &d.Language,
		&d.ProductEdition, &wkt, &d.Cancelled, &d.CreatedAt, &d.LastUpdatedAt)
	if err != nil {
		return nil, err
	}
	if d.Geometry, err = scanGeom(wkt); err != nil {
		return nil, err
	}
	return &d, nil
}

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

// ContentStore keeps the current content of each dataset and its append-only
// log. Blobs are snappy compressed at rest.
type ContentStore struct {
	db *sql.DB
}

func (s *ContentStore) GetContent(ctx context.Context, id uuid.UUID) (*models.DatasetContent, apperrors.Error) {
	query := `
		SELECT uuid, sequence_no, content, content_length, delta, delta_length, generated_at
		FROM dataset_content WHERE uuid = $1`
	var (
		c            models.DatasetContent
		content, dlt []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.UUID, &c.SequenceNo, &content, &c.ContentLength, &dlt, &c.DeltaLength, &c.GeneratedAt)
	if err != nil {
		return nil, mapError(ctx, err, "dataset content")
	}
	if c.Content, err = decompress(content); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	if c.Delta, err = decompress(dlt); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return &c, nil
}

// Publish stores content as the current content and appends the log entry in
// one transaction. The entry's sequence number must be unused.
func (s *ContentStore) Publish(ctx context.Context, c *models.DatasetContent, entry *models.ContentLogEntry) apperrors.Error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to start transaction")
		return dberror.ErrDatabase.Err(err)
	}
	defer rollback(ctx, tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dataset_content (uuid, sequence_no, content, content_length, delta, delta_length, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uuid) DO UPDATE SET
			sequence_no = EXCLUDED.sequence_no,
			content = EXCLUDED.content,
			content_length = EXCLUDED.content_length,
			delta = EXCLUDED.delta,
			delta_length = EXCLUDED.delta_length,
			generated_at = EXCLUDED.generated_at`,
		c.UUID, c.SequenceNo, compress(c.Content), c.ContentLength, compress(c.Delta), c.DeltaLength, c.GeneratedAt)
	if err != nil {
		return mapError(ctx, err, "dataset content")
	}
	if err := appendLog(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// AppendLog records an entry without touching the current content.
func (s *ContentStore) AppendLog(ctx context.Context, entry *models.ContentLogEntry) apperrors.Error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to start transaction")
		return dberror.ErrDatabase.Err(err)
	}
	defer rollback(ctx, tx)
	if err := appendLog(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func appendLog(ctx context.Context, tx *sql.Tx, e *models.ContentLogEntry) apperrors.Error {
	if e.DatasetType == "" {
		e.DatasetType = models.DatasetTypeS125
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO dataset_content_log (uuid, dataset_type, sequence_no, operation, content, content_length, delta, delta_length, geometry, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, ST_GeomFromText($9, 4326), $10)
		RETURNING id`,
		e.UUID, e.DatasetType, e.SequenceNo, string(e.Operation), compress(e.Content), e.ContentLength,
		compress(e.Delta), e.DeltaLength, geomArg(e.Geometry), e.GeneratedAt)
	if err := row.Scan(&e.ID); err != nil {
		return mapError(ctx, err, "content log entry")
	}
	return nil
}

const logColumns = `id, uuid, dataset_type, sequence_no, operation, content, content_length, delta, delta_length, ST_AsText(geometry), generated_at`

// LastSequence returns the highest logged sequence number, or -1 when the
// dataset has no log.
func (s *ContentStore) LastSequence(ctx context.Context, id uuid.UUID) (int64, apperrors.Error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence_no) FROM dataset_content_log WHERE uuid = $1`, id).Scan(&seq); err != nil {
		return 0, mapError(ctx, err, "content log entry")
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// FindOriginal returns the first entry of a dataset.
func (s *ContentStore) FindOriginal(ctx context.Context, id uuid.UUID) (*models.ContentLogEntry, apperrors.Error) {
	return s.one(ctx, `SELECT `+logColumns+` FROM dataset_content_log WHERE uuid = $1 AND sequence_no = 0`, id)
}

// FindDeltas returns every entry after the original in sequence order.
func (s *ContentStore) FindDeltas(ctx context.Context, id uuid.UUID) ([]models.ContentLogEntry, apperrors.Error) {
	return s.many(ctx, `SELECT `+logColumns+` FROM dataset_content_log WHERE uuid = $1 AND sequence_no > 0 ORDER BY sequence_no`, id)
}

// FindLatest returns the newest entry generated at or before asOf.
func (s *ContentStore) FindLatest(ctx context.Context, id uuid.UUID, asOf time.Time) (*models.ContentLogEntry, apperrors.Error) {
	return s.one(ctx, `SELECT `+logColumns+` FROM dataset_content_log
		WHERE uuid = $1 AND generated_at <= $2 ORDER BY sequence_no DESC LIMIT 1`, id, asOf)
}

// FindDuring returns the entries generated within [from, to] in sequence order.
func (s *ContentStore) FindDuring(ctx context.Context, id uuid.UUID, from, to time.Time) ([]models.ContentLogEntry, apperrors.Error) {
	return s.many(ctx, `SELECT `+logColumns+` FROM dataset_content_log
		WHERE uuid = $1 AND generated_at >= $2 AND generated_at <= $3 ORDER BY sequence_no`, id, from, to)
}

func (s *ContentStore) one(ctx context.Context, query string, args ...any) (*models.ContentLogEntry, apperrors.Error) {
	e, err := scanLogEntry(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapError(ctx, err, "content log entry")
	}
	return e, nil
}

func (s *ContentStore) many(ctx context.Context, query string, args ...any) ([]models.ContentLogEntry, apperrors.Error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(ctx, err, "content log entry")
	}
	defer rows.Close()
	out := []models.ContentLogEntry{}
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, mapError(ctx, err, "content log entry")
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, err, "content log entry")
	}
	return out, nil
}

func scanLogEntry(row scanner) (*models.ContentLogEntry, error) {
	var (
		e            models.ContentLogEntry
		op           string
		content, dlt []byte
		wkt          sql.NullString
	)
	err := row.Scan(&e.ID, &e.UUID, &e.DatasetType, &e.SequenceNo, &op, &content, &e.ContentLength,
		&dlt, &e.DeltaLength, &wkt, &e.GeneratedAt)
	if err != nil {
		return nil, err
	}
	e.Operation = models.Operation(op)
	if e.Content, err = decompress(content); err != nil {
		return nil, err
	}
	if e.Delta, err = decompress(dlt); err != nil {
		return nil, err
	}
	if e.Geometry, err = scanGeom(wkt); err != nil {
		return nil, err
	}
	return &e, nil
}

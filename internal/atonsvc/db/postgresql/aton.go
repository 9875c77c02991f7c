package postgresql

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/jackc/pgtype"
	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/atonsvc/aton"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/dberror"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
)

const (
	peeringAggregation = "aggregation"
	peeringAssociation = "association"
)

// AtonStore keeps one row per AtoN number. Links are stored by AtoN number
// and resolved into a graph when loaded.
type AtonStore struct {
	db *sql.DB
}

// Save upserts the entity keyed by its AtoN number and returns the row id.
// Concurrent saves of the same number serialise on the row.
func (s *AtonStore) Save(ctx context.Context, e *aton.Entity, parentNumber string) (int64, apperrors.Error) {
	if strings.TrimSpace(e.AtonNumber) == "" {
		return 0, dberror.ErrInvalidInput.Msg("aton number is required")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return 0, dberror.ErrInvalidInput.MsgErr("unable to encode aton", err)
	}
	var jsonb pgtype.JSONB
	if err := jsonb.Set(body); err != nil {
		return 0, dberror.ErrInvalidInput.MsgErr("unable to encode aton", err)
	}

	query := `
		INSERT INTO aids_to_navigation (aton_number, id_code, type, parent_number, body, geometry)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, ST_GeomFromText($6, 4326))
		ON CONFLICT (aton_number) DO UPDATE SET
			id_code = EXCLUDED.id_code,
			type = EXCLUDED.type,
			parent_number = EXCLUDED.parent_number,
			body = EXCLUDED.body,
			geometry = EXCLUDED.geometry,
			updated_at = NOW()
		RETURNING id`

	var id int64
	row := s.db.QueryRowContext(ctx, query, e.AtonNumber, e.IDCode, e.Type.Tag(), parentNumber, jsonb, geomArg(e.Geometry))
	if err := row.Scan(&id); err != nil {
		return 0, mapError(ctx, err, "aton")
	}
	e.ID = id
	return id, nil
}

// SyncPeerings makes the stored peerings of one kind that include any of
// the changed AtoN numbers equal to sets. Sets not stored yet are inserted,
// stored ones are kept and every other peering of that kind including a
// changed number is deleted. It returns how many peerings were deleted.
func (s *AtonStore) SyncPeerings(ctx context.Context, kind string, changed []string, sets []aton.PeerSet) (int64, apperrors.Error) {
	if kind != peeringAggregation && kind != peeringAssociation {
		return 0, dberror.ErrInvalidInput.Msg("unknown peering kind " + kind)
	}
	if len(changed) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to start transaction")
		return 0, dberror.ErrDatabase.Err(err)
	}
	defer rollback(ctx, tx)

	upsert := `
		INSERT INTO aton_peerings (kind, category, peer_key, peers)
		VALUES ($1, NULLIF($2, ''), $3, $4)
		ON CONFLICT (peer_key) DO UPDATE SET peers = EXCLUDED.peers
		RETURNING id`
	keep := make([]int64, 0, len(sets))
	for _, set := range sets {
		peers := sortedPeers(set.Numbers)
		if len(peers) < 2 {
			continue
		}
		var id int64
		key := peerKey(kind, set.Category, peers)
		if err := tx.QueryRowContext(ctx, upsert, kind, set.Category, key, pq.Array(peers)).Scan(&id); err != nil {
			return 0, mapError(ctx, err, "peering")
		}
		keep = append(keep, id)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM aton_peerings
		WHERE kind = $1 AND peers && $2::text[] AND NOT (id = ANY($3::bigint[]))`,
		kind, pq.Array(changed), pq.Array(keep))
	if err != nil {
		return 0, mapError(ctx, err, "peering")
	}
	removed, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to commit transaction")
		return 0, dberror.ErrDatabase.Err(err)
	}
	if removed > 0 {
		log.Ctx(ctx).Debug().Str("kind", kind).Int64("removed", removed).Msg("obsolete peerings removed")
	}
	return removed, nil
}

// sortedPeers returns the distinct non-blank numbers in order.
func sortedPeers(numbers []string) []string {
	peers := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if strings.TrimSpace(n) != "" {
			peers = append(peers, n)
		}
	}
	sort.Strings(peers)
	out := peers[:0]
	for i, n := range peers {
		if i == 0 || n != peers[i-1] {
			out = append(out, n)
		}
	}
	return out
}

func peerKey(kind, category string, peers []string) string {
	return kind + "|" + category + "|" + strings.Join(peers, ",")
}

const atonColumns = `id, aton_number, parent_number, body, ST_AsText(geometry)`

// FindByNumbers returns the stored entities for the given numbers; unknown
// numbers are skipped.
func (s *AtonStore) FindByNumbers(ctx context.Context, numbers []string) ([]aton.Entity, apperrors.Error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	query := `SELECT ` + atonColumns + ` FROM aids_to_navigation WHERE aton_number = ANY($1) ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(numbers))
	if err != nil {
		return nil, mapError(ctx, err, "aton")
	}
	defer rows.Close()

	var out []aton.Entity
	for rows.Next() {
		e, _, err := scanAton(rows)
		if err != nil {
			return nil, mapError(ctx, err, "aton")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, err, "aton")
	}
	return out, nil
}

// DeleteByNumbers removes the entities and strips them from every peering.
// Peerings left with fewer than two peers are removed as well.
func (s *AtonStore) DeleteByNumbers(ctx context.Context, numbers []string) (int64, apperrors.Error) {
	if len(numbers) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to start transaction")
		return 0, dberror.ErrDatabase.Err(err)
	}
	defer rollback(ctx, tx)

	res, err := tx.ExecContext(ctx, `DELETE FROM aids_to_navigation WHERE aton_number = ANY($1)`, pq.Array(numbers))
	if err != nil {
		return 0, mapError(ctx, err, "aton")
	}
	deleted, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		UPDATE aton_peerings
		SET peers = ARRAY(SELECT unnest(peers) EXCEPT SELECT unnest($1::text[]))
		WHERE peers && $1::text[]`, pq.Array(numbers))
	if err != nil {
		return 0, mapError(ctx, err, "peering")
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM aton_peerings WHERE cardinality(peers) < 2`); err != nil {
		return 0, mapError(ctx, err, "peering")
	}
	if err := tx.Commit(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to commit transaction")
		return 0, dberror.ErrDatabase.Err(err)
	}
	return deleted, nil
}

// LoadGraph returns every entity whose geometry intersects g, in id order,
// with parent links and peerings among them resolved. A nil g loads all.
func (s *AtonStore) LoadGraph(ctx context.Context, g orb.Geometry) (*aton.Graph, apperrors.Error) {
	query := `SELECT ` + atonColumns + ` FROM aids_to_navigation
		WHERE ($1::text IS NULL OR ST_Intersects(geometry, ST_GeomFromText($1, 4326)))
		ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, geomArg(g))
	if err != nil {
		return nil, mapError(ctx, err, "aton")
	}
	defer rows.Close()

	type pendingParent struct {
		child  int
		number string
	}
	graph := aton.NewGraph()
	var parents []pendingParent
	for rows.Next() {
		e, parent, err := scanAton(rows)
		if err != nil {
			return nil, mapError(ctx, err, "aton")
		}
		i, addErr := graph.Add(e)
		if addErr != nil {
			log.Ctx(ctx).Warn().Err(addErr).Str("aton_number", e.AtonNumber).Msg("skipping duplicate aton")
			continue
		}
		if parent != "" {
			parents = append(parents, pendingParent{child: i, number: parent})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, err, "aton")
	}

	for _, pp := range parents {
		if p, ok := graph.Resolve(pp.number); ok {
			if err := graph.Link(p, pp.child); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("parent", pp.number).Msg("ignoring stored parent link")
			}
		}
	}
	if len(graph.Entities) == 0 {
		return graph, nil
	}
	if err := s.loadPeerings(ctx, graph); err != nil {
		return nil, err
	}
	return graph, nil
}

func (s *AtonStore) loadPeerings(ctx context.Context, graph *aton.Graph) apperrors.Error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, COALESCE(category, ''), peers FROM aton_peerings
		WHERE peers && $1::text[]
		ORDER BY id`, pq.Array(graph.AtonNumbers()))
	if err != nil {
		return mapError(ctx, err, "peering")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p     aton.Peering
			kind  string
			peers []string
		)
		if err := rows.Scan(&p.ID, &kind, &p.Category, pq.Array(&peers)); err != nil {
			return mapError(ctx, err, "peering")
		}
		for _, number := range peers {
			if i, ok := graph.Resolve(number); ok {
				p.Peers = append(p.Peers, i)
			}
		}
		switch kind {
		case peeringAggregation:
			graph.AddAggregation(aton.Aggregation{Peering: p})
		case peeringAssociation:
			graph.AddAssociation(aton.Association{Peering: p})
		}
	}
	if err := rows.Err(); err != nil {
		return mapError(ctx, err, "peering")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAton(row scanner) (aton.Entity, string, error) {
	var (
		id     int64
		number string
		parent sql.NullString
		body   pgtype.JSONB
		wkt    sql.NullString
	)
	if err := row.Scan(&id, &number, &parent, &body, &wkt); err != nil {
		return aton.Entity{}, "", err
	}
	e := aton.NewEntity(aton.TypeUnknown, number)
	if body.Status == pgtype.Present {
		if err := json.Unmarshal(body.Bytes, &e); err != nil {
			return aton.Entity{}, "", err
		}
	}
	e.ID = id
	e.AtonNumber = number
	e.LocalID = number
	e.Parent = aton.NoParent
	geom, err := scanGeom(wkt)
	if err != nil {
		return aton.Entity{}, "", err
	}
	e.Geometry = geom
	return e, parent.String, nil
}

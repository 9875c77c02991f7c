package postgresql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/golang/snappy"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grad-enav/atonservice/internal/atonsvc/aton"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/dberror"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

func newMock(t *testing.T) (*Stores, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStores(db), mock
}

var datasetCols = []string{"uuid", "file_identifier", "title", "abstract", "edition", "language",
	"product_edition", "geometry", "cancelled", "created_at", "last_updated_at"}

func TestDatasetCreate(t *testing.T) {
	stores, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO s125_datasets").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "last_updated_at"}).AddRow(now, now))

	d := &models.Dataset{Title: "Solent", Geometry: orb.Point{-1.3, 50.8}}
	err := stores.Datasets.Create(context.Background(), d)
	require.Nil(t, err)
	assert.NotEqual(t, uuid.Nil, d.UUID)
	assert.Equal(t, now, d.CreatedAt)
	assert.False(t, d.IsNew())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetCreateDuplicate(t *testing.T) {
	stores, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO s125_datasets").WillReturnError(&pgconn.PgError{Code: "23505"})

	err := stores.Datasets.Create(context.Background(), &models.Dataset{UUID: uuid.New(), Title: "Dup"})
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetGet(t *testing.T) {
	stores, mock := newMock(t)
	id := uuid.New()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .* FROM s125_datasets WHERE uuid = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(datasetCols).
			AddRow(id.String(), "", "Solent", "", "1", "en", "", "POINT(-1.3 50.8)", false, now, now))

	d, err := stores.Datasets.Get(context.Background(), id)
	require.Nil(t, err)
	assert.Equal(t, id, d.UUID)
	assert.Equal(t, "Solent", d.Title)
	assert.Equal(t, orb.Point{-1.3, 50.8}, d.Geometry)

	mock.ExpectQuery("SELECT .* FROM s125_datasets").WillReturnError(sql.ErrNoRows)
	_, err = stores.Datasets.Get(context.Background(), uuid.New())
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetFind(t *testing.T) {
	stores, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM s125_datasets WHERE ST_Intersects.* AND cancelled = false").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT .* FROM s125_datasets WHERE .* LIMIT \\$2 OFFSET \\$3").
		WithArgs(sqlmock.AnyArg(), models.DefaultPageSize, 0).
		WillReturnRows(sqlmock.NewRows(datasetCols).
			AddRow(uuid.New().String(), "", "Solent", "", "", "", "", nil, false, now, now))

	page, err := stores.Datasets.Find(context.Background(), models.DatasetFilter{Geometry: orb.Point{-1, 50}}, models.Page{})
	require.Nil(t, err)
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Nil(t, page.Items[0].Geometry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatasetDeleteMissing(t *testing.T) {
	stores, mock := newMock(t)
	mock.ExpectExec("DELETE FROM s125_datasets").WillReturnResult(sqlmock.NewResult(0, 0))

	err := stores.Datasets.Delete(context.Background(), uuid.New())
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestContentPublish(t *testing.T) {
	stores, mock := newMock(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dataset_content \\(").
		WithArgs(id, int64(2), snappy.Encode(nil, []byte("<doc/>")), int64(6), []byte(nil), int64(0), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO dataset_content_log").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	content := &models.DatasetContent{UUID: id, SequenceNo: 2, Content: []byte("<doc/>"), ContentLength: 6, GeneratedAt: now}
	entry := &models.ContentLogEntry{UUID: id, SequenceNo: 2, Operation: models.OperationUpdated, GeneratedAt: now}
	err := stores.Content.Publish(context.Background(), content, entry)
	require.Nil(t, err)
	assert.EqualValues(t, 7, entry.ID)
	assert.Equal(t, models.DatasetTypeS125, entry.DatasetType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContentPublishSequenceTaken(t *testing.T) {
	stores, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dataset_content \\(").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO dataset_content_log").WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := stores.Content.Publish(context.Background(),
		&models.DatasetContent{UUID: uuid.New(), Content: []byte("x")},
		&models.ContentLogEntry{Operation: models.OperationCreated})
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContentGetDecompresses(t *testing.T) {
	stores, mock := newMock(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .* FROM dataset_content WHERE uuid").
		WillReturnRows(sqlmock.NewRows([]string{"uuid", "sequence_no", "content", "content_length", "delta", "delta_length", "generated_at"}).
			AddRow(id.String(), 3, snappy.Encode(nil, []byte("<doc/>")), 6, nil, 0, now))

	c, err := stores.Content.GetContent(context.Background(), id)
	require.Nil(t, err)
	assert.Equal(t, []byte("<doc/>"), c.Content)
	assert.Nil(t, c.Delta)
	assert.EqualValues(t, 3, c.SequenceNo)
}

func TestLastSequence(t *testing.T) {
	stores, mock := newMock(t)

	mock.ExpectQuery("SELECT MAX\\(sequence_no\\)").WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	seq, err := stores.Content.LastSequence(context.Background(), uuid.New())
	require.Nil(t, err)
	assert.EqualValues(t, -1, seq)

	mock.ExpectQuery("SELECT MAX\\(sequence_no\\)").WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))
	seq, err = stores.Content.LastSequence(context.Background(), uuid.New())
	require.Nil(t, err)
	assert.EqualValues(t, 4, seq)
}

func TestAtonSave(t *testing.T) {
	stores, mock := newMock(t)

	mock.ExpectQuery("INSERT INTO aids_to_navigation").
		WithArgs("AtoN-1", "", "BuoyLateral", "AtoN-0", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	e := aton.NewEntity(aton.TypeLateralBuoy, "S1")
	e.AtonNumber = "AtoN-1"
	e.Geometry = orb.Point{24.9, 60.1}
	id, err := stores.Atons.Save(context.Background(), &e, "AtoN-0")
	require.Nil(t, err)
	assert.EqualValues(t, 42, id)
	assert.EqualValues(t, 42, e.ID)

	_, err = stores.Atons.Save(context.Background(), &aton.Entity{}, "")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtonDeleteByNumbers(t *testing.T) {
	stores, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM aids_to_navigation").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE aton_peerings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM aton_peerings WHERE cardinality").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := stores.Atons.DeleteByNumbers(context.Background(), []string{"AtoN-1", "AtoN-2"})
	require.Nil(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtonLoadGraph(t *testing.T) {
	stores, mock := newMock(t)

	mock.ExpectQuery("SELECT .* FROM aids_to_navigation").
		WillReturnRows(sqlmock.NewRows([]string{"id", "aton_number", "parent_number", "body", "geometry"}).
			AddRow(1, "AtoN-1", nil, []byte(`{"type":"BuoyLateral","atonNumber":"AtoN-1"}`), "POINT(24.9 60.1)").
			AddRow(2, "AtoN-2", "AtoN-1", []byte(`{"type":"Light","atonNumber":"AtoN-2"}`), "POINT(24.9 60.1)"))
	mock.ExpectQuery("SELECT id, kind, COALESCE\\(category, ''\\), peers FROM aton_peerings").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "category", "peers"}).
			AddRow(9, "aggregation", "leading line", "{AtoN-1,AtoN-2}"))

	g, err := stores.Atons.LoadGraph(context.Background(), nil)
	require.Nil(t, err)
	require.Len(t, g.Entities, 2)
	assert.Equal(t, aton.TypeLateralBuoy, g.Entities[0].Type)
	assert.Equal(t, 0, g.Entities[1].Parent)
	assert.Equal(t, []int{1}, g.Entities[0].Children)
	require.Len(t, g.Aggregations, 1)
	assert.Equal(t, []int{0, 1}, g.Aggregations[0].Peers)
	assert.NoError(t, g.Check())
	assert.NoError(t, mock.ExpectationsWereMet())
}

var subscriptionCols = []string{"uuid", "client_mrn", "container_type", "data_product_type", "product_version",
	"data_reference", "geometry", "subscription_period_start", "subscription_period_end", "created_at",
	"updated_at", "last_attempted_at"}

func TestSubscriptionFindMatching(t *testing.T) {
	stores, mock := newMock(t)
	now := time.Now().UTC()
	ref := uuid.New()

	mock.ExpectQuery("SELECT .* FROM subscription_requests").
		WithArgs(sql.NullString{String: "S100_DataSet", Valid: true}, sql.NullString{String: "S125", Valid: true},
			sql.NullString{}, uuid.NullUUID{UUID: ref, Valid: true}, sql.NullString{}, sql.NullTime{Time: now, Valid: true}).
		WillReturnRows(sqlmock.NewRows(subscriptionCols).
			AddRow(uuid.New().String(), "urn:mrn:mcp:device:a", "", "", "", nil, nil, nil, nil, now, now, nil).
			AddRow(uuid.New().String(), "urn:mrn:mcp:device:b", "S100_DataSet", "S125", "1.0", ref.String(),
				"POLYGON((0 0,1 0,1 1,0 1,0 0))", now.Add(-time.Hour), nil, now, now, now))

	subs, err := stores.Subscriptions.FindMatching(context.Background(), models.SubscriptionCriteria{
		ContainerType: models.ContainerDataSet,
		ProductType:   "S125",
		DataReference: &ref,
		AsOf:          &now,
	})
	require.Nil(t, err)
	require.Len(t, subs, 2)
	assert.Empty(t, subs[0].ContainerType)
	assert.Nil(t, subs[0].DataReference)
	assert.Nil(t, subs[0].LastAttemptedAt)
	assert.Equal(t, models.ContainerDataSet, subs[1].ContainerType)
	require.NotNil(t, subs[1].DataReference)
	assert.Equal(t, ref, *subs[1].DataReference)
	assert.NotNil(t, subs[1].Geometry)
	assert.NotNil(t, subs[1].SubscriptionPeriodStart)
	assert.Nil(t, subs[1].SubscriptionPeriodEnd)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionTouchMissing(t *testing.T) {
	stores, mock := newMock(t)
	mock.ExpectExec("UPDATE subscription_requests SET last_attempted_at").WillReturnResult(sqlmock.NewResult(0, 0))

	err := stores.Subscriptions.TouchLastAttempted(context.Background(), uuid.New(), time.Now())
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestSubscriptionFindMatchingArgs(t *testing.T) {
	region := orb.Polygon{{{-1.6, 50.6}, {-1.0, 50.6}, {-1.0, 50.9}, {-1.6, 50.9}, {-1.6, 50.6}}}
	elsewhere := orb.Polygon{{{24.0, 59.5}, {25.5, 59.5}, {25.5, 60.5}, {24.0, 60.5}, {24.0, 59.5}}}
	now := time.Now().UTC()

	tests := []struct {
		name     string
		criteria models.SubscriptionCriteria
		geometry sql.NullString
		rows     *sqlmock.Rows
		want     int
	}{
		{
			name:     "world-wide subscription matches without geometry",
			criteria: models.SubscriptionCriteria{},
			geometry: sql.NullString{},
			rows: sqlmock.NewRows(subscriptionCols).
				AddRow(uuid.New().String(), "urn:mrn:a", "", "", "", nil, nil, nil, nil, now, now, nil),
			want: 1,
		},
		{
			name:     "region is bound as WKT",
			criteria: models.SubscriptionCriteria{Geometry: region},
			geometry: sql.NullString{String: "POLYGON((-1.6 50.6,-1 50.6,-1 50.9,-1.6 50.9,-1.6 50.6))", Valid: true},
			rows: sqlmock.NewRows(subscriptionCols).
				AddRow(uuid.New().String(), "urn:mrn:a", "", "", "", nil,
					"POLYGON((-1.5 50.7,-1.2 50.7,-1.2 50.8,-1.5 50.8,-1.5 50.7))", nil, nil, now, now, nil),
			want: 1,
		},
		{
			name:     "mismatched region returns nothing",
			criteria: models.SubscriptionCriteria{Geometry: elsewhere},
			geometry: sql.NullString{String: "POLYGON((24 59.5,25.5 59.5,25.5 60.5,24 60.5,24 59.5))", Valid: true},
			rows:     sqlmock.NewRows(subscriptionCols),
			want:     0,
		},
		{
			name:     "null columns come back as wildcards",
			criteria: models.SubscriptionCriteria{ContainerType: models.ContainerExchangeSet, ProductVersion: "1.0"},
			geometry: sql.NullString{},
			rows: sqlmock.NewRows(subscriptionCols).
				AddRow(uuid.New().String(), "urn:mrn:a", "", "", "", nil, nil, nil, nil, now, now, nil),
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stores, mock := newMock(t)
			mock.ExpectQuery("SELECT .* FROM subscription_requests\\s+WHERE \\(\\$1::text IS NULL OR container_type IS NULL OR container_type = \\$1\\)" +
				".*ST_Intersects\\(geometry, ST_GeomFromText\\(\\$5, 4326\\)\\)").
				WithArgs(nullString(string(tt.criteria.ContainerType)), nullString(tt.criteria.ProductType),
					nullString(tt.criteria.ProductVersion), uuid.NullUUID{}, tt.geometry, sql.NullTime{}).
				WillReturnRows(tt.rows)

			subs, err := stores.Subscriptions.FindMatching(context.Background(), tt.criteria)
			require.Nil(t, err)
			require.Len(t, subs, tt.want)
			for _, s := range subs {
				assert.Empty(t, s.ContainerType)
				assert.Nil(t, s.DataReference)
				assert.Nil(t, s.SubscriptionPeriodStart)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDatasetFindArgs(t *testing.T) {
	stores, mock := newMock(t)
	id := uuid.New()
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	region := orb.Polygon{{{0, 51}, {1, 51}, {1, 52}, {0, 51}}}

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM s125_datasets WHERE uuid = \\$1 AND " +
		"ST_Intersects\\(geometry, ST_GeomFromText\\(\\$2, 4326\\)\\) AND last_updated_at >= \\$3$").
		WithArgs(id, sql.NullString{String: "POLYGON((0 51,1 51,1 52,0 51))", Valid: true}, from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT .* FROM s125_datasets WHERE .* ORDER BY last_updated_at DESC, uuid LIMIT \\$4 OFFSET \\$5").
		WithArgs(id, sql.NullString{String: "POLYGON((0 51,1 51,1 52,0 51))", Valid: true}, from, 5, 10).
		WillReturnRows(sqlmock.NewRows(datasetCols))

	page, err := stores.Datasets.Find(context.Background(),
		models.DatasetFilter{UUID: &id, Geometry: region, From: &from, IncludeCancelled: true},
		models.Page{Offset: 10, Limit: 5})
	require.Nil(t, err)
	assert.Empty(t, page.Items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtonSyncPeerings(t *testing.T) {
	stores, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO aton_peerings").
		WithArgs("aggregation", "leading line", "aggregation|leading line|AtoN-1,AtoN-2,AtoN-3",
			pqArray(t, []string{"AtoN-1", "AtoN-2", "AtoN-3"})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec("DELETE FROM aton_peerings\\s+WHERE kind = \\$1 AND peers && \\$2::text\\[\\] AND NOT \\(id = ANY\\(\\$3::bigint\\[\\]\\)\\)").
		WithArgs("aggregation", pqArray(t, []string{"AtoN-3", "AtoN-1"}), pqArray(t, []int64{11})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := stores.Atons.SyncPeerings(context.Background(), "aggregation", []string{"AtoN-3", "AtoN-1"},
		[]aton.PeerSet{
			{Category: "leading line", Numbers: []string{"AtoN-3", "AtoN-1", "AtoN-2", "AtoN-1"}},
			{Category: "lonely", Numbers: []string{"AtoN-1"}},
		})
	require.Nil(t, err)
	assert.EqualValues(t, 1, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtonSyncPeeringsRemovesAllWhenEmpty(t *testing.T) {
	stores, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM aton_peerings").
		WithArgs("association", pqArray(t, []string{"AtoN-1"}), pqArray(t, []int64{})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	removed, err := stores.Atons.SyncPeerings(context.Background(), "association", []string{"AtoN-1"}, nil)
	require.Nil(t, err)
	assert.EqualValues(t, 2, removed)

	_, err = stores.Atons.SyncPeerings(context.Background(), "grouping", []string{"AtoN-1"}, nil)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtonSyncPeeringsRollsBack(t *testing.T) {
	stores, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO aton_peerings").WillReturnError(&pgconn.PgError{Code: "23514"})
	mock.ExpectRollback()

	_, err := stores.Atons.SyncPeerings(context.Background(), "aggregation", []string{"AtoN-1"},
		[]aton.PeerSet{{Numbers: []string{"AtoN-1", "AtoN-2"}}})
	require.NotNil(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionReplace(t *testing.T) {
	stores, mock := newMock(t)
	now := time.Now().UTC()
	old := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM subscription_requests WHERE client_mrn = \\$1 RETURNING").
		WithArgs("urn:mrn:a").
		WillReturnRows(sqlmock.NewRows(subscriptionCols).
			AddRow(old.String(), "urn:mrn:a", "", "", "", nil, nil, nil, nil, now, now, nil))
	mock.ExpectQuery("INSERT INTO subscription_requests").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	r := &models.SubscriptionRequest{ClientMRN: "urn:mrn:a"}
	removed, err := stores.Subscriptions.Replace(context.Background(), r)
	require.Nil(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, old, removed[0].UUID)
	assert.NotEqual(t, uuid.Nil, r.UUID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionReplaceRollsBack(t *testing.T) {
	stores, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM subscription_requests").
		WillReturnRows(sqlmock.NewRows(subscriptionCols).
			AddRow(uuid.New().String(), "urn:mrn:a", "", "", "", nil, nil, nil, nil, time.Now(), time.Now(), nil))
	mock.ExpectQuery("INSERT INTO subscription_requests").WillReturnError(&pgconn.PgError{Code: "23502"})
	mock.ExpectRollback()

	_, err := stores.Subscriptions.Replace(context.Background(), &models.SubscriptionRequest{ClientMRN: "urn:mrn:a"})
	require.NotNil(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// pqArray is the value pq.Array hands to the driver.
func pqArray(t *testing.T, v any) driver.Value {
	t.Helper()
	val, err := pq.Array(v).(driver.Valuer).Value()
	require.NoError(t, err)
	return val
}

package dataset

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/grad-enav/atonservice/internal/atonsvc/aton"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/dberror"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/atonsvc/geo"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

type memStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.Dataset
}

func newMemStore() *memStore {
	return &memStore{rows: map[uuid.UUID]models.Dataset{}}
}

func (s *memStore) Create(_ context.Context, d *models.Dataset) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	if _, ok := s.rows[d.UUID]; ok {
		return dberror.ErrAlreadyExists.Msg("dataset already exists")
	}
	d.CreatedAt = time.Now()
	d.LastUpdatedAt = d.CreatedAt
	cp := *d
	cp.Content = nil
	s.rows[d.UUID] = cp
	return nil
}

func (s *memStore) Update(_ context.Context, d *models.Dataset) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rows[d.UUID]
	if !ok {
		return dberror.ErrNotFound.Msg("dataset not found")
	}
	d.CreatedAt = old.CreatedAt
	d.LastUpdatedAt = time.Now()
	cp := *d
	cp.Content = nil
	s.rows[d.UUID] = cp
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("dataset not found")
	}
	return &d, nil
}

func (s *memStore) Touch(_ context.Context, id uuid.UUID) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return dberror.ErrNotFound.Msg("dataset not found")
	}
	d.LastUpdatedAt = time.Now()
	s.rows[id] = d
	return nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return dberror.ErrNotFound.Msg("dataset not found")
	}
	delete(s.rows, id)
	return nil
}

func (s *memStore) Find(_ context.Context, f models.DatasetFilter, page models.Page) (*models.DatasetPage, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page = page.Normalize()
	var all []models.Dataset
	for _, d := range s.rows {
		if f.UUID != nil && d.UUID != *f.UUID {
			continue
		}
		if f.Geometry != nil && (d.Geometry == nil || !geo.Intersects(d.Geometry, f.Geometry)) {
			continue
		}
		if d.Cancelled && !f.IncludeCancelled {
			continue
		}
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UUID.String() < all[j].UUID.String() })
	out := &models.DatasetPage{Total: int64(len(all)), Page: page, Items: []models.Dataset{}}
	for i := page.Offset; i < len(all) && i < page.Offset+page.Limit; i++ {
		out.Items = append(out.Items, all[i])
	}
	return out, nil
}

type memContent struct {
	mu      sync.Mutex
	current map[uuid.UUID]models.DatasetContent
	log     []models.ContentLogEntry
	// widens the gap between reading and using the last sequence number
	lag time.Duration
}

func newMemContent() *memContent {
	return &memContent{current: map[uuid.UUID]models.DatasetContent{}}
}

func (s *memContent) GetContent(_ context.Context, id uuid.UUID) (*models.DatasetContent, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.current[id]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("dataset content not found")
	}
	return &c, nil
}

func (s *memContent) Publish(ctx context.Context, c *models.DatasetContent, entry *models.ContentLogEntry) apperrors.Error {
	if err := s.AppendLog(ctx, entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[c.UUID] = *c
	return nil
}

func (s *memContent) AppendLog(_ context.Context, entry *models.ContentLogEntry) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.log {
		if e.UUID == entry.UUID && e.SequenceNo == entry.SequenceNo {
			return dberror.ErrAlreadyExists.Msg("content log entry already exists")
		}
	}
	entry.ID = int64(len(s.log) + 1)
	s.log = append(s.log, *entry)
	return nil
}

func (s *memContent) LastSequence(_ context.Context, id uuid.UUID) (int64, apperrors.Error) {
	s.mu.Lock()
	last := int64(-1)
	for _, e := range s.log {
		if e.UUID == id && e.SequenceNo > last {
			last = e.SequenceNo
		}
	}
	s.mu.Unlock()
	time.Sleep(s.lag)
	return last, nil
}

func (s *memContent) entries(id uuid.UUID) []models.ContentLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ContentLogEntry
	for _, e := range s.log {
		if e.UUID == id {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNo < out[j].SequenceNo })
	return out
}

func (s *memContent) FindOriginal(_ context.Context, id uuid.UUID) (*models.ContentLogEntry, apperrors.Error) {
	for _, e := range s.entries(id) {
		if e.SequenceNo == 0 {
			return &e, nil
		}
	}
	return nil, dberror.ErrNotFound.Msg("content log entry not found")
}

func (s *memContent) FindDeltas(_ context.Context, id uuid.UUID) ([]models.ContentLogEntry, apperrors.Error) {
	out := []models.ContentLogEntry{}
	for _, e := range s.entries(id) {
		if e.SequenceNo > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memContent) FindLatest(_ context.Context, id uuid.UUID, asOf time.Time) (*models.ContentLogEntry, apperrors.Error) {
	var found *models.ContentLogEntry
	for _, e := range s.entries(id) {
		if !e.GeneratedAt.After(asOf) {
			e := e
			found = &e
		}
	}
	if found == nil {
		return nil, dberror.ErrNotFound.Msg("content log entry not found")
	}
	return found, nil
}

func (s *memContent) FindDuring(_ context.Context, id uuid.UUID, from, to time.Time) ([]models.ContentLogEntry, apperrors.Error) {
	out := []models.ContentLogEntry{}
	for _, e := range s.entries(id) {
		if !e.GeneratedAt.Before(from) && !e.GeneratedAt.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memAtons struct {
	mu       sync.Mutex
	entities []aton.Entity
	loads    int
}

func (s *memAtons) add(t aton.Type, number string, g orb.Geometry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := aton.NewEntity(t, number)
	e.AtonNumber = number
	e.ID = int64(len(s.entities) + 1)
	e.Geometry = g
	s.entities = append(s.entities, e)
}

func (s *memAtons) LoadGraph(_ context.Context, g orb.Geometry) (*aton.Graph, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	graph := aton.NewGraph()
	for _, e := range s.entities {
		if g != nil && (e.Geometry == nil || !geo.Intersects(e.Geometry, g)) {
			continue
		}
		if _, err := graph.Add(e); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
	}
	return graph, nil
}

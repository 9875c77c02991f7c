// Package dataset owns the dataset lifecycle. It regenerates S-125 content
// from the stored AtoNs, records every change in the append-only content log
// and announces changes on the event bus.
package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/dberror"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/atonsvc/s125"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/keylock"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

const defaultPublishTimeout = 2 * time.Second

// Manager runs the dataset lifecycle on top of the stores. Work that appends
// to a dataset's content log holds that dataset's lock, so sequence numbers
// are taken one writer at a time.
type Manager struct {
	datasets Store
	content  ContentStore
	atons    AtonSource
	bus      Publisher

	validate       *validator.Validate
	inflight       singleflight.Group
	locks          *keylock.Locker
	publishTimeout time.Duration
	now            func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublishTimeout bounds how long a bus publish may wait per subscriber.
func WithPublishTimeout(d time.Duration) Option {
	return func(m *Manager) { m.publishTimeout = d }
}

// WithClock replaces time.Now, used to stamp generated content.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a manager over the given stores. bus may be nil, in
// which case no events are published.
func NewManager(datasets Store, content ContentStore, atons AtonSource, bus Publisher, opts ...Option) *Manager {
	m := &Manager{
		datasets:       datasets,
		content:        content,
		atons:          atons,
		bus:            bus,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		locks:          keylock.New(),
		publishTimeout: defaultPublishTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Find returns one page of the datasets matching f.
func (m *Manager) Find(ctx context.Context, f models.DatasetFilter, page models.Page) (*models.DatasetPage, apperrors.Error) {
	return m.datasets.Find(ctx, f, page)
}

// FindOne returns a dataset by UUID, cancelled or not.
func (m *Manager) FindOne(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error) {
	d, err := m.datasets.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	return d, nil
}

// Content returns the current content of a dataset.
func (m *Manager) Content(ctx context.Context, id uuid.UUID) (*models.DatasetContent, apperrors.Error) {
	c, err := m.content.GetContent(ctx, id)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return nil, ErrNotFound.Msg("no content generated for dataset " + id.String())
		}
		return nil, err
	}
	return c, nil
}

// Save creates d when it has not been stored yet and updates it otherwise,
// then regenerates its content. Creating a dataset whose UUID is already
// taken fails with ErrAlreadyExists. A cancelled dataset cannot be updated.
func (m *Manager) Save(ctx context.Context, d *models.Dataset) (*models.Dataset, apperrors.Error) {
	if d.IsNew() {
		if err := m.validate.Struct(d); err != nil {
			return nil, ErrValidation.MsgErr("invalid dataset: "+err.Error(), err)
		}
		if err := m.datasets.Create(ctx, d); err != nil {
			if errors.Is(err, dberror.ErrAlreadyExists) {
				return nil, ErrAlreadyExists.Msg("dataset " + d.UUID.String() + " already exists")
			}
			return nil, err
		}
		log.Ctx(ctx).Info().Str("dataset_id", d.UUID.String()).Msg("dataset created")
	} else if err := m.update(ctx, d); err != nil {
		return nil, err
	}

	if d.Cancelled {
		return d, nil
	}
	updated, err := m.RequestContentUpdate(ctx, d.UUID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("dataset_id", d.UUID.String()).Msg("content update after save failed")
		return d, nil
	}
	return updated, nil
}

func (m *Manager) update(ctx context.Context, d *models.Dataset) apperrors.Error {
	unlock := m.locks.Lock(d.UUID.String())
	defer unlock()

	stored, err := m.FindOne(ctx, d.UUID)
	if err != nil {
		return err
	}
	if stored.Cancelled {
		return ErrValidation.Msg("dataset " + d.UUID.String() + " is cancelled")
	}
	if err := m.validate.Struct(d); err != nil {
		return ErrValidation.MsgErr("invalid dataset: "+err.Error(), err)
	}
	if err := m.datasets.Update(ctx, d); err != nil {
		return notFound(err, d.UUID)
	}
	log.Ctx(ctx).Info().Str("dataset_id", d.UUID.String()).Msg("dataset updated")
	return nil
}

// RequestContentUpdate regenerates the content of a dataset from the AtoNs
// intersecting its geometry. Concurrent requests for the same dataset share
// one regeneration. Identical content is not stored again and raises no event.
func (m *Manager) RequestContentUpdate(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error) {
	v, err, shared := m.inflight.Do(id.String(), func() (any, error) {
		d, err := m.regenerate(ctx, id)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	if shared {
		log.Ctx(ctx).Debug().Str("dataset_id", id.String()).Msg("content update coalesced")
	}
	if err != nil {
		var ae apperrors.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, ErrContent.Err(err)
	}
	return v.(*models.Dataset), nil
}

// RequestContentUpdates regenerates every active dataset intersecting g and
// returns how many were processed. Failures are logged per dataset.
func (m *Manager) RequestContentUpdates(ctx context.Context, g orb.Geometry) (int, apperrors.Error) {
	if g == nil {
		return 0, nil
	}
	page := models.Page{Limit: models.DefaultPageSize}
	processed := 0
	for {
		res, err := m.datasets.Find(ctx, models.DatasetFilter{Geometry: g}, page)
		if err != nil {
			return processed, err
		}
		for _, d := range res.Items {
			if _, err := m.RequestContentUpdate(ctx, d.UUID); err != nil {
				log.Ctx(ctx).Error().Err(err).Str("dataset_id", d.UUID.String()).Msg("content update failed")
				continue
			}
			processed++
		}
		page.Offset += len(res.Items)
		if len(res.Items) == 0 || int64(page.Offset) >= res.Total {
			return processed, nil
		}
	}
}

func (m *Manager) regenerate(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error) {
	unlock := m.locks.Lock(id.String())
	defer unlock()

	d, err := m.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Cancelled {
		return nil, ErrValidation.Msg("dataset " + id.String() + " is cancelled")
	}

	graph, err := m.atons.LoadGraph(ctx, d.Geometry)
	if err != nil {
		return nil, err
	}
	body, buildErr := s125.BuildDataset(datasetInfo(d), graph)
	if buildErr != nil {
		return nil, ErrContent.MsgErr("unable to build dataset "+id.String(), buildErr)
	}

	prev, err := m.content.GetContent(ctx, id)
	if err != nil && !errors.Is(err, dberror.ErrNotFound) {
		return nil, err
	}
	if prev != nil && bytes.Equal(prev.Content, body) {
		d.Content = prev
		return d, nil
	}

	last, err := m.content.LastSequence(ctx, id)
	if err != nil {
		return nil, err
	}
	op := models.OperationCreated
	var delta []byte
	if prev != nil {
		op = models.OperationUpdated
		delta = unifiedDelta(prev.Content, body, prev.SequenceNo, last+1)
	}

	now := m.now().UTC()
	c := &models.DatasetContent{
		UUID:          id,
		SequenceNo:    last + 1,
		Content:       body,
		ContentLength: int64(len(body)),
		Delta:         delta,
		DeltaLength:   int64(len(delta)),
		GeneratedAt:   now,
	}
	entry := &models.ContentLogEntry{
		UUID:          id,
		DatasetType:   models.DatasetTypeS125,
		SequenceNo:    c.SequenceNo,
		Operation:     op,
		Content:       body,
		ContentLength: c.ContentLength,
		Delta:         delta,
		DeltaLength:   c.DeltaLength,
		Geometry:      d.Geometry,
		GeneratedAt:   now,
	}
	if err := m.content.Publish(ctx, c, entry); err != nil {
		return nil, err
	}
	if err := m.datasets.Touch(ctx, id); err != nil {
		return nil, notFound(err, id)
	}
	d.LastUpdatedAt = now
	d.Content = c

	log.Ctx(ctx).Info().
		Str("dataset_id", id.String()).
		Int64("sequence_no", c.SequenceNo).
		Str("operation", string(op)).
		Int("atons", len(graph.Entities)).
		Msg("dataset content published")
	m.publish(ctx, Event{Kind: EventPublished, Operation: op, SequenceNo: c.SequenceNo, Dataset: *d})
	return d, nil
}

// Cancel withdraws a dataset. Its content stays available but is no longer
// regenerated.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error) {
	unlock := m.locks.Lock(id.String())
	defer unlock()

	d, err := m.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Cancelled {
		return d, nil
	}
	d.Cancelled = true
	if err := m.datasets.Update(ctx, d); err != nil {
		return nil, notFound(err, id)
	}
	seq, err := m.appendWithdrawal(ctx, d, models.OperationCancelled)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("dataset_id", id.String()).Msg("dataset cancelled")
	m.publish(ctx, Event{Kind: EventDeleted, Operation: models.OperationCancelled, SequenceNo: seq, Dataset: *d})
	return d, nil
}

// Replace creates a new active dataset with the identification and geometry
// of an existing one. The source dataset is left untouched.
func (m *Manager) Replace(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error) {
	src, err := m.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	replacement := &models.Dataset{
		FileIdentifier: src.FileIdentifier,
		Title:          src.Title,
		Abstract:       src.Abstract,
		Edition:        src.Edition,
		Language:       src.Language,
		ProductEdition: src.ProductEdition,
		Geometry:       src.Geometry,
	}
	d, err := m.Save(ctx, replacement)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("dataset_id", d.UUID.String()).Str("replaces", id.String()).Msg("dataset replaced")
	return d, nil
}

// Delete removes a dataset. A DELETED entry is appended to its log first so
// the withdrawal outlives the row.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) apperrors.Error {
	unlock := m.locks.Lock(id.String())
	defer unlock()

	d, err := m.FindOne(ctx, id)
	if err != nil {
		return err
	}
	seq, err := m.appendWithdrawal(ctx, d, models.OperationDeleted)
	if err != nil {
		return err
	}
	if err := m.datasets.Delete(ctx, id); err != nil {
		return notFound(err, id)
	}
	log.Ctx(ctx).Info().Str("dataset_id", id.String()).Msg("dataset deleted")
	m.publish(ctx, Event{Kind: EventDeleted, Operation: models.OperationDeleted, SequenceNo: seq, Dataset: *d})
	return nil
}

// appendWithdrawal must be called with the dataset's lock held.
func (m *Manager) appendWithdrawal(ctx context.Context, d *models.Dataset, op models.Operation) (int64, apperrors.Error) {
	last, err := m.content.LastSequence(ctx, d.UUID)
	if err != nil {
		return 0, err
	}
	entry := &models.ContentLogEntry{
		UUID:        d.UUID,
		DatasetType: models.DatasetTypeS125,
		SequenceNo:  last + 1,
		Operation:   op,
		Geometry:    d.Geometry,
		GeneratedAt: m.now().UTC(),
	}
	if err := m.content.AppendLog(ctx, entry); err != nil {
		return 0, err
	}
	return entry.SequenceNo, nil
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	if m.bus == nil {
		return
	}
	if n := m.bus.Publish(ev.Kind.Topic(), ev, m.publishTimeout); n == 0 {
		log.Ctx(ctx).Warn().Str("dataset_id", ev.Dataset.UUID.String()).Str("topic", ev.Kind.Topic()).Msg("dataset event had no receivers")
	}
}

func datasetInfo(d *models.Dataset) s125.DatasetInfo {
	fileID := d.FileIdentifier
	if fileID == "" {
		fileID = d.UUID.String()
	}
	return s125.DatasetInfo{
		FileIdentifier: fileID,
		Title:          d.Title,
		Abstract:       d.Abstract,
		Language:       d.Language,
		Edition:        d.Edition,
		ProductEdition: d.ProductEdition,
		ReferenceDate:  d.CreatedAt,
	}
}

func unifiedDelta(prev, next []byte, fromSeq, toSeq int64) []byte {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(prev)),
		B:        difflib.SplitLines(string(next)),
		FromFile: fmt.Sprintf("sequence/%d", fromSeq),
		ToFile:   fmt.Sprintf("sequence/%d", toSeq),
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return nil
	}
	return []byte(out)
}

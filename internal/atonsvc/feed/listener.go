// Package feed attaches to the AtoN change stream, persists what it receives
// and asks the dataset manager to refresh the datasets it touched.
package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/grad-enav/atonservice/internal/atonsvc/aton"
	"github.com/grad-enav/atonservice/internal/atonsvc/geo"
	"github.com/grad-enav/atonservice/internal/atonsvc/s125"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/keylock"
)

const (
	defaultParallelism    = 8
	defaultPublishTimeout = time.Second
)

// AtonStore persists the AtoN graph. SyncPeerings replaces the peerings of a
// kind that include any of the changed numbers with the given sets.
type AtonStore interface {
	Save(ctx context.Context, e *aton.Entity, parentNumber string) (int64, apperrors.Error)
	SyncPeerings(ctx context.Context, kind string, changed []string, sets []aton.PeerSet) (int64, apperrors.Error)
	FindByNumbers(ctx context.Context, numbers []string) ([]aton.Entity, apperrors.Error)
	DeleteByNumbers(ctx context.Context, numbers []string) (int64, apperrors.Error)
}

// ContentUpdater refreshes every dataset intersecting a geometry.
type ContentUpdater interface {
	RequestContentUpdates(ctx context.Context, g orb.Geometry) (int, apperrors.Error)
}

// Publisher is the event bus the listener announces saved and deleted AtoNs on.
type Publisher interface {
	Publish(topic string, data any, timeout time.Duration) int
}

// Listener consumes the AtoN feed. Each change message is parsed, persisted
// and followed by a content refresh of the datasets it touches.
type Listener struct {
	source   Source
	store    AtonStore
	datasets ContentUpdater
	bus      Publisher

	subset         orb.Geometry
	deletions      bool
	parallelism    int
	publishTimeout time.Duration
	locks          *keylock.Locker

	mu       sync.Mutex
	ctx      context.Context
	sub      Subscription
	stopOnce sync.Once
	stopped  atomic.Bool
	failed   atomic.Bool
	errs     chan error
}

// Option configures a Listener.
type Option func(*Listener)

// WithSubset restricts ingestion to features intersecting g.
func WithSubset(g orb.Geometry) Option {
	return func(l *Listener) { l.subset = g }
}

// WithDeletionHandler turns processing of removal events on or off.
func WithDeletionHandler(enabled bool) Option {
	return func(l *Listener) { l.deletions = enabled }
}

// WithParallelism bounds how many entities of one message are saved at once.
// Values below one keep the default.
func WithParallelism(n int) Option {
	return func(l *Listener) {
		if n > 0 {
			l.parallelism = n
		}
	}
}

// WithPublishTimeout bounds how long an event publish may block.
func WithPublishTimeout(d time.Duration) Option {
	return func(l *Listener) { l.publishTimeout = d }
}

// NewListener returns a listener reading from source. Removal events are
// processed unless WithDeletionHandler(false) is given.
func NewListener(source Source, store AtonStore, datasets ContentUpdater, bus Publisher, opts ...Option) *Listener {
	l := &Listener{
		source:         source,
		store:          store,
		datasets:       datasets,
		bus:            bus,
		deletions:      true,
		parallelism:    defaultParallelism,
		publishTimeout: defaultPublishTimeout,
		locks:          keylock.New(),
		errs:           make(chan error, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start attaches to the source. It may only be called once.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil || l.stopped.Load() {
		return ErrAlreadyStarted
	}
	l.ctx = ctx
	sub, err := l.source.Subscribe(ctx, l.handle)
	if err != nil {
		return err
	}
	l.sub = sub
	go l.watch(sub)
	log.Ctx(ctx).Info().Bool("deletions", l.deletions).Bool("subset", l.subset != nil).Msg("feed listener started")
	return nil
}

// Stop detaches from the source. Later calls do nothing.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		l.mu.Lock()
		sub, ctx := l.sub, l.ctx
		l.mu.Unlock()
		if sub == nil {
			return
		}
		if err := sub.Close(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("error detaching from feed")
			return
		}
		log.Ctx(ctx).Info().Msg("feed listener stopped")
	})
}

// Err delivers the error that ended ingestion, if the feed connection is
// lost. Nothing is sent after a clean Stop.
func (l *Listener) Err() <-chan error {
	return l.errs
}

// Healthy reports whether the listener is still ingesting.
func (l *Listener) Healthy() bool {
	return !l.failed.Load()
}

func (l *Listener) watch(sub Subscription) {
	err, ok := <-sub.Done()
	if !ok || err == nil {
		return
	}
	l.failed.Store(true)
	log.Ctx(l.ctx).Error().Err(err).Msg("feed connection lost, ingestion stopped")
	select {
	case l.errs <- err:
	default:
	}
}

func (l *Listener) handle(m Message) {
	ctx := l.ctx
	switch m.Kind {
	case MessageChanged:
		l.onChanged(ctx, m.Payload)
	case MessageRemoved:
		if !l.deletions {
			log.Ctx(ctx).Debug().Int("atons", len(m.AtonNumbers)).Msg("deletion handler disabled, ignoring removal")
			return
		}
		l.onRemoved(ctx, m.AtonNumbers)
	default:
		log.Ctx(ctx).Warn().Str("kind", m.Kind.String()).Msg("ignoring feed message")
	}
}

func (l *Listener) inSubset(e *aton.Entity) bool {
	if l.subset == nil {
		return true
	}
	return e.Geometry != nil && geo.Intersects(e.Geometry, l.subset)
}

func (l *Listener) onChanged(ctx context.Context, payload []byte) {
	g, err := s125.Parser{Filter: l.inSubset}.Parse(ctx, payload)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to parse feed payload")
		return
	}
	if len(g.Entities) == 0 {
		log.Ctx(ctx).Debug().Msg("no features in subset")
		return
	}

	savedIdx := l.persist(ctx, g)
	if len(savedIdx) == 0 {
		return
	}
	l.syncPeerings(ctx, g, savedIdx)

	saved := make([]string, 0, len(savedIdx))
	geoms := make([]orb.Geometry, 0, len(savedIdx))
	for _, i := range savedIdx {
		e := &g.Entities[i]
		saved = append(saved, e.AtonNumber)
		if e.Geometry != nil {
			geoms = append(geoms, e.Geometry)
		}
	}
	affected := geo.Union(geoms...)
	l.bus.Publish(TopicSaved, AtonEvent{Kind: AtonSaved, AtonNumbers: saved, Geometry: affected}, l.publishTimeout)
	l.refresh(ctx, affected)
}

// persist saves the graph's entities in parallel and returns the indexes of
// those stored. Failures are logged per entity.
func (l *Listener) persist(ctx context.Context, g *aton.Graph) []int {
	ok := make([]bool, len(g.Entities))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(l.parallelism)
	for i := range g.Entities {
		i := i
		e := &g.Entities[i]
		var parentNumber string
		if p, has := g.ParentOf(i); has {
			parentNumber = p.AtonNumber
		}
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			unlock := l.locks.Lock(e.AtonNumber)
			defer unlock()
			if _, err := l.store.Save(egctx, e, parentNumber); err != nil {
				log.Ctx(ctx).Error().Err(err).Str("aton_number", e.AtonNumber).Msg("unable to save aton")
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("aton persistence interrupted")
	}

	var saved []int
	for i, done := range ok {
		if done {
			saved = append(saved, i)
		}
	}
	return saved
}

// syncPeerings stores the aggregations and associations among the saved
// entities. Stored peerings of the saved AtoNs that the message no longer
// carries are removed, so a membership change replaces the old set.
func (l *Listener) syncPeerings(ctx context.Context, g *aton.Graph, savedIdx []int) {
	isSaved := make(map[int]bool, len(savedIdx))
	changed := make([]string, 0, len(savedIdx))
	for _, i := range savedIdx {
		isSaved[i] = true
		changed = append(changed, g.Entities[i].AtonNumber)
	}
	toSet := func(p aton.Peering) (aton.PeerSet, bool) {
		numbers := make([]string, 0, len(p.Peers))
		for _, i := range p.Peers {
			if isSaved[i] {
				numbers = append(numbers, g.Entities[i].AtonNumber)
			}
		}
		return aton.PeerSet{Category: p.Category, Numbers: numbers}, len(numbers) >= 2
	}
	apply := func(kind string, sets []aton.PeerSet) {
		removed, err := l.store.SyncPeerings(ctx, kind, changed, sets)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("kind", kind).Strs("aton_numbers", changed).Msg("unable to save peerings")
			return
		}
		if removed > 0 {
			log.Ctx(ctx).Info().Str("kind", kind).Int64("removed", removed).Msg("stale peerings removed")
		}
	}

	var aggregations, associations []aton.PeerSet
	for _, a := range g.Aggregations {
		if set, ok := toSet(a.Peering); ok {
			aggregations = append(aggregations, set)
		}
	}
	for _, a := range g.Associations {
		if set, ok := toSet(a.Peering); ok {
			associations = append(associations, set)
		}
	}
	apply(string(aton.RoleAggregation), aggregations)
	apply(string(aton.RoleAssociation), associations)
}

func (l *Listener) onRemoved(ctx context.Context, numbers []string) {
	existing, err := l.store.FindByNumbers(ctx, numbers)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Strs("aton_numbers", numbers).Msg("unable to load removed atons")
		return
	}
	if len(existing) == 0 {
		log.Ctx(ctx).Debug().Strs("aton_numbers", numbers).Msg("removed atons are not stored")
		return
	}
	geoms := make([]orb.Geometry, 0, len(existing))
	removed := make([]string, 0, len(existing))
	for _, e := range existing {
		removed = append(removed, e.AtonNumber)
		if e.Geometry != nil {
			geoms = append(geoms, e.Geometry)
		}
	}

	n, err := l.store.DeleteByNumbers(ctx, removed)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Strs("aton_numbers", removed).Msg("unable to delete atons")
		return
	}
	log.Ctx(ctx).Info().Int64("deleted", n).Msg("atons removed")

	affected := geo.Union(geoms...)
	l.bus.Publish(TopicDeleted, AtonEvent{Kind: AtonDeleted, AtonNumbers: removed, Geometry: affected}, l.publishTimeout)
	l.refresh(ctx, affected)
}

func (l *Listener) refresh(ctx context.Context, affected orb.Geometry) {
	if affected == nil {
		return
	}
	n, err := l.datasets.RequestContentUpdates(ctx, affected)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to refresh affected datasets")
		return
	}
	log.Ctx(ctx).Debug().Int("datasets", n).Msg("affected datasets refreshed")
}

package secom

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/atonsvc/dataset"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/eventbus"
	"github.com/grad-enav/atonservice/internal/common/worker"
)

const eventBuffer = 256

// EventSource is the part of the event bus the dispatcher needs.
type EventSource interface {
	Subscribe(pattern string, bufferSize int) (<-chan eventbus.Event, func())
}

type delivery struct {
	sub     models.SubscriptionRequest
	dataset models.Dataset
}

// Dispatcher turns dataset events into deliveries. Each matching
// subscription becomes one task on the worker pool, so a slow or failing
// subscriber never holds up the others.
type Dispatcher struct {
	svc  *Service
	bus  EventSource
	pool *worker.Pool[delivery]

	once        sync.Once
	unsubscribe func()
	done        chan struct{}
}

// WithDispatchMetrics exports the dispatch pool's queue and outcome metrics.
func WithDispatchMetrics(reg prometheus.Registerer) worker.Option[delivery] {
	return worker.WithMetrics[delivery](reg, "atonsvc_secom_dispatch")
}

// NewDispatcher returns a dispatcher delivering through svc with the given
// number of workers and queue size. It does nothing until Start.
func NewDispatcher(svc *Service, bus EventSource, workers, queueSize int, opts ...worker.Option[delivery]) *Dispatcher {
	d := &Dispatcher{svc: svc, bus: bus, done: make(chan struct{})}
	opts = append([]worker.Option[delivery]{worker.WithName[delivery]("secom-dispatch")}, opts...)
	d.pool = worker.NewPool(workers, queueSize, d.deliver, opts...)
	return d
}

// Start runs the worker pool and subscribes to dataset events.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	events, unsubscribe := d.bus.Subscribe("dataset.*", eventBuffer)
	d.unsubscribe = unsubscribe
	go d.run(ctx, events)
	return nil
}

// Stop detaches from the bus, then drains the pool within timeout.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	var err error
	d.once.Do(func() {
		if d.unsubscribe != nil {
			d.unsubscribe()
			<-d.done
		}
		err = d.pool.Stop(timeout)
		d.svc.Wait()
	})
	return err
}

func (d *Dispatcher) Stats() worker.PoolStats {
	return d.pool.Stats()
}

func (d *Dispatcher) run(ctx context.Context, events <-chan eventbus.Event) {
	defer close(d.done)
	for ev := range events {
		e, ok := ev.Data.(dataset.Event)
		if !ok {
			log.Ctx(ctx).Warn().Str("topic", ev.Topic).Msg("ignoring unexpected event payload")
			continue
		}
		switch e.Kind {
		case dataset.EventPublished:
			d.onPublished(ctx, e)
		case dataset.EventDeleted:
			d.onDeleted(ctx, e)
		}
	}
}

func (d *Dispatcher) onPublished(ctx context.Context, e dataset.Event) {
	now := d.svc.now()
	id := e.Dataset.UUID
	subs, err := d.svc.FindAll(ctx, models.SubscriptionCriteria{
		ProductType:   models.DatasetTypeS125,
		DataReference: &id,
		Geometry:      e.Dataset.Geometry,
		AsOf:          &now,
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("dataset_id", id.String()).Msg("unable to match subscriptions")
		return
	}
	for _, sub := range subs {
		if err := d.pool.Submit(delivery{sub: sub, dataset: e.Dataset}); err != nil {
			log.Ctx(ctx).Error().Err(err).
				Str("subscription_id", sub.UUID.String()).
				Str("dataset_id", id.String()).
				Msg("unable to queue delivery")
			// a dropped delivery still counts as an attempt
			d.svc.recordAttempt(ctx, sub.UUID)
		}
	}
	log.Ctx(ctx).Debug().Str("dataset_id", id.String()).Int("subscriptions", len(subs)).Msg("dataset publication dispatched")
}

// onDeleted removes the subscriptions bound to the withdrawn dataset.
// Area subscriptions without a data reference are kept.
func (d *Dispatcher) onDeleted(ctx context.Context, e dataset.Event) {
	id := e.Dataset.UUID
	subs, err := d.svc.subs.FindByDataReference(ctx, id)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("dataset_id", id.String()).Msg("unable to find subscriptions of withdrawn dataset")
		return
	}
	for _, sub := range subs {
		if err := d.svc.Delete(ctx, sub.UUID); err != nil && !errors.Is(err, ErrNotFound) {
			log.Ctx(ctx).Error().Err(err).Str("subscription_id", sub.UUID.String()).Msg("unable to remove subscription")
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job delivery) error {
	if err := d.svc.SendToSubscription(ctx, job.sub, job.dataset); err != nil {
		return err
	}
	return nil
}

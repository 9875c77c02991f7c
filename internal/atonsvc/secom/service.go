// Package secom manages subscriptions and pushes signed dataset content to
// subscribers over the SECOM exchange.
package secom

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/dberror"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

const defaultNotifyTimeout = 10 * time.Second

// Service manages subscription requests and delivers dataset content to
// subscribers. Lifecycle notifications are sent in the background; Wait
// blocks until they are done.
type Service struct {
	subs     SubscriptionStore
	datasets DatasetSource
	peer     Peer
	signer   Signer
	packager Packager

	validate      *validator.Validate
	notifyTimeout time.Duration
	now           func() time.Time
	pending       sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithNotifyTimeout bounds each lifecycle notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) { s.notifyTimeout = d }
}

// WithPackager enables S100_ExchangeSet deliveries.
func WithPackager(p Packager) Option {
	return func(s *Service) { s.packager = p }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a subscription service using the given store, dataset
// source, SECOM peer and signer.
func NewService(subs SubscriptionStore, datasets DatasetSource, peer Peer, signer Signer, opts ...Option) *Service {
	s := &Service{
		subs:          subs,
		datasets:      datasets,
		peer:          peer,
		signer:        signer,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores a subscription for clientMRN, replacing any subscription the
// client already has. A referenced dataset must exist and supplies the
// geometry when the request has none.
func (s *Service) Save(ctx context.Context, clientMRN string, req *models.SubscriptionRequest) (*models.SubscriptionRequest, apperrors.Error) {
	clientMRN = strings.TrimSpace(clientMRN)
	if clientMRN == "" {
		return nil, ErrValidation.Msg("client MRN is required")
	}
	req.ClientMRN = clientMRN
	if err := s.validate.Struct(req); err != nil {
		return nil, ErrValidation.MsgErr("invalid subscription request: "+err.Error(), err)
	}
	if req.SubscriptionPeriodStart != nil && req.SubscriptionPeriodEnd != nil &&
		req.SubscriptionPeriodEnd.Before(*req.SubscriptionPeriodStart) {
		return nil, ErrValidation.Msg("subscription period ends before it starts")
	}

	if req.DataReference != nil {
		d, err := s.datasets.FindOne(ctx, *req.DataReference)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindNotFound {
				return nil, ErrNotFound.MsgErr("referenced dataset "+req.DataReference.String()+" not found", err)
			}
			return nil, err
		}
		if req.Geometry == nil {
			req.Geometry = d.Geometry
		}
	}

	req.UUID = uuid.Nil
	replaced, err := s.subs.Replace(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, old := range replaced {
		log.Ctx(ctx).Info().Str("subscription_id", old.UUID.String()).Str("client_mrn", clientMRN).Msg("replaced subscription")
		s.notifyAsync(ctx, old, SubscriptionRemoved)
	}
	log.Ctx(ctx).Info().Str("subscription_id", req.UUID.String()).Str("client_mrn", clientMRN).Msg("subscription created")
	s.notifyAsync(ctx, *req, SubscriptionCreated)
	return req, nil
}

// Delete removes a subscription and notifies its client.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) apperrors.Error {
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		return notFound(err, id)
	}
	if err := s.subs.Delete(ctx, id); err != nil {
		return notFound(err, id)
	}
	log.Ctx(ctx).Info().Str("subscription_id", id.String()).Str("client_mrn", sub.ClientMRN).Msg("subscription removed")
	s.notifyAsync(ctx, *sub, SubscriptionRemoved)
	return nil
}

// FindAll returns the subscriptions compatible with the criteria. Unset
// criteria and unset subscription fields both act as wildcards.
func (s *Service) FindAll(ctx context.Context, c models.SubscriptionCriteria) ([]models.SubscriptionRequest, apperrors.Error) {
	return s.subs.FindMatching(ctx, c)
}

// SendToSubscription pushes the dataset to the subscriber's newest endpoint.
// The attempt time is recorded whatever the outcome.
func (s *Service) SendToSubscription(ctx context.Context, sub models.SubscriptionRequest, d models.Dataset) (rerr apperrors.Error) {
	logger := log.Ctx(ctx).With().
		Str("subscription_id", sub.UUID.String()).
		Str("client_mrn", sub.ClientMRN).
		Str("dataset_id", d.UUID.String()).
		Logger()

	defer func() {
		s.recordAttempt(ctx, sub.UUID)
		if rerr != nil {
			logger.Error().Err(rerr).Str("kind", apperrors.KindOf(rerr).String()).Msg("delivery failed")
		}
	}()

	container := sub.ContainerType
	if container == "" {
		container = models.ContainerDataSet
	}
	data, err := s.payload(ctx, sub, &d, container)
	if err != nil {
		return err
	}

	endpoint, err := s.resolve(ctx, sub.ClientMRN)
	if err != nil {
		return err
	}

	env := &Envelope{
		Data:                  data,
		ContainerType:         container,
		DataProductType:       models.DatasetTypeS125,
		FromSubscription:      true,
		AckRequest:            AckDeliveredRequested,
		TransactionIdentifier: uuid.New(),
		EnvelopeSignatureTime: s.now().Unix(),
	}
	obj, err := signUpload(ctx, s.signer, env)
	if err != nil {
		return err
	}

	if uerr := s.peer.Upload(ctx, endpoint, obj); uerr != nil {
		return ErrDelivery.MsgErr("upload to "+endpoint+" failed", uerr)
	}
	logger.Info().Str("endpoint", endpoint).Str("transaction_id", env.TransactionIdentifier.String()).Msg("dataset delivered")
	return nil
}

func (s *Service) payload(ctx context.Context, sub models.SubscriptionRequest, d *models.Dataset, container models.ContainerType) ([]byte, apperrors.Error) {
	if container == models.ContainerExchangeSet {
		if s.packager == nil {
			return nil, ErrDelivery.Msg("exchange set deliveries are not configured")
		}
		var from, to time.Time
		if sub.SubscriptionPeriodStart != nil {
			from = *sub.SubscriptionPeriodStart
		}
		to = s.now()
		if sub.SubscriptionPeriodEnd != nil && sub.SubscriptionPeriodEnd.Before(to) {
			to = *sub.SubscriptionPeriodEnd
		}
		data, err := s.packager.Package(ctx, d, from, to)
		if err != nil {
			return nil, ErrDelivery.MsgErr("unable to package exchange set", err)
		}
		return data, nil
	}

	if d.Content != nil && len(d.Content.Content) > 0 {
		return d.Content.Content, nil
	}
	c, err := s.datasets.Content(ctx, d.UUID)
	if err != nil {
		return nil, ErrDelivery.MsgErr("no content for dataset "+d.UUID.String(), err)
	}
	return c.Content, nil
}

func (s *Service) recordAttempt(ctx context.Context, id uuid.UUID) {
	if err := s.subs.TouchLastAttempted(ctx, id, s.now().UTC()); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("subscription_id", id.String()).Msg("unable to record delivery attempt")
	}
}

// resolve discovers the subscriber's endpoints and returns the address of
// the newest one.
func (s *Service) resolve(ctx context.Context, mrn string) (string, apperrors.Error) {
	endpoints, err := s.peer.Discover(ctx, mrn)
	if err != nil {
		return "", ErrDelivery.MsgErr("discovery failed for "+mrn, err)
	}
	ep, ok := selectEndpoint(endpoints)
	if !ok {
		return "", ErrDelivery.Msg("no endpoint registered for " + mrn)
	}
	if err := validEndpoint(ep.URI); err != nil {
		return "", ErrValidation.MsgErr("malformed endpoint address "+ep.URI, err)
	}
	return ep.URI, nil
}

// notifyAsync tells the subscriber about a lifecycle change without holding
// up the caller. Failures are only logged.
func (s *Service) notifyAsync(ctx context.Context, sub models.SubscriptionRequest, event EventEnum) {
	logger := log.Ctx(ctx).With().
		Str("subscription_id", sub.UUID.String()).
		Str("client_mrn", sub.ClientMRN).
		Str("event", string(event)).
		Logger()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		nctx, cancel := context.WithTimeout(logger.WithContext(context.Background()), s.notifyTimeout)
		defer cancel()

		endpoint, err := s.resolve(nctx, sub.ClientMRN)
		if err != nil {
			logger.Warn().Err(err).Msg("unable to notify subscriber")
			return
		}
		if err := s.peer.Notify(nctx, endpoint, sub.UUID, event); err != nil {
			logger.Warn().Err(err).Str("endpoint", endpoint).Msg("unable to notify subscriber")
			return
		}
		logger.Debug().Str("endpoint", endpoint).Msg("subscriber notified")
	}()
}

// Wait blocks until every pending notification has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func notFound(err apperrors.Error, id uuid.UUID) apperrors.Error {
	if errors.Is(err, dberror.ErrNotFound) {
		return ErrNotFound.Msg("subscription " + id.String() + " not found")
	}
	return err
}

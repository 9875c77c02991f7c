package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/atonsvc/geo"
	"github.com/grad-enav/atonservice/internal/common/httpx"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

// mrnHeader carries the client identity established by the fronting proxy.
const mrnHeader = "MRN"

func (s *Server) mountSubscriptionHandlers(r chi.Router) {
	r.Post("/", httpx.WrapHttpRsp(s.subscribe))
	r.Delete("/{id}", httpx.WrapHttpRsp(s.unsubscribe))
}

type subscriptionReq struct {
	ContainerType           models.ContainerType `json:"containerType"`
	DataProductType         string               `json:"dataProductType"`
	ProductVersion          string               `json:"productVersion"`
	DataReference           *uuid.UUID           `json:"dataReference"`
	Geometry                string               `json:"geometry"`
	SubscriptionPeriodStart *time.Time           `json:"subscriptionPeriodStart"`
	SubscriptionPeriodEnd   *time.Time           `json:"subscriptionPeriodEnd"`
}

type subscriptionRsp struct {
	SubscriptionIdentifier uuid.UUID `json:"subscriptionIdentifier"`
	Geometry               string    `json:"geometry,omitempty"`
}

func (s *Server) subscribe(r *http.Request) (*httpx.Response, error) {
	mrn := strings.TrimSpace(r.Header.Get(mrnHeader))
	var req subscriptionReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	sub := &models.SubscriptionRequest{
		ContainerType:           req.ContainerType,
		DataProductType:         req.DataProductType,
		ProductVersion:          req.ProductVersion,
		DataReference:           req.DataReference,
		SubscriptionPeriodStart: req.SubscriptionPeriodStart,
		SubscriptionPeriodEnd:   req.SubscriptionPeriodEnd,
	}
	if strings.TrimSpace(req.Geometry) != "" {
		g, err := geo.ParseWKT(req.Geometry)
		if err != nil {
			return nil, httpx.ErrInvalidRequest("invalid geometry: " + err.Error())
		}
		sub.Geometry = g
	}

	saved, aerr := s.opts.Subscriptions.Save(r.Context(), mrn, sub)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/api/secom/subscription/" + saved.UUID.String(),
		Response:   subscriptionRsp{SubscriptionIdentifier: saved.UUID, Geometry: geo.WKT(saved.Geometry)},
	}, nil
}

func (s *Server) unsubscribe(r *http.Request) (*httpx.Response, error) {
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	if aerr := s.opts.Subscriptions.Delete(r.Context(), id); aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: subscriptionRsp{SubscriptionIdentifier: id}}, nil
}

package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/atonsvc/geo"
	"github.com/grad-enav/atonservice/internal/common/httpx"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

func (s *Server) mountDatasetHandlers(r chi.Router) {
	r.Get("/", httpx.WrapHttpRsp(s.listDatasets))
	r.Post("/", httpx.WrapHttpRsp(s.createDataset))
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", httpx.WrapHttpRsp(s.getDataset))
		r.Put("/", httpx.WrapHttpRsp(s.updateDataset))
		r.Delete("/", httpx.WrapHttpRsp(s.deleteDataset))
		r.Get("/content", httpx.WrapHttpRsp(s.getDatasetContent))
		r.Get("/log", httpx.WrapHttpRsp(s.getDatasetLog))
		r.Post("/cancel", httpx.WrapHttpRsp(s.cancelDataset))
		r.Post("/replace", httpx.WrapHttpRsp(s.replaceDataset))
	})
}

type datasetRsp struct {
	models.Dataset
	Geometry      string `json:"geometry,omitempty"`
	SequenceNo    *int64 `json:"sequenceNo,omitempty"`
	ContentLength int64  `json:"contentLength,omitempty"`
}

func toDatasetRsp(d *models.Dataset) datasetRsp {
	rsp := datasetRsp{Dataset: *d, Geometry: geo.WKT(d.Geometry)}
	if d.Content != nil {
		seq := d.Content.SequenceNo
		rsp.SequenceNo = &seq
		rsp.ContentLength = d.Content.ContentLength
	}
	return rsp
}

type datasetReq struct {
	FileIdentifier string `json:"fileIdentifier"`
	Title          string `json:"title"`
	Abstract       string `json:"abstract"`
	Edition        string `json:"edition"`
	Language       string `json:"language"`
	ProductEdition string `json:"productEdition"`
	Geometry       string `json:"geometry"`
}

func (req *datasetReq) apply(d *models.Dataset) error {
	d.FileIdentifier = req.FileIdentifier
	d.Title = req.Title
	d.Abstract = req.Abstract
	d.Edition = req.Edition
	d.Language = req.Language
	d.ProductEdition = req.ProductEdition
	d.Geometry = nil
	if strings.TrimSpace(req.Geometry) != "" {
		g, err := geo.ParseWKT(req.Geometry)
		if err != nil {
			return httpx.ErrInvalidRequest("invalid geometry: " + err.Error())
		}
		d.Geometry = g
	}
	return nil
}

type logEntryRsp struct {
	SequenceNo    int64            `json:"sequenceNo"`
	Operation     models.Operation `json:"operation"`
	ContentLength int64            `json:"contentLength"`
	DeltaLength   int64            `json:"deltaLength"`
	Delta         string           `json:"delta,omitempty"`
	GeneratedAt   time.Time        `json:"generatedAt"`
}

func (s *Server) listDatasets(r *http.Request) (*httpx.Response, error) {
	q := r.URL.Query()
	f := models.DatasetFilter{IncludeCancelled: q.Get("includeCancelled") == "true"}
	if v := q.Get("uuid"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, httpx.ErrInvalidRequest("invalid uuid")
		}
		f.UUID = &id
	}
	if v := q.Get("geometry"); v != "" {
		g, err := geo.ParseWKT(v)
		if err != nil {
			return nil, httpx.ErrInvalidRequest("invalid geometry: " + err.Error())
		}
		f.Geometry = g
	}
	var err error
	if f.From, err = timeParam(q.Get("from")); err != nil {
		return nil, err
	}
	if f.To, err = timeParam(q.Get("to")); err != nil {
		return nil, err
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, httpx.ErrInvalidRequest("to is before from")
	}
	page := models.Page{}
	if page.Offset, err = intParam(q.Get("offset")); err != nil {
		return nil, err
	}
	if page.Limit, err = intParam(q.Get("limit")); err != nil {
		return nil, err
	}

	res, aerr := s.opts.Datasets.Find(r.Context(), f, page)
	if aerr != nil {
		return nil, aerr
	}
	items := make([]datasetRsp, 0, len(res.Items))
	for i := range res.Items {
		items = append(items, toDatasetRsp(&res.Items[i]))
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: map[string]any{
			"items":  items,
			"total":  res.Total,
			"offset": res.Page.Offset,
			"limit":  res.Page.Limit,
		},
	}, nil
}

func (s *Server) getDataset(r *http.Request) (*httpx.Response, error) {
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	d, aerr := s.opts.Datasets.FindOne(r.Context(), id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: toDatasetRsp(d)}, nil
}

func (s *Server) createDataset(r *http.Request) (*httpx.Response, error) {
	var req datasetReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	d := &models.Dataset{}
	if err := req.apply(d); err != nil {
		return nil, err
	}
	saved, aerr := s.opts.Datasets.Save(r.Context(), d)
	if aerr != nil {
		return nil, aerr
	}
	log.Ctx(r.Context()).Info().Str("dataset_id", saved.UUID.String()).Msg("dataset created")
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/api/datasets/" + saved.UUID.String(),
		Response:   toDatasetRsp(saved),
	}, nil
}

func (s *Server) updateDataset(r *http.Request) (*httpx.Response, error) {
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	var req datasetReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	d, aerr := s.opts.Datasets.FindOne(r.Context(), id)
	if aerr != nil {
		return nil, aerr
	}
	if err := req.apply(d); err != nil {
		return nil, err
	}
	saved, aerr := s.opts.Datasets.Save(r.Context(), d)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: toDatasetRsp(saved)}, nil
}

func (s *Server) deleteDataset(r *http.Request) (*httpx.Response, error) {
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	if aerr := s.opts.Datasets.Delete(r.Context(), id); aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusNoContent}, nil
}

func (s *Server) getDatasetContent(r *http.Request) (*httpx.Response, error) {
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	c, aerr := s.opts.Datasets.Content(r.Context(), id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, ContentType: "application/xml", Response: c.Content}, nil
}

func (s *Server) getDatasetLog(r *http.Request) (*httpx.Response, error) {
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	var from, to time.Time
	if t, err := timeParam(q.Get("from")); err != nil {
		return nil, err
	} else if t != nil {
		from = *t
	}
	if t, err := timeParam(q.Get("to")); err != nil {
		return nil, err
	} else if t != nil {
		to = *t
	}
	withDelta := q.Get("delta") == "true"

	entries, aerr := s.opts.ContentLog.FindForUUIDDuring(r.Context(), id, from, to)
	if aerr != nil {
		return nil, aerr
	}
	out := make([]logEntryRsp, 0, len(entries))
	for _, e := range entries {
		item := logEntryRsp{
			SequenceNo:    e.SequenceNo,
			Operation:     e.Operation,
			ContentLength: e.ContentLength,
			DeltaLength:   e.DeltaLength,
			GeneratedAt:   e.GeneratedAt,
		}
		if withDelta {
			item.Delta = string(e.Delta)
		}
		out = append(out, item)
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: out}, nil
}

func (s *Server) cancelDataset(r *http.Request) (*httpx.Response, error) {
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	d, aerr := s.opts.Datasets.Cancel(r.Context(), id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: toDatasetRsp(d)}, nil
}

func (s *Server) replaceDataset(r *http.Request) (*httpx.Response, error) {
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	d, aerr := s.opts.Datasets.Replace(r.Context(), id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/api/datasets/" + d.UUID.String(),
		Response:   toDatasetRsp(d),
	}, nil
}

func idParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, httpx.ErrInvalidRequest("invalid id")
	}
	return id, nil
}

func timeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, httpx.ErrInvalidRequest("invalid time " + v)
	}
	return &t, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, httpx.ErrInvalidRequest("invalid number " + v)
	}
	return n, nil
}

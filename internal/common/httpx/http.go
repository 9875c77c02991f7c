// Package httpx provides request parsing and response writing helpers for the HTTP handlers.
package httpx

import (
	"context"
	"net/http"

	jsonitor "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/logtrace"
)

var json = jsonitor.ConfigCompatibleWithStandardLibrary

// GetRequestData decodes a JSON POST or PUT body into data.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response is what a RequestHandler returns on success.
type Response struct {
	StatusCode  int
	Location    string
	Response    any
	ContentType string
}

type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp adapts a RequestHandler to http.HandlerFunc, translating errors into
// JSON error responses.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			switch e := err.(type) {
			case *Error:
				e.Send(w)
			case apperrors.Error:
				SendError(w, e)
			default:
				ErrApplicationError(err.Error()).Send(w)
			}
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		switch rsp.ContentType {
		case "application/json":
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, rsp.Location)
		case "application/xml", "text/plain":
			body, ok := rsp.Response.([]byte)
			if !ok {
				s, _ := rsp.Response.(string)
				body = []byte(s)
			}
			w.Header().Set("Content-Type", rsp.ContentType)
			w.WriteHeader(rsp.StatusCode)
			w.Write(body)
		default:
			ErrApplicationError("unsupported response type").Send(w)
		}
	}
}

// SendJsonRsp marshals msg and writes it. Location is set on 201 responses.
func SendJsonRsp(ctx context.Context, w http.ResponseWriter, statusCode int, msg any, location string) {
	var body []byte
	switch m := msg.(type) {
	case nil:
	case []byte:
		body = m
	default:
		var err error
		body, err = json.Marshal(msg)
		if err != nil {
			log.Ctx(ctx).Err(err).Msg("unable to marshal json")
			ErrApplicationError("Id: " + logtrace.RequestIdFromContext(ctx)).Send(w)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if statusCode == http.StatusCreated && location != "" {
		w.Header().Set("Location", location)
	}
	w.WriteHeader(statusCode)
	if body != nil {
		w.Write(body)
	}
}

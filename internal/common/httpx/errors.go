package httpx

import (
	"net/http"

	"github.com/grad-enav/atonservice/internal/common/apperrors"
)

// Error is an HTTP error response.
type Error struct {
	Description string `json:"description"`
	StatusCode  int    `json:"http_status_code"`
}

type errorRsp struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

// Failure is the result code carried by every error response.
const Failure int = 0

// Send writes the error as JSON. A nil writer is ignored.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	rspJson, err := json.Marshal(&errorRsp{Result: Failure, Error: e.Description})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Unable to parse error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(rspJson)
}

func (e *Error) Error() string {
	return e.Description
}

// StatusFor returns the HTTP status of an application error. An explicit status wins,
// otherwise the error kind decides.
func StatusFor(err apperrors.Error) int {
	if code := err.StatusCode(); code != 0 {
		return code
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindParse, apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindDelivery:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// SendError sends an application error. A nil error is ignored.
func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	(&Error{StatusCode: StatusFor(err), Description: err.ErrorAll()}).Send(w)
}

func ErrReqMethodNotSupported() *Error {
	return &Error{Description: "request method not supported", StatusCode: http.StatusMethodNotAllowed}
}

func ErrUnableToParseReqData() *Error {
	return &Error{Description: "unable to parse request data", StatusCode: http.StatusBadRequest}
}

// ErrApplicationError returns a 500 with an optional message.
func ErrApplicationError(err ...string) *Error {
	s := "unable to process request"
	if len(err) > 0 {
		s = err[0]
	}
	return &Error{Description: s, StatusCode: http.StatusInternalServerError}
}

// ErrInvalidRequest returns a 400 with an optional message.
func ErrInvalidRequest(str ...string) *Error {
	s := "invalid request data or empty request values"
	if len(str) > 0 {
		s = str[0]
	}
	return &Error{Description: s, StatusCode: http.StatusBadRequest}
}

func ErrRequestTimeout() *Error {
	return &Error{Description: "request timed out", StatusCode: http.StatusServiceUnavailable}
}

package dberror

import (
	"net/http"

	"github.com/grad-enav/atonservice/internal/common/apperrors"
)

var (
	ErrDatabase      apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusInternalServerError).SetKind(apperrors.KindInternal)
	ErrAlreadyExists apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict).SetKind(apperrors.KindConflict)
	ErrNotFound      apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound).SetKind(apperrors.KindNotFound)
	ErrInvalidInput  apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest).SetKind(apperrors.KindValidation)
	ErrInvalidWKT    apperrors.Error = ErrInvalidInput.New("invalid geometry").SetStatusCode(http.StatusBadRequest)
)

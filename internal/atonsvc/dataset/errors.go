package dataset

import (
	"net/http"

	"github.com/grad-enav/atonservice/internal/common/apperrors"
)

var (
	ErrDataset apperrors.Error = apperrors.New("dataset operation failed").SetStatusCode(http.StatusInternalServerError)

	ErrNotFound      apperrors.Error = ErrDataset.New("dataset not found").SetKind(apperrors.KindNotFound).SetStatusCode(http.StatusNotFound)
	ErrValidation    apperrors.Error = ErrDataset.New("invalid dataset").SetKind(apperrors.KindValidation).SetStatusCode(http.StatusBadRequest)
	ErrAlreadyExists apperrors.Error = ErrDataset.New("dataset already exists").SetKind(apperrors.KindConflict).SetStatusCode(http.StatusConflict)
	ErrContent       apperrors.Error = ErrDataset.New("unable to generate dataset content")
)

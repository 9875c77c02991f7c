package s125

import (
	"net/http"

	"github.com/grad-enav/atonservice/internal/common/apperrors"
)

var (
	ErrS125 apperrors.Error = apperrors.New("s125 processing failed").SetStatusCode(http.StatusInternalServerError)

	ErrParse      apperrors.Error = ErrS125.New("unable to parse S-125 payload").SetKind(apperrors.KindParse).SetStatusCode(http.StatusBadRequest)
	ErrValidation apperrors.Error = ErrS125.New("invalid S-125 content").SetKind(apperrors.KindValidation).SetStatusCode(http.StatusBadRequest)
)

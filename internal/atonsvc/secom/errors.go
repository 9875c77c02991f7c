package secom

import (
	"net/http"

	"github.com/grad-enav/atonservice/internal/common/apperrors"
)

var (
	ErrSecom apperrors.Error = apperrors.New("secom operation failed").SetStatusCode(http.StatusInternalServerError)

	ErrNotFound   apperrors.Error = ErrSecom.New("subscription not found").SetKind(apperrors.KindNotFound).SetStatusCode(http.StatusNotFound)
	ErrValidation apperrors.Error = ErrSecom.New("invalid subscription request").SetKind(apperrors.KindValidation).SetStatusCode(http.StatusBadRequest)
	ErrDelivery   apperrors.Error = ErrSecom.New("delivery failed").SetKind(apperrors.KindDelivery).SetStatusCode(http.StatusBadGateway)
	ErrSignature  apperrors.Error = ErrSecom.New("unable to sign payload").SetKind(apperrors.KindSignature)
)

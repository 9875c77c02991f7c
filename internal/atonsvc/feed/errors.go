package feed

import (
	"net/http"

	"github.com/grad-enav/atonservice/internal/common/apperrors"
)

var (
	ErrFeed           apperrors.Error = apperrors.New("feed error").SetStatusCode(http.StatusInternalServerError)
	ErrEnvelope       apperrors.Error = ErrFeed.New("malformed feed message").SetKind(apperrors.KindParse).SetStatusCode(http.StatusBadRequest)
	ErrConnection     apperrors.Error = ErrFeed.New("feed connection failed").SetStatusCode(http.StatusServiceUnavailable)
	ErrAlreadyStarted apperrors.Error = ErrFeed.New("listener already started").SetKind(apperrors.KindConflict)
)

package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("chain matches every ancestor", func(t *testing.T) {
		ErrBase := New("base error")
		assert.Equal(t, "base error", ErrBase.Error())
		assert.Equal(t, "msg", ErrBase.New("msg").Error())
		assert.ErrorIs(t, ErrBase, ErrBase)

		ErrFirst := ErrBase.New("first level")
		assert.ErrorIs(t, ErrFirst, ErrBase)

		ErrOther := New("another error")
		wrapped := ErrFirst.Err(ErrOther.Msg("another error msg"))
		assert.Equal(t, "first level", wrapped.Error())
		assert.ErrorIs(t, wrapped, ErrBase)
		assert.ErrorIs(t, wrapped, ErrFirst)
		assert.ErrorIs(t, wrapped, ErrOther)

		goErr := fmt.Errorf("plain")
		assert.ErrorIs(t, ErrFirst.MsgErr("msg", goErr), goErr)
		assert.False(t, errors.Is(ErrOther, ErrBase))
	})

	t.Run("status and kind are inherited", func(t *testing.T) {
		ErrValidation := New("validation failed").SetKind(KindValidation).SetStatusCode(http.StatusBadRequest)
		ErrGeometry := ErrValidation.New("invalid geometry")
		assert.Equal(t, http.StatusBadRequest, ErrGeometry.StatusCode())
		assert.Equal(t, KindValidation, ErrGeometry.Kind())

		err := ErrGeometry.Msg("ring not closed")
		assert.Equal(t, KindValidation, KindOf(err))
		assert.Equal(t, KindValidation, KindOf(fmt.Errorf("outer: %w", err)))
		assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
		assert.Equal(t, "validation", KindValidation.String())
	})

	t.Run("expanded message lists wrapped errors", func(t *testing.T) {
		ErrDelivery := New("delivery failed").SetExpandError(true)
		err := ErrDelivery.MsgErr("push rejected", errors.New("status 503"))
		assert.Equal(t, "push rejected", err.Error())
		assert.Equal(t, "push rejected; delivery failed; status 503", err.ErrorAll())
	})
}

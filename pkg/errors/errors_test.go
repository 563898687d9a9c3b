package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("create plan: %w", WrapActivePlanExists("d1"))

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.True(t, errors.Is(wrapped, ErrActivePlanExists))
}

func TestKind_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindValidation.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, KindEligibility.HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, KindAuthentication.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, KindAuthorization.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, KindNotFound.HTTPStatus())
	assert.Equal(t, http.StatusConflict, KindConflict.HTTPStatus())
	assert.Equal(t, http.StatusTooManyRequests, KindRateLimit.HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, KindGateway.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
}

func TestGatewayErrorKeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := WrapGatewayError(cause)

	assert.ErrorIs(t, err, ErrGateway)
	assert.ErrorIs(t, err, cause)
}

package fhirerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("with path", func(t *testing.T) {
		err := Validation("bad modifier").WithPath("Patient?name:foo")
		assert.Equal(t, "validation at Patient?name:foo: bad modifier", err.Error())
	})

	t.Run("without path", func(t *testing.T) {
		err := Validation("bad modifier")
		assert.Equal(t, "validation: bad modifier", err.Error())
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := errors.New("connection refused")
		err := Internal(inner, "query failed")
		assert.Equal(t, inner, err.Unwrap())
		assert.True(t, errors.Is(err, inner))
	})

	t.Run("wrap nil is nil", func(t *testing.T) {
		assert.Nil(t, Wrap(KindInternal, nil, "x"))
	})
}

func TestKindHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindInvalidResource, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindGone, http.StatusGone},
		{KindVersionConflict, http.StatusPreconditionFailed},
		{KindPreconditionFailed, http.StatusPreconditionFailed},
		{KindUnprocessableEntity, http.StatusUnprocessableEntity},
		{KindUnsupportedMediaType, http.StatusUnsupportedMediaType},
		{KindNotImplemented, http.StatusNotImplemented},
		{KindTooCostly, http.StatusPayloadTooLarge},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.kind.HTTPStatus(), c.kind.String())
	}
}

func TestVersionConflictDetails(t *testing.T) {
	err := VersionConflict(4, 5)
	assert.Equal(t, KindVersionConflict, err.Kind)
	assert.Equal(t, int64(4), err.Details["expected"])
	assert.Equal(t, int64(5), err.Details["actual"])
}

func TestKindOfAndIs(t *testing.T) {
	err := NotFound("Patient", "p7")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindGone))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

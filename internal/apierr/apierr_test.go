package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_StatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{NotFound, http.StatusNotFound},
		{InvalidArgument, http.StatusBadRequest},
		{Conflict, http.StatusConflict},
		{AuthRequired, http.StatusUnauthorized},
		{Upstream, http.StatusBadGateway},
		{Internal, http.StatusInternalServerError},
		{Kind("something_unmapped"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		assert.Equal(t, c.want, err.Status(), "kind=%s", c.kind)
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Internal, "apply schema", cause)

	assert.Equal(t, "apply schema: disk full", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))

	plain := New(NotFound, "policy not found")
	assert.Equal(t, "policy not found", plain.Error())
	assert.Nil(t, plain.Unwrap())
}

func TestConstructorsFormat(t *testing.T) {
	err := NotFoundf("session %s not found", "abc-123")
	assert.Equal(t, NotFound, err.Kind)
	assert.Equal(t, "session abc-123 not found", err.Message)

	err = InvalidArgumentf("unknown category %q", "bogus")
	assert.Equal(t, InvalidArgument, err.Kind)

	err = Conflictf("policy %q already exists", "my-policy")
	assert.Equal(t, Conflict, err.Kind)

	wrapped := Internalf(errors.New("conn refused"), "open database")
	assert.Equal(t, Internal, wrapped.Kind)
	assert.ErrorContains(t, wrapped, "conn refused")
}

func TestAs(t *testing.T) {
	typed := NotFoundf("missing")
	wrapped := fmt.Errorf("context: %w", typed)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, typed, got)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(Conflictf("dup")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("untyped")))
}

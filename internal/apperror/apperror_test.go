package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_StatusByKind(t *testing.T) {
	cases := map[*Error]int{
		Unauthorized("no token", nil):           http.StatusUnauthorized,
		RateLimited("slow down"):                http.StatusTooManyRequests,
		UpstreamUnavailable("open", nil):        http.StatusServiceUnavailable,
		RouteNotFound("nope"):                   http.StatusNotFound,
		Internal("boom", errors.New("x")):       http.StatusInternalServerError,
		Degraded("redis down", errors.New("x")): http.StatusInternalServerError,
	}
	for e, want := range cases {
		assert.Equal(t, want, e.Status(), e.Kind)
	}
}

func TestFrom_KeepsClassificationThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("filter: %w", RateLimited("Rate limit exceeded"))

	got := From(wrapped)
	assert.Equal(t, KindRateLimited, got.Kind)
	assert.Equal(t, Body{Error: "Rate limit exceeded", Status: 429}, got.Body())
}

func TestFrom_UnclassifiedBecomesInternal(t *testing.T) {
	cause := errors.New("nil map write")

	got := From(cause)
	assert.Equal(t, KindInternal, got.Kind)
	assert.ErrorIs(t, got, cause)
	assert.Nil(t, From(nil))
}

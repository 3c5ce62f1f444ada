package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChiRouter(t *testing.T) {
	r := NewChi()
	var order []string
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			order = append(order, "mw")
			next.ServeHTTP(w, req)
		})
	})
	r.Handle(http.MethodGet, "/users/{id}", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		order = append(order, "get")
	}))
	r.Any("/files/*", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		order = append(order, "any")
	}))

	assert.True(t, r.Match(http.MethodGet, "/users/1"))
	assert.False(t, r.Match(http.MethodPost, "/users/1"))
	assert.True(t, r.Match(http.MethodDelete, "/files/a/b"))
	assert.False(t, r.Match(http.MethodGet, "/nope"))
	assert.False(t, r.Match("BREW", "/files/a"))

	r.Mux().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/7", nil))
	r.Mux().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/files/x", nil))
	assert.Equal(t, []string{"mw", "get", "mw", "any"}, order)
}

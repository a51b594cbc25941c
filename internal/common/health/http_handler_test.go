package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthCheckHttpHandlerReturnsNoContentWhenHealthy(t *testing.T) {
	handler := NewHealthCheckHttpHandler(&staticChecker{})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusNoContent, recorder.Code)
}

func TestHealthCheckHttpHandlerReturnsServiceUnavailableWithReason(t *testing.T) {
	handler := NewHealthCheckHttpHandler(&staticChecker{err: errors.New("collector not running")})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "collector not running")
}

func TestSetupHttpMuxRegistersHealthEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	SetupHttpMux(mux, &staticChecker{})

	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusNoContent, recorder.Code)
}

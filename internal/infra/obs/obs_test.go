package obs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelsaga/internal/domain/saga"
)

func newRouter(h HealthHandlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	mw := Middleware{Logger: NewLogger("test")}
	r.Use(mw.RequestID(), mw.LoggerMiddleware())
	r.GET("/livez", h.Livez)
	r.GET("/readyz", h.Readyz)
	return r
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	r := newRouter(HealthHandlers{Checks: map[string]ReadinessCheck{
		"mongo": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
	assert.NotContains(t, rec.Body.String(), "mongo")
}

func TestReadyzWithoutChecks(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(HealthHandlers{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	r := newRouter(HealthHandlers{})
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	assert.Equal(t, "abc", RequestIDFromContext(WithRequestID(context.Background(), "abc")))
}

func TestMetricsExposeSagaSeries(t *testing.T) {
	m := NewMetrics()
	m.SagaStarted(saga.TypeChoreography)
	m.CompensationFailed(saga.StepHotel)
	m.EventPublished(saga.EventSagaStarted)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `type="CHOREOGRAPHY"`)
	assert.Contains(t, body, `step="hotel"`)
	assert.Contains(t, body, `event_type="SAGA_STARTED"`)
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	c := New("test")

	r := chi.NewRouter()
	r.Use(c.HTTPMiddleware)
	r.Get("/appointments/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/appointments/"+id, nil))
	}

	got := testutil.ToFloat64(c.httpRequests.WithLabelValues(http.MethodGet, "/appointments/{id}", "404"))
	assert.Equal(t, float64(3), got)
}

func TestDomainCounters(t *testing.T) {
	c := New("test")

	c.RecordBooking("created")
	c.RecordBooking("slot_conflict")
	c.RecordBooking("slot_conflict")
	c.RecordSettlement("settled")
	c.RecordExpired(4)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.bookings.WithLabelValues("slot_conflict")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.settlements.WithLabelValues("settled")))
	assert.Equal(t, float64(4), testutil.ToFloat64(c.expired))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := New("test")
	c.RecordBooking("created")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `appointment_bookings_total{outcome="created",service="test"} 1`)
}

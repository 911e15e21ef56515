package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInit(t *testing.T) {
	Init("v1.0.0", "abc123", "2026-01-30", "gateway")

	assert.Equal(t, 1.0, testutil.ToFloat64(AppInfo.WithLabelValues("v1.0.0", "abc123", "2026-01-30", "gateway")))
}

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/passwords/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := HTTPMiddleware(mux)

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/passwords/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/passwords/{param}", "418")))
}

func TestHTTPMiddlewareStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Not Found", http.StatusNotFound},
		{"Internal Server Error", http.StatusInternalServerError},
		{"Unauthorized", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
			assert.Equal(t, tt.statusCode, rec.Code)
		})
	}
}

func TestDBCollector_NilPool(t *testing.T) {
	collector := NewDBCollector(map[string]*sql.DB{"writer": nil})
	collector.collect()
	collector.Stop()
}

func TestDBCollector_StopsOnContext(t *testing.T) {
	collector := NewDBCollector(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		collector.Start(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestRecordQuery(t *testing.T) {
	RecordQuery("test_select", time.Now(), nil)
	assert.Positive(t, testutil.CollectAndCount(DBQueryDuration))

	before := testutil.ToFloat64(DBErrors.WithLabelValues("test_failed", "canceled"))
	RecordQuery("test_failed", time.Now(), context.Canceled)
	assert.Equal(t, before+1, testutil.ToFloat64(DBErrors.WithLabelValues("test_failed", "canceled")))

	// ErrNoRows is a normal outcome, not an error.
	RecordQuery("test_norows", time.Now(), sql.ErrNoRows)
	assert.Equal(t, 0.0, testutil.ToFloat64(DBErrors.WithLabelValues("test_norows", "query_error")))
}

func TestResponseWriterDefaults(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec}

	content := []byte("Hello, World!")
	_, _ = rw.Write(content)

	assert.Equal(t, http.StatusOK, rw.statusCode)
	assert.Equal(t, len(content), rw.bytesWritten)
}

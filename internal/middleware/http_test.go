package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	handler := CORS("http://127.0.0.1:5500")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("Preflight Short-Circuits", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/reaging", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "http://127.0.0.1:5500", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "POST, GET, OPTIONS, DELETE, PATCH", rr.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "X-Alert", rr.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("Passes Through Other Methods", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logout", nil))

		assert.Equal(t, http.StatusTeapot, rr.Code)
		assert.Equal(t, "http://127.0.0.1:5500", rr.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRecover(t *testing.T) {
	handler := Recover(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Internal server error", message(t, rr))
}

type recordedHit struct {
	endpoint string
	method   string
}

type mockEndpointRecorder struct {
	hits chan recordedHit
}

func (m *mockEndpointRecorder) IncrementEndpointUsage(ctx context.Context, endpoint, method string) error {
	m.hits <- recordedHit{endpoint: endpoint, method: method}
	return nil
}

func TestUsageRecorderUsesRouteTemplate(t *testing.T) {
	rec := &mockEndpointRecorder{hits: make(chan recordedHit, 1)}

	router := mux.NewRouter()
	router.Use(UsageRecorder(rec, discardLogger()))
	router.HandleFunc("/delete_user/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("DELETE")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/delete_user/abc123", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	select {
	case hit := <-rec.hits:
		assert.Equal(t, "/delete_user/{id}", hit.endpoint)
		assert.Equal(t, http.MethodDelete, hit.method)
	case <-time.After(2 * time.Second):
		t.Fatal("usage hit was never recorded")
	}
}

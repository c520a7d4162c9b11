package app

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardpos/stockledger/internal/observability"
	"github.com/cardpos/stockledger/internal/shared"
	"github.com/cardpos/stockledger/jobs"
	_ "github.com/cardpos/stockledger/testing"
)

func TestActorMiddleware(t *testing.T) {
	var got shared.Actor
	var scoped bool
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, scoped = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Store-ID", "12")
	req.Header.Set("X-Staff-ID", "34")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, scoped)
	require.Equal(t, shared.Actor{StoreID: 12, StaffAccountID: 34}, got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Store-ID", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, scoped)
}

func TestRouterOperationalEndpoints(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	healthy := true
	router := NewRouter(RouterParams{
		Logger:     slog.Default(),
		Config:     cfg,
		JobHandler: jobs.NewHandler(nil, nil),
		Metrics:    observability.NewMetrics(),
		Health: func(r *http.Request) error {
			if healthy {
				return nil
			}
			return errors.New("postgres unreachable")
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	healthy = false
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/cardpos/stockledger/internal/shared"
)

func newTestRouter(t *testing.T, svc *Service) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("X-Store-ID") == "" {
				next.ServeHTTP(w, req)
				return
			}
			ctx := shared.ContextWithActor(req.Context(), testActor)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Store-ID", "1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerMovementLifecycle(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	router := newTestRouter(t, svc)

	rr := doJSON(t, router, http.MethodPost, "/products", `{"sell_price":"500","buy_price":"300"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var product struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &product))
	base := "/products/" + strconv.FormatInt(product.ID, 10)

	rr = doJSON(t, router, http.MethodPost, base+"/movements", `{"item_count":3,"kind":"stocking","unit_price":"300"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var result MovementResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, int64(3), result.ResultStockNumber)

	rr = doJSON(t, router, http.MethodPost, base+"/movements", `{"item_count":-5,"kind":"transaction_sell"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "insufficient stock")

	rr = doJSON(t, router, http.MethodPost, base+"/movements", `{"item_count":2,"kind":"stocking"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doJSON(t, router, http.MethodPost, base+"/movements", `{"item_count":0,"kind":"stocking"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodGet, base+"/cost-summary", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var summary CostSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Equal(t, int64(3), summary.OpenQuantity)

	rr = doJSON(t, router, http.MethodGet, base+"/entries?limit=10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"source_kind":"stocking"`)

	rr = doJSON(t, router, http.MethodGet, base+"/replay", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"lots_consistent":true`)

	rr = doJSON(t, router, http.MethodGet, "/products/999", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerTransferAndReservation(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	router := newTestRouter(t, svc)
	a := mustProduct(t, svc, Product{})
	b := mustProduct(t, svc, Product{})
	stock(t, svc, a, 5, 100)

	body := `{"from_product_id":` + strconv.FormatInt(a, 10) + `,"to_product_id":` + strconv.FormatInt(b, 10) + `,"item_count":2}`
	rr := doJSON(t, router, http.MethodPost, "/transfers", body)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"result_stock_number":2`)

	rr = doJSON(t, router, http.MethodPost, "/reservations", `{"order_id":"ec-1","lines":[{"product_id":`+strconv.FormatInt(a, 10)+`,"item_count":1}]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = doJSON(t, router, http.MethodPost, "/reservations/ec-1/release", `{"reason":"timeout"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = doJSON(t, router, http.MethodPost, "/reservations/ec-1/confirm", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	rr = doJSON(t, router, http.MethodPost, "/reservations/missing/confirm", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerRequiresStoreScope(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	router := newTestRouter(t, svc)
	req := httptest.NewRequest(http.MethodGet, "/products/1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req.WithContext(context.Background()))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	svc, _ := newTestService(t, ServiceConfig{})
	router := newTestRouter(t, svc)
	rr := doJSON(t, router, http.MethodPost, "/transfers", `{"from_product_id":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = doJSON(t, router, http.MethodPost, "/transfers", `{"from_product_id":1,"to_product_id":1,"item_count":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

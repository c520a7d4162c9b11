package consignment

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cardpos/stockledger/internal/platform/httpx"
	"github.com/cardpos/stockledger/internal/shared"
)

// Handler exposes consignor rollups over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the read-only consignor endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/consignors/{clientID}/stats", h.handleTransactionStats)
	r.Get("/consignors/{clientID}/product-stats", h.handleProductStats)
	r.Get("/consignors/{clientID}/summary", h.handleSummary)
}

func (h *Handler) handleTransactionStats(w http.ResponseWriter, r *http.Request) {
	actor, filter, ok := h.parse(w, r)
	if !ok {
		return
	}
	stats, err := h.service.GetTransactionStats(r.Context(), actor, filter)
	if err != nil {
		h.respondError(w, "consignment transaction stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleProductStats(w http.ResponseWriter, r *http.Request) {
	actor, filter, ok := h.parse(w, r)
	if !ok {
		return
	}
	stats, err := h.service.GetProductStats(r.Context(), actor, filter.ClientID)
	if err != nil {
		h.respondError(w, "consignment product stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	actor, filter, ok := h.parse(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetClientSummary(r.Context(), actor, filter)
	if err != nil {
		h.respondError(w, "consignment summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request) (shared.Actor, TransactionStatsFilter, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || actor.StoreID == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: store scope missing", httpx.ErrUnauthorized))
		return shared.Actor{}, TransactionStatsFilter{}, false
	}
	var (
		filter TransactionStatsFilter
		err    error
	)
	filter.ClientID, err = strconv.ParseInt(chi.URLParam(r, "clientID"), 10, 64)
	if err != nil || filter.ClientID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "consignor id must be a positive integer")
		return shared.Actor{}, TransactionStatsFilter{}, false
	}
	q := r.URL.Query()
	if v := q.Get("product_id"); v != "" {
		if filter.ProductID, err = strconv.ParseInt(v, 10, 64); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id must be an integer")
			return shared.Actor{}, TransactionStatsFilter{}, false
		}
	}
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse(time.RFC3339, v); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be RFC3339")
			return shared.Actor{}, TransactionStatsFilter{}, false
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = time.Parse(time.RFC3339, v); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be RFC3339")
			return shared.Actor{}, TransactionStatsFilter{}, false
		}
	}
	return actor, filter, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrClientNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case errors.Is(err, ErrInvalidRange):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	case errors.Is(err, shared.ErrActorRequired):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUnauthorized, err.Error()))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/cardpos/stockledger/internal/platform/httpx"
	"github.com/cardpos/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.handleRegisterProduct)
		r.Route("/{productID}", func(r chi.Router) {
			r.Get("/", h.handleGetProduct)
			r.Delete("/", h.handleDeleteProduct)
			r.Post("/movements", h.handleMovement)
			r.Get("/entries", h.handleEntries)
			r.Get("/lots", h.handleLots)
			r.Get("/cost-summary", h.handleCostSummary)
			r.Get("/replay", h.handleReplay)
		})
	})
	r.Post("/transfers", h.handleTransfer)
	r.Post("/conversions", h.handleConvert)
	r.Post("/reservations", h.handleReserve)
	r.Post("/reservations/{orderID}/confirm", h.handleConfirmReservation)
	r.Post("/reservations/{orderID}/release", h.handleReleaseReservation)
	r.Post("/consignors", h.handleRegisterConsignor)
}

type productRequest struct {
	InfiniteStock       bool            `json:"infinite_stock"`
	SellPrice           decimal.Decimal `json:"sell_price"`
	BuyPrice            decimal.Decimal `json:"buy_price"`
	ConsignmentClientID int64           `json:"consignment_client_id" validate:"gte=0"`
}

type movementRequest struct {
	ItemCount              int64               `json:"item_count" validate:"required"`
	Kind                   string              `json:"kind" validate:"required"`
	UnitPrice              decimal.NullDecimal `json:"unit_price"`
	SpecificWholesalePrice decimal.NullDecimal `json:"specific_wholesale_price"`
	Lots                   []LotSpec           `json:"lots"`
	SourceID               string              `json:"source_id" validate:"max=128"`
	Description            string              `json:"description" validate:"max=500"`
	Sale                   *SaleTerms          `json:"sale"`
}

type transferRequest struct {
	FromProductID          int64               `json:"from_product_id" validate:"required,gt=0"`
	ToProductID            int64               `json:"to_product_id" validate:"required,gt=0,nefield=FromProductID"`
	ItemCount              int64               `json:"item_count" validate:"required,gt=0"`
	SpecificWholesalePrice decimal.NullDecimal `json:"specific_wholesale_price"`
	Description            string              `json:"description" validate:"max=500"`
}

type convertLineRequest struct {
	ProductID int64               `json:"product_id" validate:"required,gt=0"`
	ItemCount int64               `json:"item_count" validate:"required,gt=0"`
	UnitPrice decimal.NullDecimal `json:"unit_price"`
}

type convertRequest struct {
	Kind        string               `json:"kind" validate:"required,oneof=pack_opening original_pack bundle bundle_release"`
	Inputs      []convertLineRequest `json:"inputs" validate:"required,min=1,dive"`
	Outputs     []convertLineRequest `json:"outputs" validate:"required,min=1,dive"`
	SourceID    string               `json:"source_id" validate:"max=128"`
	Description string               `json:"description" validate:"max=500"`
}

type reserveLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	ItemCount int64 `json:"item_count" validate:"required,gt=0"`
}

type reserveRequest struct {
	OrderID    string               `json:"order_id" validate:"max=128"`
	Lines      []reserveLineRequest `json:"lines" validate:"required,min=1,dive"`
	TTLSeconds int64                `json:"ttl_seconds" validate:"gte=0"`
}

type releaseRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

type consignorRequest struct {
	DisplayName        string          `json:"display_name" validate:"required,max=200"`
	CommissionCashRate decimal.Decimal `json:"commission_cash_rate"`
	CommissionCardRate decimal.Decimal `json:"commission_card_rate"`
}

func (h *Handler) handleRegisterProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req productRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.service.RegisterProduct(r.Context(), actor, Product{
		InfiniteStock:       req.InfiniteStock,
		SellPrice:           req.SellPrice,
		BuyPrice:            req.BuyPrice,
		ConsignmentClientID: req.ConsignmentClientID,
	})
	if err != nil {
		h.respondError(w, "register product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, productView(product))
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	product, err := h.service.GetProduct(r.Context(), actor, id)
	if err != nil {
		h.respondError(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, productView(product))
}

func (h *Handler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteProduct(r.Context(), actor, id); err != nil {
		h.respondError(w, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMovement(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.ApplyMovement(r.Context(), actor, MovementInput{
		ProductID:              id,
		ItemCount:              req.ItemCount,
		Kind:                   SourceKind(req.Kind),
		UnitPrice:              req.UnitPrice,
		SpecificWholesalePrice: req.SpecificWholesalePrice,
		Lots:                   req.Lots,
		SourceID:               strings.TrimSpace(req.SourceID),
		Description:            req.Description,
		Sale:                   req.Sale,
		IdempotencyKey:         idempotencyKey(r),
	})
	if err != nil {
		h.respondError(w, "apply movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	filter := EntryFilter{ProductID: id}
	q := r.URL.Query()
	var err error
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse(time.RFC3339, v); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be RFC3339")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = time.Parse(time.RFC3339, v); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be RFC3339")
			return
		}
	}
	if v := q.Get("after_id"); v != "" {
		if filter.AfterID, err = strconv.ParseInt(v, 10, 64); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "after_id must be an integer")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be an integer")
			return
		}
	}
	entries, err := h.service.ListEntries(r.Context(), actor, filter)
	if err != nil {
		h.respondError(w, "list entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleLots(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	openOnly, _ := strconv.ParseBool(r.URL.Query().Get("open"))
	lots, err := h.service.ListLots(r.Context(), actor, LotFilter{ProductID: id, OpenOnly: openOnly})
	if err != nil {
		h.respondError(w, "list lots", err)
		return
	}
	views := make([]lotView, 0, len(lots))
	for _, lot := range lots {
		views = append(views, lotView{
			ID:                lot.ID,
			ArrivedAt:         lot.ArrivedAt,
			OriginalQuantity:  lot.OriginalQuantity,
			RemainingQuantity: lot.RemainingQuantity,
			UnitPrice:         lot.UnitPrice,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": views})
}

func (h *Handler) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	summary, err := h.service.CostSummary(r.Context(), actor, id)
	if err != nil {
		h.respondError(w, "cost summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := productIDParam(w, r)
	if !ok {
		return
	}
	report, err := h.service.Replay(r.Context(), actor, id)
	if err != nil {
		h.respondError(w, "replay", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Transfer(r.Context(), actor, TransferInput{
		FromProductID:          req.FromProductID,
		ToProductID:            req.ToProductID,
		ItemCount:              req.ItemCount,
		SpecificWholesalePrice: req.SpecificWholesalePrice,
		Description:            req.Description,
		IdempotencyKey:         idempotencyKey(r),
	})
	if err != nil {
		h.respondError(w, "transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req convertRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := ConvertInput{
		Kind:           SourceKind(req.Kind),
		SourceID:       strings.TrimSpace(req.SourceID),
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(r),
	}
	for _, line := range req.Inputs {
		input.Inputs = append(input.Inputs, ConvertLine(line))
	}
	for _, line := range req.Outputs {
		input.Outputs = append(input.Outputs, ConvertLine(line))
	}
	result, err := h.service.Convert(r.Context(), actor, input)
	if err != nil {
		h.respondError(w, "convert", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req reserveRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := ReserveInput{OrderID: req.OrderID, TTL: time.Duration(req.TTLSeconds) * time.Second}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReservationLine(line))
	}
	reservation, err := h.service.Reserve(r.Context(), actor, input)
	if err != nil {
		h.respondError(w, "reserve", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reservation)
}

func (h *Handler) handleConfirmReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	reservation, err := h.service.ConfirmReservation(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondError(w, "confirm reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleReleaseReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	reservation, err := h.service.ReleaseReservation(r.Context(), actor, chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		h.respondError(w, "release reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleRegisterConsignor(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req consignorRequest
	if !h.decode(w, r, &req) {
		return
	}
	client, err := h.service.RegisterConsignmentClient(r.Context(), actor, ConsignmentClient{
		DisplayName:        req.DisplayName,
		CommissionCashRate: req.CommissionCashRate,
		CommissionCardRate: req.CommissionCardRate,
	})
	if err != nil {
		h.respondError(w, "register consignor", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":                   client.ID,
		"store_id":             client.StoreID,
		"display_name":         client.DisplayName,
		"commission_cash_rate": client.CommissionCashRate,
		"commission_card_rate": client.CommissionCardRate,
	})
}

type productJSON struct {
	ID                  int64           `json:"id"`
	StoreID             int64           `json:"store_id"`
	StockNumber         int64           `json:"stock_number"`
	InfiniteStock       bool            `json:"infinite_stock"`
	SellPrice           decimal.Decimal `json:"sell_price"`
	BuyPrice            decimal.Decimal `json:"buy_price"`
	ConsignmentClientID int64           `json:"consignment_client_id,omitempty"`
}

func productView(p Product) productJSON {
	return productJSON{
		ID:                  p.ID,
		StoreID:             p.StoreID,
		StockNumber:         p.StockNumber,
		InfiniteStock:       p.InfiniteStock,
		SellPrice:           p.SellPrice,
		BuyPrice:            p.BuyPrice,
		ConsignmentClientID: p.ConsignmentClientID,
	}
}

type lotView struct {
	ID                int64           `json:"id"`
	ArrivedAt         time.Time       `json:"arrived_at"`
	OriginalQuantity  int64           `json:"original_quantity"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || actor.StoreID == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: store scope missing", httpx.ErrUnauthorized))
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				msgs = append(msgs, fieldErr.Field()+": "+fieldErr.Tag())
			}
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(msgs, "; "))
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrReservationClosed),
		errors.Is(err, ErrReservationExists), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error()))
	case errors.Is(err, ErrMissingWholesalePrice), errors.Is(err, ErrLotExhausted):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUnprocessable, err.Error()))
	case isNotFound(err), errors.Is(err, ErrConsignmentClientNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error()))
	case isValidation(err):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	case errors.Is(err, shared.ErrActorRequired):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUnauthorized, err.Error()))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func isValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidQuantity, ErrInvalidUnitPrice, ErrInvalidSourceKind, ErrDirectionNotAllowed,
		ErrLotQuantityMismatch, ErrSameProduct, ErrSaleTermsRequired, ErrNotConsignmentProduct,
		ErrUnsupportedPaymentMethod, ErrEmptyConversion,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product id must be a positive integer")
		return 0, false
	}
	return id, true
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

package receipt

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/totals"
)

// IdempotencyHeader carries the client's idempotency key on create.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for receipts.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, validator: v}
}

// MountRoutes registers receipt routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/post", h.post)
	r.Post("/{id}/cancel", h.cancel)
	r.Get("/{id}/movements", h.movements)
}

type lineRequest struct {
	StockItemID   uuid.UUID       `json:"stock_item_id" validate:"required"`
	ReceivedQty   decimal.Decimal `json:"received_qty"`
	UnitCostCents int64           `json:"unit_cost_cents" validate:"gte=0"`
	DiscountType  string          `json:"discount_type" validate:"omitempty,oneof=PERCENT AMOUNT"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	Taxable       bool            `json:"taxable"`
	VATRate       decimal.Decimal `json:"vat_rate"`
	VATMode       string          `json:"vat_mode" validate:"omitempty,oneof=EXCLUSIVE INCLUSIVE NONE"`
	BatchNumber   string          `json:"batch_number" validate:"max=64"`
	SerialNumber  string          `json:"serial_number" validate:"max=64"`
	ExpiryDate    string          `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
}

type receiptRequest struct {
	SupplierID   uuid.UUID     `json:"supplier_id"`
	LocationID   string        `json:"location_id" validate:"max=64"`
	LocationName string        `json:"location_name" validate:"max=128"`
	Reference    string        `json:"reference" validate:"max=128"`
	Note         string        `json:"note" validate:"max=1000"`
	Lines        []lineRequest `json:"lines" validate:"max=500,dive"`
}

func (req receiptRequest) header() Header {
	return Header{
		SupplierID:   req.SupplierID,
		LocationID:   strings.TrimSpace(req.LocationID),
		LocationName: strings.TrimSpace(req.LocationName),
		Reference:    strings.TrimSpace(req.Reference),
		Note:         req.Note,
	}
}

func (req receiptRequest) lines() []LineInput {
	out := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		in := LineInput{
			StockItemID:   l.StockItemID,
			ReceivedQty:   l.ReceivedQty,
			UnitCostCents: l.UnitCostCents,
			Discount:      totals.Discount{Type: totals.DiscountType(l.DiscountType), Value: l.DiscountValue},
			Taxable:       l.Taxable,
			VATRate:       l.VATRate,
			VATMode:       totals.VATMode(l.VATMode),
			BatchNumber:   strings.TrimSpace(l.BatchNumber),
			SerialNumber:  strings.TrimSpace(l.SerialNumber),
		}
		if l.ExpiryDate != "" {
			// already checked by the datetime tag
			if d, err := time.Parse("2006-01-02", l.ExpiryDate); err == nil {
				in.ExpiryDate = &d
			}
		}
		out = append(out, in)
	}
	return out
}

// decode reads and validates the body. It writes the response itself and
// returns false when the request is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (receiptRequest, bool) {
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return req, false
	}
	if err := h.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return req, false
		}
		fields := make(map[string]string, len(verrs))
		for _, fieldErr := range verrs {
			key := fieldErr.Namespace()
			if i := strings.Index(key, "."); i >= 0 {
				key = key[i+1:]
			}
			fields[key] = fieldErr.Error()
		}
		httpx.ValidationProblem(w, fields)
		return req, false
	}
	return req, true
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	rec, err := h.service.Create(ctx, CreateInput{
		TenantID:       shared.TenantFromContext(ctx),
		ActorID:        shared.ActorFromContext(ctx),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
		Header:         req.header(),
		Lines:          req.lines(),
	})
	if err != nil {
		h.fail(w, "create receipt", err)
		return
	}
	w.Header().Set("Location", "/api/v1/receipts/"+rec.ID.String())
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.IntQuery(r, "page", 1)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perPage, err := httpx.IntQuery(r, "per_page", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := Status(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "", StatusDraft, StatusPosted, StatusCancelled:
	default:
		httpx.ValidationProblem(w, map[string]string{"status": "must be one of DRAFT POSTED CANCELLED"})
		return
	}
	items, pagination, err := h.service.List(r.Context(), ListFilter{
		TenantID: shared.TenantFromContext(r.Context()),
		Status:   status,
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		h.fail(w, "list receipts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Get(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "get receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	rec, err := h.service.Update(ctx, id, UpdateInput{
		TenantID: shared.TenantFromContext(ctx),
		ActorID:  shared.ActorFromContext(ctx),
		Header:   req.header(),
		Lines:    req.lines(),
	})
	if err != nil {
		h.fail(w, "update receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	if err := h.service.Delete(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx)); err != nil {
		h.fail(w, "delete receipt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	rec, err := h.service.Post(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx))
	if err != nil {
		h.fail(w, "post receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	rec, err := h.service.Cancel(ctx, shared.TenantFromContext(ctx), id, shared.ActorFromContext(ctx))
	if err != nil {
		h.fail(w, "cancel receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.service.Movements(r.Context(), shared.TenantFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "receipt movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": movements})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	switch shared.ErrorKind(err) {
	case "error":
		h.logger.Error(msg, slog.Any("error", err))
	default:
		h.logger.Info(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc/internal/credit"
	"github.com/hirebirhan/amtradingplc/internal/inventory"
	"github.com/hirebirhan/amtradingplc/internal/platform/httpx"
	"github.com/hirebirhan/amtradingplc/internal/shared"
)

// IdempotencyStore guards payment endpoints against replays.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes purchase and sale endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency IdempotencyStore
}

// NewHandler constructs a Handler. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchases", func(r chi.Router) {
		r.Post("/", h.handleCreatePurchase)
		r.Get("/{id}", h.handleGetPurchase)
		r.Post("/{id}/receive", h.handleReceive)
		r.Post("/{id}/payments", h.handlePayment(KindPurchase))
		r.Delete("/{id}", h.handleDelete(KindPurchase))
	})
	r.Route("/sales", func(r chi.Router) {
		r.Post("/", h.handleCreateSale)
		r.Get("/{id}", h.handleGetSale)
		r.Post("/{id}/fulfill", h.handleFulfill)
		r.Post("/{id}/payments", h.handlePayment(KindSale))
		r.Delete("/{id}", h.handleDelete(KindSale))
	})
}

type lineRequest struct {
	ItemID    int64           `json:"item_id"`
	Method    SaleMethod      `json:"sale_method"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Discount  decimal.Decimal `json:"discount"`
}

type purchaseRequest struct {
	ReferenceNo     string          `json:"reference_no"`
	SupplierID      int64           `json:"supplier_id"`
	WarehouseID     int64           `json:"warehouse_id"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	PaymentMethod   string          `json:"payment_method"`
	DueDate         string          `json:"due_date"`
	UpdateCostPrice bool            `json:"update_cost_price"`
	Note            string          `json:"note"`
	Items           []lineRequest   `json:"items"`
}

type saleRequest struct {
	ReferenceNo   string          `json:"reference_no"`
	CustomerID    int64           `json:"customer_id"`
	WarehouseID   int64           `json:"warehouse_id"`
	BranchID      int64           `json:"branch_id"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaymentMethod string          `json:"payment_method"`
	DueDate       string          `json:"due_date"`
	Note          string          `json:"note"`
	Items         []lineRequest   `json:"items"`
}

type paymentRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"payment_method"`
	ReferenceNo  string          `json:"reference_no"`
	BankName     string          `json:"bank_name"`
	ReceiverName string          `json:"receiver_name"`
	Note         string          `json:"note"`
	PaidAt       *time.Time      `json:"payment_date"`
}

type settlementResponse struct {
	Total         string `json:"total_amount"`
	PaidAmount    string `json:"paid_amount"`
	DueAmount     string `json:"due_amount"`
	PaymentStatus string `json:"payment_status"`
	CreditID      int64  `json:"credit_id,omitempty"`
}

type lineResponse struct {
	ID        int64  `json:"id"`
	ItemID    int64  `json:"item_id"`
	Method    string `json:"sale_method,omitempty"`
	Quantity  string `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	TaxRate   string `json:"tax_rate"`
	Discount  string `json:"discount"`
	Subtotal  string `json:"subtotal"`
}

type documentResponse struct {
	ID          int64              `json:"id"`
	Kind        string             `json:"kind"`
	ReferenceNo string             `json:"reference_no"`
	PartyID     int64              `json:"party_id,omitempty"`
	WarehouseID int64              `json:"warehouse_id,omitempty"`
	BranchID    int64              `json:"branch_id,omitempty"`
	Status      string             `json:"status"`
	DueDate     string             `json:"due_date,omitempty"`
	Note        string             `json:"note,omitempty"`
	Items       []lineResponse     `json:"items"`
	Settlement  settlementResponse `json:"settlement"`
	CreatedAt   time.Time          `json:"created_at"`
}

func toSettlement(s Settlement) settlementResponse {
	return settlementResponse{
		Total:         s.Total.StringFixed(2),
		PaidAmount:    s.PaidAmount.StringFixed(2),
		DueAmount:     s.DueAmount.StringFixed(2),
		PaymentStatus: string(s.PaymentStatus),
		CreditID:      s.CreditID,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func purchaseResponse(p Purchase) documentResponse {
	out := documentResponse{
		ID:          p.ID,
		Kind:        string(KindPurchase),
		ReferenceNo: p.ReferenceNo,
		PartyID:     p.SupplierID,
		WarehouseID: p.WarehouseID,
		Status:      string(p.Status),
		DueDate:     formatDate(p.DueDate),
		Note:        p.Note,
		Items:       make([]lineResponse, 0, len(p.Items)),
		Settlement:  toSettlement(p.Settlement),
		CreatedAt:   p.CreatedAt,
	}
	for _, line := range p.Items {
		out.Items = append(out.Items, lineResponse{
			ID:        line.ID,
			ItemID:    line.ItemID,
			Quantity:  line.Quantity.StringFixed(2),
			UnitPrice: line.UnitCost.StringFixed(2),
			TaxRate:   line.TaxRate.StringFixed(2),
			Discount:  line.Discount.StringFixed(2),
			Subtotal:  line.Subtotal.StringFixed(2),
		})
	}
	return out
}

func saleResponse(s Sale) documentResponse {
	out := documentResponse{
		ID:          s.ID,
		Kind:        string(KindSale),
		ReferenceNo: s.ReferenceNo,
		PartyID:     s.CustomerID,
		WarehouseID: s.WarehouseID,
		BranchID:    s.BranchID,
		Status:      string(s.Status),
		DueDate:     formatDate(s.DueDate),
		Note:        s.Note,
		Items:       make([]lineResponse, 0, len(s.Items)),
		Settlement:  toSettlement(s.Settlement),
		CreatedAt:   s.CreatedAt,
	}
	for _, line := range s.Items {
		out.Items = append(out.Items, lineResponse{
			ID:        line.ID,
			ItemID:    line.ItemID,
			Method:    string(line.Method),
			Quantity:  line.Quantity.StringFixed(2),
			UnitPrice: line.UnitPrice.StringFixed(2),
			TaxRate:   line.TaxRate.StringFixed(2),
			Discount:  line.Discount.StringFixed(2),
			Subtotal:  line.Subtotal.StringFixed(2),
		})
	}
	return out
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("due_date must be YYYY-MM-DD")
	}
	return t, nil
}

func (h *Handler) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := CreatePurchaseInput{
		ReferenceNo:     req.ReferenceNo,
		SupplierID:      req.SupplierID,
		WarehouseID:     req.WarehouseID,
		PaidAmount:      req.PaidAmount,
		PaymentMethod:   req.PaymentMethod,
		DueDate:         due,
		UpdateCostPrice: req.UpdateCostPrice,
		Note:            req.Note,
		ActorID:         shared.ActorFromContext(r.Context()),
	}
	for _, line := range req.Items {
		in.Lines = append(in.Lines, LineInput{
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
			UnitCost: line.UnitCost,
			TaxRate:  line.TaxRate,
			Discount: line.Discount,
		})
	}
	p, err := h.service.CreatePurchase(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, purchaseResponse(p))
}

func (h *Handler) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := CreateSaleInput{
		ReferenceNo:   req.ReferenceNo,
		CustomerID:    req.CustomerID,
		WarehouseID:   req.WarehouseID,
		BranchID:      req.BranchID,
		PaidAmount:    req.PaidAmount,
		PaymentMethod: req.PaymentMethod,
		DueDate:       due,
		Note:          req.Note,
		ActorID:       shared.ActorFromContext(r.Context()),
	}
	for _, line := range req.Items {
		in.Lines = append(in.Lines, SaleLineInput{
			ItemID:    line.ItemID,
			Method:    line.Method,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			TaxRate:   line.TaxRate,
			Discount:  line.Discount,
		})
	}
	sale, err := h.service.CreateSale(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saleResponse(sale))
}

func (h *Handler) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetPurchase(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchaseResponse(p))
}

func (h *Handler) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saleResponse(sale))
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	applied, err := h.service.ReceivePurchase(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	applied, err := h.service.FulfillSale(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (h *Handler) handleDelete(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		if err := h.service.ReverseDocument(r.Context(), id, kind); err != nil {
			h.respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) handlePayment(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		var req paymentRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
			return
		}
		key := r.Header.Get("Idempotency-Key")
		module := string(kind) + "_payment"
		if key != "" && h.idempotency != nil {
			if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
				h.respondError(w, err)
				return
			}
		}
		in := PaymentInput{
			Amount:       req.Amount,
			Method:       req.Method,
			ReferenceNo:  req.ReferenceNo,
			BankName:     req.BankName,
			ReceiverName: req.ReceiverName,
			Note:         req.Note,
			ActorID:      shared.ActorFromContext(r.Context()),
		}
		if req.PaidAt != nil {
			in.PaidAt = *req.PaidAt
		}
		rec, paid, err := h.service.RecordPayment(r.Context(), id, kind, in)
		if err != nil {
			if key != "" && h.idempotency != nil {
				if derr := h.idempotency.Delete(context.WithoutCancel(r.Context()), key, module); derr != nil {
					h.logger.Warn("idempotency rollback", slog.String("key", key), slog.Any("error", derr))
				}
			}
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]any{
			"credit":  credit.ToResponse(rec),
			"payment": credit.ToPaymentResponse(paid),
		})
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	classified := ClassifyError(err)
	if _, ok := classified.(httpx.Classified); !ok {
		h.logger.Error("trading request", slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

// ClassifyError tags document errors with their HTTP kind, deferring to the
// stock and credit ledgers for theirs.
func ClassifyError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidLocationConfiguration), errors.Is(err, ErrInvalidLine), errors.Is(err, ErrUnknownKind):
		return httpx.Classify(httpx.ErrValidation, err)
	case errors.Is(err, ErrDuplicateReference), errors.Is(err, shared.ErrIdempotencyConflict):
		return httpx.Classify(httpx.ErrDuplicate, err)
	case errors.Is(err, ErrAlreadyProcessed):
		return httpx.Classify(httpx.ErrConflict, err)
	}
	if classified := credit.ClassifyError(err); classified != nil {
		if _, ok := classified.(httpx.Classified); ok {
			return classified
		}
	}
	return inventory.ClassifyError(err)
}

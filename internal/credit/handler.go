package credit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc/internal/payment"
	"github.com/hirebirhan/amtradingplc/internal/platform/httpx"
	"github.com/hirebirhan/amtradingplc/internal/platform/lock"
	"github.com/hirebirhan/amtradingplc/internal/shared"
)

// paymentModule scopes Idempotency-Key values sent to the payment endpoint.
const paymentModule = "credit_payment"

// IdempotencyStore guards the payment endpoint against replays.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes credit endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	validator   *validator.Validate
	idempotency IdempotencyStore
}

// NewHandler constructs a Handler. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), idempotency: idempotency}
}

// MountRoutes registers credit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleOpen)
	r.Get("/aging", h.handleAging)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/payments", h.handlePayments)
	r.Post("/{id}/payments", h.handlePay)
	r.Post("/{id}/cancel", h.handleCancel)
}

type openRequest struct {
	Type          string          `json:"credit_type" validate:"required,oneof=receivable payable"`
	PartyID       int64           `json:"party_id" validate:"gte=0"`
	Amount        decimal.Decimal `json:"amount"`
	Advance       decimal.Decimal `json:"advance"`
	AdvanceMethod string          `json:"advance_method" validate:"max=50"`
	DueDate       string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Description   string          `json:"description" validate:"max=255"`
}

type paymentRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"payment_method" validate:"required,max=50"`
	ReferenceNo  string          `json:"reference_no" validate:"max=100"`
	BankName     string          `json:"bank_name" validate:"max=100"`
	ReceiverName string          `json:"receiver_name" validate:"max=100"`
	Note         string          `json:"note" validate:"max=255"`
	PaidAt       *time.Time      `json:"payment_date"`
}

// RecordResponse is the JSON shape of a credit.
type RecordResponse struct {
	ID            int64      `json:"id"`
	Type          string     `json:"credit_type"`
	ReferenceType string     `json:"reference_type"`
	ReferenceID   int64      `json:"reference_id,omitempty"`
	PartyID       int64      `json:"party_id,omitempty"`
	Amount        string     `json:"amount"`
	PaidAmount    string     `json:"paid_amount"`
	Balance       string     `json:"balance"`
	Status        string     `json:"status"`
	DueDate       string     `json:"due_date,omitempty"`
	Description   string     `json:"description,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// ToResponse renders a credit for JSON.
func ToResponse(rec Record) RecordResponse {
	out := RecordResponse{
		ID:            rec.ID,
		Type:          string(rec.Type),
		ReferenceType: string(rec.ReferenceType),
		ReferenceID:   rec.ReferenceID,
		PartyID:       rec.PartyID,
		Amount:        rec.Amount.StringFixed(2),
		PaidAmount:    rec.PaidAmount.StringFixed(2),
		Balance:       rec.Balance.StringFixed(2),
		Status:        string(rec.Status),
		Description:   rec.Description,
		CreatedAt:     rec.CreatedAt,
		DeletedAt:     rec.DeletedAt,
	}
	if !rec.DueDate.IsZero() {
		out.DueDate = rec.DueDate.Format("2006-01-02")
	}
	return out
}

// PaymentResponse is the JSON shape of a credit payment.
type PaymentResponse struct {
	ID           int64     `json:"id"`
	CreditID     int64     `json:"credit_id"`
	Amount       string    `json:"amount"`
	Method       string    `json:"payment_method"`
	Kind         string    `json:"kind"`
	ReferenceNo  string    `json:"reference_no,omitempty"`
	BankName     string    `json:"bank_name,omitempty"`
	ReceiverName string    `json:"receiver_name,omitempty"`
	Note         string    `json:"note,omitempty"`
	PaidAt       time.Time `json:"payment_date"`
}

// ToPaymentResponse renders a payment for JSON.
func ToPaymentResponse(p Payment) PaymentResponse {
	return PaymentResponse{
		ID:           p.ID,
		CreditID:     p.CreditID,
		Amount:       p.Amount.StringFixed(2),
		Method:       p.Method,
		Kind:         string(p.Kind),
		ReferenceNo:  p.ReferenceNo,
		BankName:     p.BankName,
		ReceiverName: p.ReceiverName,
		Note:         p.Note,
		PaidAt:       p.PaidAt,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Type:   Type(q.Get("type")),
		Status: payment.CreditStatus(q.Get("status")),
	}
	filter.PartyID, _ = strconv.ParseInt(q.Get("party_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, ToResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToResponse(rec))
}

func (h *Handler) handlePayments(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	payments, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, ToPaymentResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleAging(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	creditType := Type(r.URL.Query().Get("type"))
	if creditType == "" {
		creditType = TypeReceivable
	}
	bucket, err := h.service.Aging(r.Context(), asOf, creditType)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{
		"type":      string(creditType),
		"as_of":     asOf.Format("2006-01-02"),
		"current":   bucket.Current.StringFixed(2),
		"1_30":      bucket.Bucket30.StringFixed(2),
		"31_60":     bucket.Bucket60.StringFixed(2),
		"61_90":     bucket.Bucket90.StringFixed(2),
		"over_90":   bucket.Bucket120.StringFixed(2),
		"total_due": bucket.Total().StringFixed(2),
	})
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := OpenInput{
		Type:          Type(req.Type),
		PartyID:       req.PartyID,
		Amount:        req.Amount,
		Advance:       req.Advance,
		AdvanceMethod: req.AdvanceMethod,
		Description:   req.Description,
		ActorID:       shared.ActorFromContext(r.Context()),
	}
	if req.DueDate != "" {
		in.DueDate, _ = time.Parse("2006-01-02", req.DueDate)
	}
	rec, err := h.service.OpenManual(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ToResponse(rec))
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, paymentModule); err != nil {
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
	rec, paid, err := h.service.RecordPayment(r.Context(), id, in)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Delete(context.WithoutCancel(r.Context()), key, paymentModule); derr != nil {
				h.logger.Warn("idempotency rollback", slog.String("key", key), slog.Any("error", derr))
			}
		}
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"credit":  ToResponse(rec),
		"payment": ToPaymentResponse(paid),
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToResponse(rec))
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
		h.logger.Error("credit request", slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

// ClassifyError tags credit errors with their HTTP kind.
func ClassifyError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return httpx.Classify(httpx.ErrNotFound, err)
	case errors.Is(err, ErrOverPayment), errors.Is(err, ErrCreditClosed), errors.Is(err, ErrDocumentCredit),
		errors.Is(err, payment.ErrInvalidTransition), errors.Is(err, shared.ErrIdempotencyConflict):
		return httpx.Classify(httpx.ErrConflict, err)
	case errors.Is(err, lock.ErrBusy):
		return httpx.Classify(httpx.ErrUnavailable, err)
	case errors.Is(err, ErrNegativeAmount), errors.Is(err, ErrInvalidType):
		return httpx.Classify(httpx.ErrValidation, err)
	default:
		return err
	}
}

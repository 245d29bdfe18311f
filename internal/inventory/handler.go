package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hirebirhan/amtradingplc/internal/platform/httpx"
	"github.com/hirebirhan/amtradingplc/internal/platform/lock"
	"github.com/hirebirhan/amtradingplc/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items/{id}/availability", h.handleAvailability)
	r.Get("/items/{id}/history", h.handleHistory)
	r.Post("/adjustments", h.handleAdjustment)
	r.Post("/transfers", h.handleTransfer)
}

type availabilityResponse struct {
	ItemID      int64  `json:"item_id"`
	WarehouseID int64  `json:"warehouse_id,omitempty"`
	BranchID    int64  `json:"branch_id,omitempty"`
	Pieces      int64  `json:"pieces"`
	Units       string `json:"units"`
}

type historyResponse struct {
	ID            int64     `json:"id"`
	ItemID        int64     `json:"item_id"`
	WarehouseID   int64     `json:"warehouse_id"`
	PiecesBefore  int64     `json:"pieces_before"`
	PiecesAfter   int64     `json:"pieces_after"`
	PiecesChange  int64     `json:"pieces_change"`
	UnitsBefore   string    `json:"units_before"`
	UnitsAfter    string    `json:"units_after"`
	UnitsChange   string    `json:"units_change"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   int64     `json:"reference_id,omitempty"`
	Description   string    `json:"description,omitempty"`
	UserID        int64     `json:"user_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toHistoryResponse(e HistoryEntry) historyResponse {
	return historyResponse{
		ID:            e.ID,
		ItemID:        e.ItemID,
		WarehouseID:   e.WarehouseID,
		PiecesBefore:  e.PiecesBefore,
		PiecesAfter:   e.PiecesAfter,
		PiecesChange:  e.PiecesChange,
		UnitsBefore:   e.UnitsBefore.StringFixed(2),
		UnitsAfter:    e.UnitsAfter.StringFixed(2),
		UnitsChange:   e.UnitsChange.StringFixed(2),
		ReferenceType: string(e.ReferenceType),
		ReferenceID:   e.ReferenceID,
		Description:   e.Description,
		UserID:        e.ActorID,
		CreatedAt:     e.CreatedAt,
	}
}

type adjustmentRequest struct {
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	ItemID      int64  `json:"item_id" validate:"required,gt=0"`
	Pieces      int64  `json:"pieces" validate:"required,ne=0"`
	Note        string `json:"note" validate:"max=255"`
}

type transferRequest struct {
	ItemID       int64  `json:"item_id" validate:"required,gt=0"`
	Pieces       int64  `json:"pieces" validate:"required,gt=0"`
	SrcWarehouse int64  `json:"src_warehouse_id" validate:"required,gt=0"`
	DstWarehouse int64  `json:"dst_warehouse_id" validate:"required,gt=0,nefield=SrcWarehouse"`
	Note         string `json:"note" validate:"max=255"`
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || itemID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	scope := Scope{
		WarehouseID: queryInt(r, "warehouse_id"),
		BranchID:    queryInt(r, "branch_id"),
	}
	av, err := h.service.Availability(r.Context(), itemID, scope)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, availabilityResponse{
		ItemID:      itemID,
		WarehouseID: scope.WarehouseID,
		BranchID:    scope.BranchID,
		Pieces:      av.Pieces,
		Units:       av.Units.StringFixed(2),
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || itemID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	filter := HistoryFilter{
		ItemID:      itemID,
		WarehouseID: queryInt(r, "warehouse_id"),
		Limit:       int(queryInt(r, "limit")),
	}
	if filter.WarehouseID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id is required")
		return
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if filter.To, err = time.Parse("2006-01-02", to); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = filter.To.AddDate(0, 0, 1)
	}
	entries, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toHistoryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	entry, err := h.service.Adjust(r.Context(), AdjustmentInput{
		WarehouseID: req.WarehouseID,
		ItemID:      req.ItemID,
		Pieces:      req.Pieces,
		Note:        req.Note,
		ActorID:     actor,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toHistoryResponse(entry))
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	out, in, err := h.service.Transfer(r.Context(), TransferInput{
		ItemID:       req.ItemID,
		Pieces:       req.Pieces,
		SrcWarehouse: req.SrcWarehouse,
		DstWarehouse: req.DstWarehouse,
		Note:         req.Note,
		ActorID:      actor,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]historyResponse{
		"out": toHistoryResponse(out),
		"in":  toHistoryResponse(in),
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	classified := ClassifyError(err)
	if _, ok := classified.(httpx.Classified); !ok {
		h.logger.Error("inventory request", slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

// ClassifyError tags inventory errors with their HTTP kind.
func ClassifyError(err error) error {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return httpx.Classify(httpx.ErrUnprocessable, err)
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidCapacity), errors.Is(err, ErrInvalidScope):
		return httpx.Classify(httpx.ErrValidation, err)
	case errors.Is(err, shared.ErrNotFound):
		return httpx.Classify(httpx.ErrNotFound, err)
	case errors.Is(err, lock.ErrBusy):
		return httpx.Classify(httpx.ErrUnavailable, err)
	default:
		return err
	}
}

func queryInt(r *http.Request, name string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

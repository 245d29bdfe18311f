package inventory

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestHandler(repo *memoryRepo) http.Handler {
	svc, _, _ := newTestService(repo)
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func TestHandlerAdjustThenAvailability(t *testing.T) {
	repo := newMemoryRepo()
	repo.branches[4] = []int64{1, 2}
	h := newTestHandler(repo)

	rr := serve(h, http.MethodPost, "/adjustments", `{"warehouse_id":1,"item_id":7,"pieces":3,"note":"opening count"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var entry historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entry))
	require.Equal(t, "adjustment", entry.ReferenceType)
	require.EqualValues(t, 3, entry.PiecesChange)
	require.Equal(t, "30.00", entry.UnitsAfter)

	rr = serve(h, http.MethodGet, "/items/7/availability?branch_id=4", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"item_id":7,"branch_id":4,"pieces":3,"units":"30.00"}`, rr.Body.String())

	rr = serve(h, http.MethodGet, "/items/7/availability?branch_id=4&warehouse_id=1", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerAdjustmentValidation(t *testing.T) {
	h := newTestHandler(newMemoryRepo())

	rr := serve(h, http.MethodPost, "/adjustments", `{"warehouse_id":1,"item_id":7,"pieces":0}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(h, http.MethodPost, "/adjustments", `{"warehouse_id":1,"item_id":7,"pieces":-2}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = serve(h, http.MethodPost, "/adjustments", `{"warehouse_id":1,"item_id":99,"pieces":1}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(h, http.MethodPost, "/transfers", `{"item_id":7,"pieces":1,"src_warehouse_id":2,"dst_warehouse_id":2}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerTransferAndHistory(t *testing.T) {
	repo := newMemoryRepo()
	h := newTestHandler(repo)

	require.Equal(t, http.StatusCreated, serve(h, http.MethodPost, "/adjustments", `{"warehouse_id":2,"item_id":7,"pieces":2}`).Code)
	rr := serve(h, http.MethodPost, "/transfers", `{"item_id":7,"pieces":1,"src_warehouse_id":2,"dst_warehouse_id":1}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var moved map[string]historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &moved))
	require.Equal(t, "transfer_out", moved["out"].ReferenceType)
	require.Equal(t, "transfer_in", moved["in"].ReferenceType)

	rr = serve(h, http.MethodGet, "/items/7/history?warehouse_id=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	require.Equal(t, "adjustment", entries[0].ReferenceType)
	require.Equal(t, "transfer_out", entries[1].ReferenceType)

	require.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/items/7/history", "").Code)
	require.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/items/7/history?warehouse_id=2&from=yesterday", "").Code)
}

func TestHandlerRejectsCallerSuppliedCapacity(t *testing.T) {
	repo := newMemoryRepo()
	h := newTestHandler(repo)

	rr := serve(h, http.MethodPost, "/adjustments", `{"warehouse_id":1,"item_id":7,"pieces":2,"unit_capacity":"1"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = serve(h, http.MethodPost, "/transfers", `{"item_id":7,"pieces":1,"unit_capacity":"1","src_warehouse_id":2,"dst_warehouse_id":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, repo.balances)

	// the item's own capacity always applies, so added pieces stay sellable
	require.Equal(t, http.StatusCreated, serve(h, http.MethodPost, "/adjustments", `{"warehouse_id":1,"item_id":7,"pieces":2}`).Code)
	rr = serve(h, http.MethodPost, "/adjustments", `{"warehouse_id":1,"item_id":7,"pieces":-1}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var entry historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entry))
	require.Equal(t, "10.00", entry.UnitsAfter)
}

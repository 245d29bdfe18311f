package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorUsesClassification(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{Classify(ErrNotFound, errors.New("sale 9")), http.StatusNotFound},
		{Classify(ErrValidation, errors.New("bad line")), http.StatusBadRequest},
		{Classify(ErrConflict, errors.New("over payment")), http.StatusConflict},
		{Classify(ErrUnprocessable, errors.New("insufficient stock")), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", Classify(ErrUnavailable, errors.New("busy"))), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}

	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("password=secret"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Empty(t, body.Detail, "unclassified errors must not leak")
}

func TestClassifyKeepsMessageAndNil(t *testing.T) {
	require.NoError(t, Classify(ErrConflict, nil))
	err := Classify(ErrConflict, errors.New("already fulfilled"))
	require.EqualError(t, err, "already fulfilled")
	require.ErrorIs(t, err, ErrConflict)
}

func TestDecodeJSON(t *testing.T) {
	var target struct {
		Amount string `json:"amount"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10"}`))
	require.NoError(t, DecodeJSON(req, &target))
	require.Equal(t, "10", target.Amount)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10","extra":1}`))
	require.Error(t, DecodeJSON(req, &target))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1"}{"amount":"2"}`))
	require.Error(t, DecodeJSON(req, &target))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"`+strings.Repeat("9", MaxBodyBytes)+`"}`))
	require.Error(t, DecodeJSON(req, &target))
}

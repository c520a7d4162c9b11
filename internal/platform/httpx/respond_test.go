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

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{fmt.Errorf("%w: product 9", ErrNotFound), http.StatusNotFound, "urn:stockledger:problem:not-found"},
		{fmt.Errorf("%w: insufficient stock", ErrConflict), http.StatusConflict, "urn:stockledger:problem:conflict"},
		{fmt.Errorf("%w: missing wholesale price", ErrUnprocessable), http.StatusUnprocessableEntity, "urn:stockledger:problem:unprocessable-entity"},
		{ErrValidation, http.StatusBadRequest, "urn:stockledger:problem:validation-failed"},
		{errors.New("boom"), http.StatusInternalServerError, "urn:stockledger:problem:internal-error"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code)
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
		require.Equal(t, tc.status, problem.Status)
		require.Equal(t, tc.typ, problem.Type)
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("pg: connection refused"))
	require.NotContains(t, rr.Body.String(), "connection refused")
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	body := `{"description":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var target struct {
		Description string `json:"description"`
	}
	require.Error(t, DecodeJSON(req, &target))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"description":"ok"}`))
	require.NoError(t, DecodeJSON(req, &target))
	require.Equal(t, "ok", target.Description)
}

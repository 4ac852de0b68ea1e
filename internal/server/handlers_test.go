package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = zerolog.New(nil).Level(zerolog.Disabled)

func TestHandleHealth(t *testing.T) {
	s := &Server{log: testLog}

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "traderjoe", body["service"])
}

func TestTraderMiddleware(t *testing.T) {
	s := &Server{log: testLog}

	var seen int64
	handler := s.traderMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = traderID(r)
		w.WriteHeader(http.StatusOK)
	}))

	testCases := []struct {
		name           string
		header         string
		expectedStatus int
		expectedID     int64
	}{
		{name: "valid header", header: "7", expectedStatus: http.StatusOK, expectedID: 7},
		{name: "missing header", header: "", expectedStatus: http.StatusUnauthorized},
		{name: "non-numeric header", header: "seven", expectedStatus: http.StatusUnauthorized},
		{name: "zero id", header: "0", expectedStatus: http.StatusUnauthorized},
		{name: "negative id", header: "-3", expectedStatus: http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(http.MethodGet, "/api/account/summary", nil)
			if tc.header != "" {
				req.Header.Set("X-Trader-ID", tc.header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.expectedStatus, rec.Code)
			assert.Equal(t, tc.expectedID, seen)
		})
	}
}

func TestWriteError(t *testing.T) {
	s := &Server{log: testLog}

	rec := httptest.NewRecorder()
	s.writeError(rec, http.StatusUnprocessableEntity, "units must be non-zero")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "units must be non-zero", body["error"])
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusAccepted, map[string]string{"operation_id": "op-1"}))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"operation_id":"op-1"}`, rec.Body.String())
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid input", apperrors.New(apperrors.CodeInvalidInput, "threshold must be in [0, 1]"), http.StatusBadRequest, "INVALID_INPUT"},
		{"unsupported format", apperrors.New(apperrors.CodeUnsupportedFormat, "no adapter"), http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT"},
		{"db connection", apperrors.New(apperrors.CodeDBConnectionFailed, "refused"), http.StatusBadGateway, "DB_CONNECTION_FAILED"},
		{"cancelled", apperrors.New(apperrors.CodeCancelled, "cancelled"), StatusClientClosedRequest, "CANCELLED"},
		{"uncoded", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NoError(t, ErrorResponse(rec, tt.err))

			assert.Equal(t, tt.status, rec.Code)
			var doc documents.ErrorDocument
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
			assert.Equal(t, tt.code, doc.Code)
			assert.NotEmpty(t, doc.Message)
		})
	}
}

func TestWriteDocument(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteDocument(rec, []byte(`{"ok":true,"errors":[]}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"ok":true,"errors":[]}`, rec.Body.String())
}

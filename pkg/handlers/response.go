package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
)

// StatusClientClosedRequest is reported when the caller went away before the
// operation finished.
const StatusClientClosedRequest = 499

// StatusForCode maps an error code to the HTTP status it is served with.
func StatusForCode(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidInput, apperrors.CodeJSON:
		return http.StatusBadRequest
	case apperrors.CodeUnsupportedSource, apperrors.CodeUnsupportedFormat:
		return http.StatusUnprocessableEntity
	case apperrors.CodeDBConnectionFailed, apperrors.CodeIOError:
		return http.StatusBadGateway
	case apperrors.CodeCancelled:
		return StatusClientClosedRequest
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse writes err as an error document with the status its code
// maps to, and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, err error) error {
	doc := documents.NewErrorDocument(err)
	return WriteJSON(w, StatusForCode(apperrors.Code(doc.Code)), doc)
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteDocument writes an already-encoded document with status 200.
func WriteDocument(w http.ResponseWriter, doc []byte) error {
	w.Header().Set("Content-Type", "application/json")
	_, err := w.Write(doc)
	return err
}

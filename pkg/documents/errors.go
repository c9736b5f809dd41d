package documents

import (
	"encoding/json"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

// ErrorDocument is the structured failure returned by every operation.
type ErrorDocument struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorDocument classifies err into an error document.
func NewErrorDocument(err error) ErrorDocument {
	return ErrorDocument{
		Code:    string(apperrors.CodeOf(err)),
		Message: apperrors.MessageOf(err),
	}
}

// MarshalError renders err as an error document. It never fails.
func MarshalError(err error) []byte {
	out, mErr := json.Marshal(NewErrorDocument(err))
	if mErr != nil {
		return []byte(`{"code":"INTERNAL_ERROR","message":"encode error document"}`)
	}
	return out
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services/workqueue"
)

// MaxRequestBytes bounds request bodies. Schema documents for large
// databases stay well under this.
const MaxRequestBytes = 32 << 20

// CompareRequest is the body of POST /api/compare.
type CompareRequest struct {
	IRA     json.RawMessage          `json:"ir_a"`
	IRB     json.RawMessage          `json:"ir_b"`
	Options documents.CompareOptions `json:"options"`
}

// ProposeRequest is the body of POST /api/propose.
type ProposeRequest struct {
	Comparison json.RawMessage          `json:"comparison"`
	Options    documents.ResolveOptions `json:"options"`
}

// ApplyRequest is the body of POST /api/apply.
type ApplyRequest struct {
	Plan    json.RawMessage        `json:"plan"`
	Options documents.ApplyOptions `json:"options"`
}

// ValidateRequest is the body of POST /api/validate.
type ValidateRequest struct {
	IR json.RawMessage `json:"ir"`
}

// RollbackRequest is the body of POST /api/rollback.
type RollbackRequest struct {
	Store     string `json:"store"`
	BackupRef string `json:"backup_ref"`
}

// ReconcileHandler serves the pipeline operations over HTTP. Each request
// runs through the service's operation queue so applies against one store
// stay serialized across callers.
type ReconcileHandler struct {
	service services.ReconcileService
	logger  *zap.Logger
}

// NewReconcileHandler creates a handler backed by service.
func NewReconcileHandler(service services.ReconcileService, logger *zap.Logger) *ReconcileHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileHandler{service: service, logger: logger.Named("http")}
}

// RegisterRoutes registers the pipeline routes on mux. Wrap is applied to
// every route (authentication); pass nil for none.
func (h *ReconcileHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	routes := map[string]http.HandlerFunc{
		"POST /api/build-ir":      h.BuildIR,
		"POST /api/compare":       h.Compare,
		"POST /api/propose":       h.Propose,
		"POST /api/apply":         h.Apply,
		"POST /api/validate":      h.Validate,
		"POST /api/rollback":      h.Rollback,
		"GET /api/stores/{store}": h.GetStore,
		"PUT /api/stores/{store}": h.PutStore,
		"GET /api/sources":        h.Sources,
		"GET /api/operations":     h.Operations,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, wrap(fn))
	}
}

// BuildIR handles POST /api/build-ir. The body is the build options.
func (h *ReconcileHandler) BuildIR(w http.ResponseWriter, r *http.Request) {
	var opts documents.BuildIROptions
	if !h.decode(w, r, &opts) {
		return
	}
	h.await(w, r, h.service.BuildIRAsync(opts))
}

// Compare handles POST /api/compare.
func (h *ReconcileHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.await(w, r, h.service.CompareAsync(documentBytes(req.IRA), documentBytes(req.IRB), req.Options))
}

// Propose handles POST /api/propose.
func (h *ReconcileHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.await(w, r, h.service.ProposeResolutionAsync(documentBytes(req.Comparison), req.Options))
}

// Apply handles POST /api/apply.
func (h *ReconcileHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Options.BaseIR = documentBytes(req.Options.BaseIR)
	h.await(w, r, h.service.ApplyResolutionAsync(documentBytes(req.Plan), req.Options))
}

// Validate handles POST /api/validate. Validation findings are a 200
// response with ok=false; only malformed envelopes fail the request.
func (h *ReconcileHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.await(w, r, h.service.ValidateIRAsync(documentBytes(req.IR)))
}

// Rollback handles POST /api/rollback.
func (h *ReconcileHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.Rollback(r.Context(), req.Store, req.BackupRef)
	h.respond(w, r, out, err)
}

// GetStore handles GET /api/stores/{store} with the store's current schema.
func (h *ReconcileHandler) GetStore(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.StoreSnapshot(r.Context(), r.PathValue("store"))
	h.respond(w, r, out, err)
}

// PutStore handles PUT /api/stores/{store}; the body is a SchemaIR document
// that replaces the store's schema.
func (h *ReconcileHandler) PutStore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		h.writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to read request body", err))
		return
	}
	store := r.PathValue("store")
	if err := h.service.SeedStore(r.Context(), store, body); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.service.StoreSnapshot(r.Context(), store)
	h.respond(w, r, out, err)
}

// Sources handles GET /api/sources.
func (h *ReconcileHandler) Sources(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, map[string]any{"sources": h.service.Sources()}); err != nil {
		h.logger.Error("Failed to encode sources response", zap.Error(err))
	}
}

// Operations handles GET /api/operations.
func (h *ReconcileHandler) Operations(w http.ResponseWriter, r *http.Request) {
	ops := h.service.Operations()
	if ops == nil {
		ops = []workqueue.TaskSnapshot{}
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"operations": ops}); err != nil {
		h.logger.Error("Failed to encode operations response", zap.Error(err))
	}
}

// await waits for op on behalf of the request. A caller that goes away
// cancels the operation.
func (h *ReconcileHandler) await(w http.ResponseWriter, r *http.Request, op *workqueue.Operation[[]byte]) {
	out, err := op.Await(r.Context())
	if err != nil && r.Context().Err() != nil {
		op.Cancel()
	}
	h.respond(w, r, out, err)
}

func (h *ReconcileHandler) respond(w http.ResponseWriter, r *http.Request, out []byte, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := WriteDocument(w, out); err != nil {
		h.logger.Debug("Failed to write response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func (h *ReconcileHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		h.logger.Debug("Client went away", zap.String("path", r.URL.Path))
	}
	if wErr := ErrorResponse(w, err); wErr != nil {
		h.logger.Debug("Failed to write error response", zap.String("path", r.URL.Path), zap.Error(wErr))
	}
}

// decode reads a JSON request envelope, writing the error response itself
// when the body is unusable.
func (h *ReconcileHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			err = apperrors.Newf(apperrors.CodeInvalidInput, "request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			err = apperrors.New(apperrors.CodeInvalidInput, "request body is required")
		default:
			err = apperrors.Wrap(apperrors.CodeJSON, "invalid request body", err)
		}
		h.writeError(w, r, err)
		return false
	}
	return true
}

// documentBytes accepts an embedded document either as a JSON value or as a
// JSON string holding the document text.
func documentBytes(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err == nil {
			return []byte(text)
		}
	}
	return trimmed
}

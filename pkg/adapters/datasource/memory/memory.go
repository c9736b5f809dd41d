// Package memory builds a SchemaIR from a document passed inline in the
// build_ir config under "ir".
package memory

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// Source holds the raw inline document.
type Source struct {
	raw    []byte
	req    datasource.Request
	logger *zap.Logger
}

// NewSource accepts config.ir as a JSON string, raw JSON or an already
// decoded object.
func NewSource(req datasource.Request, logger *zap.Logger) (*Source, error) {
	v, ok := req.Config["ir"]
	if !ok || v == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "config.ir is required for memory sources")
	}
	var raw []byte
	switch x := v.(type) {
	case string:
		raw = []byte(x)
	case []byte:
		raw = x
	case json.RawMessage:
		raw = x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "config.ir is not a JSON document", err)
		}
		raw = b
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{raw: raw, req: req, logger: logger}, nil
}

// BuildIR parses the inline document. source_name and source_type default
// to the request's name and "memory"; ir_version must be present.
func (s *Source) BuildIR(ctx context.Context) (*models.SchemaIR, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := documents.DecodeSchemaIRDocument(s.raw)
	if err != nil {
		return nil, err
	}
	if doc.SourceName == "" {
		doc.SourceName = s.req.SourceName()
	}
	if doc.SourceType == "" {
		doc.SourceType = string(models.SourceTypeMemory)
	}
	return doc.ToModel()
}

func (s *Source) Close() error { return nil }

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			SourceType:  models.SourceTypeMemory,
			Format:      "ir",
			Aliases:     []string{"json", "inline"},
			DisplayName: "Inline IR",
			Description: "SchemaIR document passed in config.ir",
		},
		Factory: func(ctx context.Context, req datasource.Request, logger *zap.Logger) (datasource.Source, error) {
			return NewSource(req, logger)
		},
	})
}

var _ datasource.Source = (*Source)(nil)

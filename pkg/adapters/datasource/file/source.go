// Package file builds SchemaIR snapshots from files on disk: JSON documents or
// records, CSV exports, and YAML/TOML schema declarations.
package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// Formats handled by this package.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// parseFunc turns file contents into a SchemaIR.
type parseFunc func(data []byte, req datasource.Request) (*models.SchemaIR, error)

// Source reads one file and parses it with the format's parser.
type Source struct {
	req    datasource.Request
	parse  parseFunc
	logger *zap.Logger
}

// NewSource returns a Source for req. The path is required.
func NewSource(req datasource.Request, parse parseFunc, logger *zap.Logger) (*Source, error) {
	if strings.TrimSpace(req.Path) == "" {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "path is required for file/%s", req.Format)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{req: req, parse: parse, logger: logger}, nil
}

// BuildIR reads the file and parses it.
func (s *Source) BuildIR(ctx context.Context) (*models.SchemaIR, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.req.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.CodeIOError, "file not found: "+s.req.Path, err)
		}
		return nil, apperrors.Wrap(apperrors.CodeIOError, "failed to read "+s.req.Path, err)
	}

	ir, err := s.parse(data, s.req)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Built IR from file",
		zap.String("path", s.req.Path),
		zap.Int("entities", len(ir.Entities)))
	return ir, nil
}

func (s *Source) Close() error { return nil }

// entityName names the single entity of a record file: config.entity, else
// the file's base name.
func entityName(req datasource.Request) (string, error) {
	if e := req.String("entity"); e != "" {
		return e, nil
	}
	base := filepath.Base(req.Path)
	return singularize(req, strings.TrimSuffix(base, filepath.Ext(base)))
}

// singularize applies config.singularize, which turns "users" into "user".
func singularize(req datasource.Request, name string) (string, error) {
	on, err := req.Bool("singularize", false)
	if err != nil {
		return "", err
	}
	if on {
		return inflection.Singular(name), nil
	}
	return name, nil
}

func register(format string, aliases []string, displayName, description string, parse parseFunc) {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			SourceType:  models.SourceTypeFile,
			Format:      format,
			Aliases:     aliases,
			DisplayName: displayName,
			Description: description,
		},
		Factory: func(ctx context.Context, req datasource.Request, logger *zap.Logger) (datasource.Source, error) {
			return NewSource(req, parse, logger)
		},
	})
}

func init() {
	register(FormatJSON, nil, "JSON file", "SchemaIR documents, record arrays or {entity: [records]} objects", parseJSON)
	register(FormatCSV, []string{"tsv"}, "CSV file", "Delimited export with optional header row; types inferred per column", parseCSV)
	register(FormatYAML, []string{"yml"}, "YAML schema declaration", "Schema declaration in SchemaIR layout", parseYAML)
	register(FormatTOML, nil, "TOML schema declaration", "Schema declaration in SchemaIR layout", parseTOML)
}

var _ datasource.Source = (*Source)(nil)

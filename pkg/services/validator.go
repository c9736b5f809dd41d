package services

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// ValidatorService checks SchemaIR values for structural problems. Reports
// never halt at the first error and never gate the pipeline on their own.
type ValidatorService interface {
	Validate(ir *models.SchemaIR) *models.ValidationReport

	// ValidateDocument decodes a SchemaIR JSON document leniently and
	// validates it. Undecodable input yields ok=false rather than an error.
	ValidateDocument(data []byte) *models.ValidationReport
}

type validatorService struct {
	logger *zap.Logger
}

// NewValidatorService creates a new ValidatorService.
func NewValidatorService(logger *zap.Logger) ValidatorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &validatorService{logger: logger.Named("validator")}
}

var _ ValidatorService = (*validatorService)(nil)

func (s *validatorService) Validate(ir *models.SchemaIR) *models.ValidationReport {
	report := ValidateSchema(ir)
	if !report.OK {
		s.logger.Debug("Schema failed validation",
			zap.Int("errors", len(report.Errors)),
			zap.Strings("messages", report.Errors),
		)
	}
	return report
}

func (s *validatorService) ValidateDocument(data []byte) *models.ValidationReport {
	ir, err := documents.DecodeSchemaIR(data)
	if err != nil {
		return &models.ValidationReport{
			OK:     false,
			Errors: []string{fmt.Sprintf("Invalid SchemaIR JSON: %s", apperrors.MessageOf(err))},
		}
	}
	return s.Validate(ir)
}

// ValidateSchema is the pure validation routine behind ValidatorService.
func ValidateSchema(ir *models.SchemaIR) *models.ValidationReport {
	if ir == nil {
		return &models.ValidationReport{Errors: []string{"Schema is required"}}
	}

	var errs []string
	if len(ir.Entities) == 0 {
		errs = append(errs, "Schema has no entities")
	}

	if strings.TrimSpace(ir.IRVersion) == "" {
		errs = append(errs, "Missing ir_version")
	} else if _, err := semver.NewVersion(ir.IRVersion); err != nil {
		errs = append(errs, fmt.Sprintf("Invalid ir_version '%s'", ir.IRVersion))
	}

	if ir.SourceType != "" && !ir.SourceType.Known() {
		errs = append(errs, fmt.Sprintf("Unknown source_type '%s'", ir.SourceType))
	}

	seenEntities := make(map[string]struct{}, len(ir.Entities))
	for i, e := range ir.Entities {
		if strings.TrimSpace(e.Name) == "" {
			errs = append(errs, fmt.Sprintf("Entity at index %d has no name", i))
		} else if _, dup := seenEntities[e.Name]; dup {
			errs = append(errs, fmt.Sprintf("Duplicate entity '%s'", e.Name))
		}
		seenEntities[e.Name] = struct{}{}

		if len(e.Fields) == 0 {
			errs = append(errs, fmt.Sprintf("Entity '%s' has no fields", e.Name))
			continue
		}
		seenFields := make(map[string]struct{}, len(e.Fields))
		for j, f := range e.Fields {
			if strings.TrimSpace(f.Name) == "" {
				errs = append(errs, fmt.Sprintf("Field at index %d of entity '%s' has no name", j, e.Name))
				continue
			}
			if _, dup := seenFields[f.Name]; dup {
				errs = append(errs, fmt.Sprintf("Duplicate field '%s' in entity '%s'", f.Name, e.Name))
			}
			seenFields[f.Name] = struct{}{}
		}
	}

	return &models.ValidationReport{
		OK:     len(errs) == 0,
		Errors: errs,
		Summary: &models.SchemaSummary{
			SourceName:    ir.SourceName,
			SourceType:    ir.SourceType,
			EntitiesCount: len(ir.Entities),
			IRVersion:     ir.IRVersion,
		},
	}
}

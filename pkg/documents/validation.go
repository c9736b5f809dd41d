package documents

import "github.com/ekaya-inc/ekaya-reconcile/pkg/models"

type ValidationDocument struct {
	OK     bool                   `json:"ok"`
	Errors []string               `json:"errors"`
	Schema *SchemaSummaryDocument `json:"schema,omitempty"`
}

type SchemaSummaryDocument struct {
	SourceName    string `json:"source_name"`
	SourceType    string `json:"source_type"`
	EntitiesCount int    `json:"entities_count"`
	IRVersion     string `json:"ir_version"`
}

// FromValidationReport converts a report to its document.
func FromValidationReport(r *models.ValidationReport) *ValidationDocument {
	doc := &ValidationDocument{OK: r.OK, Errors: r.Errors}
	if doc.Errors == nil {
		doc.Errors = []string{}
	}
	if r.Summary != nil {
		doc.Schema = &SchemaSummaryDocument{
			SourceName:    r.Summary.SourceName,
			SourceType:    string(r.Summary.SourceType),
			EntitiesCount: r.Summary.EntitiesCount,
			IRVersion:     r.Summary.IRVersion,
		}
	}
	return doc
}

// MarshalValidationReport renders a validation document.
func MarshalValidationReport(r *models.ValidationReport) ([]byte, error) {
	return marshal(FromValidationReport(r))
}

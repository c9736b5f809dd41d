package models

// SchemaSummary identifies the schema a validation report describes.
type SchemaSummary struct {
	SourceName    string
	SourceType    SourceType
	EntitiesCount int
	IRVersion     string
}

// ValidationReport lists every problem found; OK iff Errors is empty.
type ValidationReport struct {
	OK      bool
	Errors  []string
	Summary *SchemaSummary
}

package file

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// parseJSON accepts three layouts:
//
//	{"entities": [...]}          a SchemaIR document, loaded as-is
//	[{...}, {...}]               records of one entity named after the file
//	{"users": [{...}], ...}      records keyed by entity name
func parseJSON(data []byte, req datasource.Request) (*models.SchemaIR, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "file is not valid JSON", err)
	}

	switch v := root.(type) {
	case map[string]any:
		if _, ok := v["entities"]; ok {
			return declaredSchema(data, req)
		}
		return entitiesFromObject(v, req)
	case []any:
		name, err := entityName(req)
		if err != nil {
			return nil, err
		}
		entity, err := entityFromRecords(name, v)
		if err != nil {
			return nil, err
		}
		return models.NewSchemaIR(req.SourceName(), models.SourceTypeFile, models.CurrentIRVersion, []models.Entity{entity})
	default:
		return nil, apperrors.New(apperrors.CodeInvalidInput,
			"JSON file must hold a schema document, an array of records or an object of record arrays")
	}
}

// declaredSchema parses a SchemaIR document, filling source_name, source_type
// and ir_version when the file leaves them out.
func declaredSchema(data []byte, req datasource.Request) (*models.SchemaIR, error) {
	doc, err := documents.DecodeSchemaIRDocument(data)
	if err != nil {
		return nil, err
	}
	if doc.SourceName == "" {
		doc.SourceName = req.SourceName()
	}
	if doc.SourceType == "" {
		doc.SourceType = string(models.SourceTypeFile)
	}
	if doc.IRVersion == "" {
		doc.IRVersion = models.CurrentIRVersion
	}
	return doc.ToModel()
}

func entitiesFromObject(obj map[string]any, req datasource.Request) (*models.SchemaIR, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entities := make([]models.Entity, 0, len(keys))
	for _, k := range keys {
		records, ok := obj[k].([]any)
		if !ok {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "entity %q must be an array of records", k)
		}
		name, err := singularize(req, k)
		if err != nil {
			return nil, err
		}
		entity, err := entityFromRecords(name, records)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return models.NewSchemaIR(req.SourceName(), models.SourceTypeFile, models.CurrentIRVersion, entities)
}

// entityFromRecords types each key from its sample values. A key that is null
// or absent in any record is nullable. Fields are ordered by name.
func entityFromRecords(name string, records []any) (models.Entity, error) {
	profiles := make(map[string]*columnProfile)
	for i, r := range records {
		rec, ok := r.(map[string]any)
		if !ok {
			return models.Entity{}, apperrors.Newf(apperrors.CodeInvalidInput,
				"%s: record %d is %s, expected an object", name, i, jsonKind(r))
		}
		for k, v := range rec {
			p, ok := profiles[k]
			if !ok {
				p = &columnProfile{name: k}
				if i > 0 {
					p.observeNull()
				}
				profiles[k] = p
			}
			if t, ok := inferJSON(v); ok {
				p.observe(t)
			} else {
				p.observeNull()
			}
		}
		for k, p := range profiles {
			if _, ok := rec[k]; !ok {
				p.observeNull()
			}
		}
	}

	names := make([]string, 0, len(profiles))
	for k := range profiles {
		names = append(names, k)
	}
	sort.Strings(names)

	entity := models.Entity{Name: name, Fields: make([]models.Field, 0, len(names))}
	for _, k := range names {
		entity.Fields = append(entity.Fields, profiles[k].field())
	}
	return entity, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	default:
		return fmt.Sprintf("%T", v)
	}
}

package file

import (
	"encoding/json"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// YAML and TOML declarations use the SchemaIR document layout. They are
// decoded generically and re-encoded as JSON so the document aliases
// ("name", "type") and scalar defaults behave the same in every format.

func parseYAML(data []byte, req datasource.Request) (*models.SchemaIR, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "file is not valid YAML", err)
	}
	return declarationFromMap(raw, "YAML", req)
}

func parseTOML(data []byte, req datasource.Request) (*models.SchemaIR, error) {
	var raw map[string]any
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "file is not valid TOML", err)
	}
	return declarationFromMap(raw, "TOML", req)
}

func declarationFromMap(raw map[string]any, kind string, req datasource.Request) (*models.SchemaIR, error) {
	if _, ok := raw["entities"]; !ok {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "%s schema declaration has no entities list", kind)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, kind+" schema declaration is not representable as JSON", err)
	}
	return declaredSchema(data, req)
}

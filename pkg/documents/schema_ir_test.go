package documents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

func TestParseSchemaIR_AcceptsAliases(t *testing.T) {
	doc := []byte(`{
		"source_name": "export.json",
		"source_type": "file",
		"ir_version": "1.0.0",
		"entities": [
			{"name": "users", "fields": [
				{"name": "id", "type": "INT", "is_primary_key": true},
				{"name": "active", "declared_type": "boolean", "default": true},
				{"name": "score", "declared_type": "float", "default": 1.5, "nullable": true},
				{"name": "note", "declared_type": "string", "default": null}
			]}
		]
	}`)

	ir, err := ParseSchemaIR(doc)
	require.NoError(t, err)
	require.Len(t, ir.Entities, 1)

	users := ir.Entities[0]
	assert.Equal(t, "users", users.Name)

	id, _ := users.Field("id")
	assert.Equal(t, models.TypeInteger, id.DeclaredType)
	assert.True(t, id.IsPrimaryKey)

	active, _ := users.Field("active")
	require.NotNil(t, active.Default)
	assert.Equal(t, "true", *active.Default)

	score, _ := users.Field("score")
	assert.Equal(t, "1.5", *score.Default)
	assert.True(t, score.Nullable)

	note, _ := users.Field("note")
	assert.Nil(t, note.Default)
}

func TestParseSchemaIR_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code apperrors.Code
	}{
		{"empty", "", apperrors.CodeInvalidInput},
		{"malformed json", `{"entities": [`, apperrors.CodeJSON},
		{"wrong type", `{"entities": "users"}`, apperrors.CodeJSON},
		{"missing version", `{"source_name":"a","entities":[]}`, apperrors.CodeInvalidInput},
		{"duplicate entity", `{"ir_version":"1.0.0","entities":[{"entity_name":"a"},{"entity_name":"a"}]}`, apperrors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchemaIR([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestDecodeSchemaIR_LeavesInvariantsToValidator(t *testing.T) {
	ir, err := DecodeSchemaIR([]byte(`{"source_name":"a","entities":[{"entity_name":"x"},{"entity_name":"x"}]}`))
	require.NoError(t, err)
	assert.Len(t, ir.Entities, 2)
	assert.Empty(t, ir.IRVersion)
}

func TestMarshalSchemaIR_UsesCanonicalKeys(t *testing.T) {
	def := "now()"
	ir, err := models.NewSchemaIR("db", models.SourceTypeDB, "1.0.0", []models.Entity{
		{Name: "events", Fields: []models.Field{{Name: "at", DeclaredType: models.TypeTimestamp, Default: &def}}},
	})
	require.NoError(t, err)

	out, err := MarshalSchemaIR(ir)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"entity_name": "events"`)
	assert.Contains(t, string(out), `"declared_type": "timestamp"`)
	assert.Contains(t, string(out), `"default": "now()"`)

	back, err := ParseSchemaIR(out)
	require.NoError(t, err)
	assert.True(t, ir.Equal(back))
}

package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

func newSchema(t *testing.T, name string, entities ...models.Entity) *models.SchemaIR {
	t.Helper()
	ir, err := models.NewSchemaIR(name, models.SourceTypeMemory, models.CurrentIRVersion, entities)
	require.NoError(t, err)
	return ir
}

func entity(name string, fields ...models.Field) models.Entity {
	return models.Entity{Name: name, Fields: fields}
}

func field(name string, typ models.TypeTag) models.Field {
	return models.Field{Name: name, DeclaredType: typ, Nullable: true}
}

func pkField(name string, typ models.TypeTag) models.Field {
	return models.Field{Name: name, DeclaredType: typ, IsPrimaryKey: true}
}

func ptr[T any](v T) *T { return &v }

func changePaths(changes []models.Change) []string {
	paths := make([]string, 0, len(changes))
	for _, c := range changes {
		paths = append(paths, c.Path)
	}
	return paths
}

// usersV1 and usersV2 describe a users table before and after a small
// migration: email added, name widened, legacy flag dropped.
func usersV1(t *testing.T) *models.SchemaIR {
	return newSchema(t, "v1",
		entity("users",
			pkField("id", models.TypeInteger),
			field("name", models.TypeString),
			field("legacy", models.TypeBoolean),
		),
		entity("orders",
			pkField("id", models.TypeInteger),
			field("total", models.TypeDecimal),
		),
	)
}

func usersV2(t *testing.T) *models.SchemaIR {
	name := field("name", models.TypeString)
	name.Nullable = false
	return newSchema(t, "v2",
		entity("users",
			pkField("id", models.TypeInteger),
			name,
			field("email", models.TypeString),
		),
		entity("orders",
			pkField("id", models.TypeInteger),
			field("total", models.TypeDecimal),
		),
		entity("invoices",
			pkField("id", models.TypeInteger),
		),
	)
}

//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/testhelpers"
)

const fixtureSchema = "recon_fixture"

func setupFixture(t *testing.T) *testhelpers.TestDB {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	_, err := testDB.Pool.Exec(ctx, `
		DROP SCHEMA IF EXISTS recon_fixture CASCADE;
		CREATE SCHEMA recon_fixture;
		CREATE TABLE recon_fixture.customers (
			id         BIGINT PRIMARY KEY,
			email      TEXT NOT NULL,
			nickname   VARCHAR(40),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE recon_fixture.orders (
			id          UUID PRIMARY KEY,
			customer_id BIGINT NOT NULL REFERENCES recon_fixture.customers(id),
			total       NUMERIC(12,2),
			paid        BOOLEAN NOT NULL DEFAULT false
		);`)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = testDB.Pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS recon_fixture CASCADE`)
	})
	return testDB
}

func newFixtureDiscoverer(t *testing.T, testDB *testhelpers.TestDB) *SchemaDiscoverer {
	t.Helper()
	user, password, dbname := testDB.Credentials()
	d, err := NewSchemaDiscoverer(context.Background(), &Config{
		Host:     testDB.Host,
		Port:     testDB.Port,
		User:     user,
		Password: password,
		Database: dbname,
		SSLMode:  "disable",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSchemaDiscoverer_BuildIR(t *testing.T) {
	testDB := setupFixture(t)
	d := newFixtureDiscoverer(t, testDB)
	ctx := context.Background()

	require.NoError(t, d.TestConnection(ctx))

	ir, err := datasource.BuildFromDiscoverer(ctx, d, datasource.DiscoveryOptions{
		SourceName: "fixture",
		Schema:     fixtureSchema,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, models.SourceTypeDB, ir.SourceType)
	assert.Equal(t, []string{"customers", "orders"}, ir.EntityNames())

	customers, ok := ir.Entity("customers")
	require.True(t, ok)
	require.Len(t, customers.Fields, 4)
	assert.Equal(t, "id", customers.Fields[0].Name)
	assert.True(t, customers.Fields[0].IsPrimaryKey)
	assert.Equal(t, models.TypeInteger, customers.Fields[0].DeclaredType)

	email, _ := customers.Field("email")
	assert.False(t, email.Nullable)
	assert.Equal(t, models.TypeString, email.DeclaredType)

	created, _ := customers.Field("created_at")
	assert.Equal(t, models.TypeTimestamp, created.DeclaredType)
	assert.NotNil(t, created.Default)

	orders, _ := ir.Entity("orders")
	id, _ := orders.Field("id")
	assert.Equal(t, models.TypeUUID, id.DeclaredType)
	total, _ := orders.Field("total")
	assert.Equal(t, models.TypeDecimal, total.DeclaredType)
	assert.True(t, total.Nullable)
}

func TestSchemaDiscoverer_SingleTable(t *testing.T) {
	testDB := setupFixture(t)
	d := newFixtureDiscoverer(t, testDB)

	ir, err := datasource.BuildFromDiscoverer(context.Background(), d, datasource.DiscoveryOptions{
		SourceName: "fixture",
		Schema:     fixtureSchema,
		Table:      "orders",
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, ir.EntityNames())

	_, err = datasource.BuildFromDiscoverer(context.Background(), d, datasource.DiscoveryOptions{
		Schema: fixtureSchema,
		Table:  "missing",
	}, zap.NewNop())
	require.Error(t, err)
}

func TestSchemaDiscoverer_DescribeQuery(t *testing.T) {
	testDB := setupFixture(t)
	d := newFixtureDiscoverer(t, testDB)

	ir, err := datasource.BuildFromDiscoverer(context.Background(), d, datasource.DiscoveryOptions{
		SourceName:  "fixture",
		Query:       "SELECT id, email FROM recon_fixture.customers",
		QueryEntity: "customer_emails",
	}, zap.NewNop())
	require.NoError(t, err)

	entity, ok := ir.Entity("customer_emails")
	require.True(t, ok)
	require.Len(t, entity.Fields, 2)
	assert.Equal(t, models.TypeInteger, entity.Fields[0].DeclaredType)
	assert.Equal(t, models.TypeString, entity.Fields[1].DeclaredType)
}

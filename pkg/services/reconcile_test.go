package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource/file"
	_ "github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource/memory"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/repositories"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services/workqueue"
)

func newReconcileForTest(t *testing.T) (ReconcileService, repositories.StoreProvider) {
	t.Helper()
	logger := zap.NewNop()
	stores := repositories.NewMemoryStoreProvider()
	queue := workqueue.New(logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queue.Shutdown(ctx)
	})
	svc := NewReconcileService(
		NewIRBuilderService(datasource.NewSourceFactory(logger), logger),
		NewComparatorService(logger),
		NewResolverService(logger),
		NewApplierService(repositories.NewMemoryApplyRunRepository(), logger),
		NewValidatorService(logger),
		stores,
		queue,
		DefaultReconcileConfig(),
		logger,
	)
	return svc, stores
}

func irDoc(t *testing.T, ir *models.SchemaIR) []byte {
	t.Helper()
	out, err := documents.MarshalSchemaIR(ir)
	require.NoError(t, err)
	return out
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestReconcileService_Pipeline(t *testing.T) {
	ctx := context.Background()
	svc, _ := newReconcileForTest(t)
	v1, v2 := usersV1(t), usersV2(t)

	cmp, err := svc.Compare(ctx, irDoc(t, v1), irDoc(t, v2), documents.CompareOptions{})
	require.NoError(t, err)
	cmpDoc := decode[documents.ComparisonDocument](t, cmp)
	assert.Equal(t, "v1", cmpDoc.SourceA)
	assert.NotEmpty(t, cmpDoc.Changes.Added)

	planBytes, err := svc.ProposeResolution(ctx, cmp, documents.ResolveOptions{Strategy: "aggressive", PreferSource: "b"})
	require.NoError(t, err)
	again, err := svc.ProposeResolution(ctx, cmp, documents.ResolveOptions{Strategy: "aggressive", PreferSource: "b"})
	require.NoError(t, err)
	assert.Equal(t, planBytes, again, "plans are byte-identical for identical inputs")
	plan := decode[documents.PlanDocument](t, planBytes)
	assert.Equal(t, "1.0.0", plan.Version)

	applied, err := svc.ApplyResolution(ctx, planBytes, documents.ApplyOptions{
		BaseIR: irDoc(t, v1),
		Config: map[string]any{"store": "app"},
	})
	require.NoError(t, err)
	result := decode[documents.ApplyResultDocument](t, applied)
	assert.Equal(t, plan.PlanID, result.PlanID)
	assert.Equal(t, string(models.ApplyStateCommitted), result.State)
	assert.Equal(t, 4, result.Applied)
	require.NotEmpty(t, result.BackupRef, "backups are on by default")

	snap, err := svc.StoreSnapshot(ctx, "app")
	require.NoError(t, err)
	got, err := documents.ParseSchemaIR(snap)
	require.NoError(t, err)
	assert.True(t, got.Equal(v2), "store converges on b")

	rb, err := svc.Rollback(ctx, "app", result.BackupRef)
	require.NoError(t, err)
	assert.JSONEq(t, `{"store":"app","backup_ref":"`+result.BackupRef+`","restored":true}`, string(rb))

	snap, err = svc.StoreSnapshot(ctx, "app")
	require.NoError(t, err)
	got, err = documents.ParseSchemaIR(snap)
	require.NoError(t, err)
	assert.True(t, got.Equal(v1), "rollback restores a")
}

func TestReconcileService_DryRunLeavesStore(t *testing.T) {
	ctx := context.Background()
	svc, stores := newReconcileForTest(t)
	v1, v2 := usersV1(t), usersV2(t)
	require.NoError(t, stores.Seed(ctx, DefaultStoreKey, v1))

	cmp, err := svc.Compare(ctx, irDoc(t, v1), irDoc(t, v2), documents.CompareOptions{})
	require.NoError(t, err)
	plan, err := svc.ProposeResolution(ctx, cmp, documents.ResolveOptions{Strategy: "aggressive", PreferSource: "b"})
	require.NoError(t, err)

	out, err := svc.ApplyResolution(ctx, plan, documents.ApplyOptions{DryRun: ptr(true)})
	require.NoError(t, err)
	result := decode[documents.ApplyResultDocument](t, out)
	assert.True(t, result.DryRun)
	assert.Zero(t, result.Applied)
	assert.Equal(t, 4, result.WouldApply)

	snap, err := svc.StoreSnapshot(ctx, DefaultStoreKey)
	require.NoError(t, err)
	got, err := documents.ParseSchemaIR(snap)
	require.NoError(t, err)
	assert.True(t, got.Equal(v1))
}

func TestReconcileService_DryRunWithBaseIRLeavesStore(t *testing.T) {
	ctx := context.Background()
	svc, stores := newReconcileForTest(t)
	v1, v2 := usersV1(t), usersV2(t)
	require.NoError(t, stores.Seed(ctx, "s1", v2))
	before, err := svc.StoreSnapshot(ctx, "s1")
	require.NoError(t, err)

	cmp, err := svc.Compare(ctx, irDoc(t, v1), irDoc(t, v2), documents.CompareOptions{})
	require.NoError(t, err)
	plan, err := svc.ProposeResolution(ctx, cmp, documents.ResolveOptions{Strategy: "aggressive", PreferSource: "b"})
	require.NoError(t, err)

	out, err := svc.ApplyResolution(ctx, plan, documents.ApplyOptions{
		DryRun: ptr(true),
		BaseIR: irDoc(t, v1),
		Config: map[string]any{"store": "s1"},
	})
	require.NoError(t, err)
	result := decode[documents.ApplyResultDocument](t, out)
	assert.True(t, result.DryRun)
	assert.Zero(t, result.Counts.Failed)
	assert.Equal(t, 4, result.WouldApply, "projection runs against base_ir, not the stored schema")

	after, err := svc.StoreSnapshot(ctx, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestReconcileService_BuildIR(t *testing.T) {
	ctx := context.Background()
	svc, _ := newReconcileForTest(t)

	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,Ann\n"), 0o600))

	out, err := svc.BuildIR(ctx, documents.BuildIROptions{SourceType: "file", Format: "csv", Path: path})
	require.NoError(t, err)
	ir, err := documents.ParseSchemaIR(out)
	require.NoError(t, err)
	assert.Equal(t, "people", ir.SourceName)
	assert.Equal(t, []string{"people"}, ir.EntityNames())

	out, err = svc.BuildIR(ctx, documents.BuildIROptions{
		SourceType: "memory",
		Config:     map[string]any{"ir": string(irDoc(t, usersV1(t)))},
	})
	require.NoError(t, err)
	ir, err = documents.ParseSchemaIR(out)
	require.NoError(t, err)
	assert.True(t, ir.Equal(usersV1(t)))
}

func TestReconcileService_Errors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newReconcileForTest(t)
	valid := irDoc(t, usersV1(t))

	tests := []struct {
		name string
		call func() error
		code apperrors.Code
	}{
		{"unknown source type", func() error {
			_, err := svc.BuildIR(ctx, documents.BuildIROptions{SourceType: "ftp", Format: "json"})
			return err
		}, apperrors.CodeUnsupportedSource},
		{"unregistered db format", func() error {
			_, err := svc.BuildIR(ctx, documents.BuildIROptions{SourceType: "db", Format: "mysql"})
			return err
		}, apperrors.CodeUnsupportedFormat},
		{"malformed ir_a", func() error {
			_, err := svc.Compare(ctx, []byte(`{"entities": [`), valid, documents.CompareOptions{})
			return err
		}, apperrors.CodeJSON},
		{"bad threshold", func() error {
			_, err := svc.Compare(ctx, valid, valid, documents.CompareOptions{Threshold: ptr(1.5)})
			return err
		}, apperrors.CodeInvalidInput},
		{"bad strategy", func() error {
			_, err := svc.ProposeResolution(ctx, []byte(`{}`), documents.ResolveOptions{Strategy: "yolo"})
			return err
		}, apperrors.CodeInvalidInput},
		{"store label injection", func() error {
			_, err := svc.StoreSnapshot(ctx, "x' OR '1'='1")
			return err
		}, apperrors.CodeInvalidInput},
		{"rollback without ref", func() error {
			_, err := svc.Rollback(ctx, "app", " ")
			return err
		}, apperrors.CodeInvalidInput},
		{"rollback unknown ref", func() error {
			_, err := svc.Rollback(ctx, "app", "00000000-0000-0000-0000-000000000000")
			return err
		}, apperrors.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))

			doc := decode[documents.ErrorDocument](t, documents.MarshalError(err))
			assert.Equal(t, string(tt.code), doc.Code)
			assert.NotEmpty(t, doc.Message)
		})
	}
}

func TestReconcileService_ValidateIR(t *testing.T) {
	ctx := context.Background()
	svc, _ := newReconcileForTest(t)

	out, err := svc.ValidateIR(ctx, []byte(`{"ir_version":"1.0.0","entities":[{"entity_name":"t","fields":[]}]}`))
	require.NoError(t, err)
	doc := decode[documents.ValidationDocument](t, out)
	assert.False(t, doc.OK)
	assert.Equal(t, []string{"Entity 't' has no fields"}, doc.Errors)

	out, err = svc.ValidateIR(ctx, []byte(`not json`))
	require.NoError(t, err, "undecodable input is a report, not an error")
	doc = decode[documents.ValidationDocument](t, out)
	assert.False(t, doc.OK)
	assert.Nil(t, doc.Schema)
}

func TestReconcileService_Async(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc, _ := newReconcileForTest(t)
	a, b := irDoc(t, usersV1(t)), irDoc(t, usersV2(t))

	direct, err := svc.Compare(ctx, a, b, documents.CompareOptions{})
	require.NoError(t, err)

	op := svc.CompareAsync(a, b, documents.CompareOptions{})
	async, err := op.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, direct, async)
	assert.Equal(t, workqueue.TaskStatusCompleted, op.Status())

	validation := svc.ValidateIRAsync(nil)
	_, err = validation.Await(ctx)
	require.NoError(t, err)

	badPlan := svc.ApplyResolutionAsync([]byte(`{`), documents.ApplyOptions{})
	_, err = badPlan.Await(ctx)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeJSON, apperrors.CodeOf(err))
	assert.Equal(t, workqueue.TaskStatusFailed, badPlan.Status())

	names := map[string]bool{}
	for _, snap := range svc.Operations() {
		names[snap.Name] = true
	}
	assert.True(t, names["compare"])
	assert.True(t, names["apply_resolution"])
}

func TestReconcileService_Sources(t *testing.T) {
	svc, _ := newReconcileForTest(t)
	formats := map[string]bool{}
	for _, info := range svc.Sources() {
		formats[string(info.SourceType)+"/"+info.Format] = true
	}
	assert.True(t, formats["file/csv"])
	assert.True(t, formats["memory/ir"])
}

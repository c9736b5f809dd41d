package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

func compareForTest(t *testing.T, a, b *models.SchemaIR, cfg models.CompareConfig) *models.ComparisonResult {
	t.Helper()
	result, err := NewComparatorService(zap.NewNop()).Compare(a, b, cfg)
	require.NoError(t, err)
	return result
}

func actionKinds(plan *models.ResolutionPlan) map[string]models.ActionKind {
	kinds := make(map[string]models.ActionKind, len(plan.Actions))
	for _, a := range plan.Actions {
		kinds[a.Target] = a.Kind
	}
	return kinds
}

// modifiedDiff is a single nullable change on users.name at the given similarity.
func modifiedDiff(similarity float64) *models.ComparisonResult {
	before := models.Field{Name: "name", DeclaredType: models.TypeString, Nullable: true}
	after := models.Field{Name: "name", DeclaredType: models.TypeString}
	return &models.ComparisonResult{
		SourceA: "a",
		SourceB: "b",
		Changes: models.Changes{
			Modified: []models.Modification{{
				Path:       "users.name",
				NewPath:    "users.name",
				Scope:      models.ScopeField,
				Entity:     "users",
				NewEntity:  "users",
				Field:      "name",
				NewField:   "name",
				Attributes: []models.AttributeChange{{Attribute: models.AttrNullable, Old: true, New: false}},
				Before:     &before,
				After:      &after,
				Score:      1,
			}},
		},
		Statistics: models.ComparisonStatistics{Similarity: similarity},
	}
}

func TestResolverService_AddedAndRemoved(t *testing.T) {
	diff := compareForTest(t, usersV1(t), usersV2(t), models.DefaultCompareConfig())
	svc := NewResolverService(zap.NewNop())

	tests := []struct {
		prefer models.PreferSource
		want   map[string]models.ActionKind
	}{
		{
			prefer: models.PreferMerge,
			want: map[string]models.ActionKind{
				"invoices":     models.ActionAcceptB,
				"users.email":  models.ActionAcceptB,
				"users.legacy": models.ActionAcceptA,
				"users.name":   models.ActionManualReview,
			},
		},
		{
			prefer: models.PreferA,
			want: map[string]models.ActionKind{
				"invoices":     models.ActionDrop,
				"users.email":  models.ActionDrop,
				"users.legacy": models.ActionAcceptA,
				"users.name":   models.ActionManualReview,
			},
		},
		{
			prefer: models.PreferB,
			want: map[string]models.ActionKind{
				"invoices":     models.ActionAcceptB,
				"users.email":  models.ActionAcceptB,
				"users.legacy": models.ActionDrop,
				"users.name":   models.ActionManualReview,
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.prefer), func(t *testing.T) {
			plan, err := svc.Propose(diff, models.ResolveConfig{Strategy: models.ResolveBalanced, PreferSource: tt.prefer})
			require.NoError(t, err)
			assert.Equal(t, tt.want, actionKinds(plan))
		})
	}
}

func TestResolverService_ActionOrder(t *testing.T) {
	diff := compareForTest(t, usersV1(t), usersV2(t), models.DefaultCompareConfig())

	plan, err := NewResolverService(zap.NewNop()).Propose(diff, models.DefaultResolveConfig())
	require.NoError(t, err)

	targets := make([]string, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		targets = append(targets, a.Target)
	}
	assert.Equal(t, []string{"invoices", "users.email", "users.legacy", "users.name"}, targets)
	assert.Equal(t, models.PlanFormatVersion, plan.Version)
	assert.Equal(t, "v1", plan.SourceA)
	assert.Equal(t, "v2", plan.SourceB)

	invoices := plan.Actions[0]
	require.NotNil(t, invoices.DesiredEntity)
	assert.Equal(t, "invoices", invoices.DesiredEntity.Name)
	assert.Equal(t, models.ScopeEntity, invoices.Scope)

	email := plan.Actions[1]
	require.NotNil(t, email.Desired)
	assert.Equal(t, "users", email.Entity)
	assert.Equal(t, "email", email.Field)
}

func TestResolverService_ModifiedStrategyMatrix(t *testing.T) {
	svc := NewResolverService(zap.NewNop())

	tests := []struct {
		name       string
		strategy   models.ResolveStrategy
		prefer     models.PreferSource
		similarity float64
		want       models.ActionKind
	}{
		{"conservative ignores similarity", models.ResolveConservative, models.PreferB, 1.0, models.ActionManualReview},
		{"aggressive prefers a", models.ResolveAggressive, models.PreferA, 0.1, models.ActionAcceptA},
		{"aggressive prefers b", models.ResolveAggressive, models.PreferB, 0.1, models.ActionAcceptB},
		{"aggressive merges", models.ResolveAggressive, models.PreferMerge, 0.1, models.ActionMerge},
		{"balanced above cut-off", models.ResolveBalanced, models.PreferB, 0.5, models.ActionAcceptB},
		{"balanced below cut-off", models.ResolveBalanced, models.PreferB, 0.49, models.ActionManualReview},
		{"balanced merge", models.ResolveBalanced, models.PreferMerge, 0.9, models.ActionMerge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := svc.Propose(modifiedDiff(tt.similarity), models.ResolveConfig{Strategy: tt.strategy, PreferSource: tt.prefer})
			require.NoError(t, err)
			require.Len(t, plan.Actions, 1)

			a := plan.Actions[0]
			assert.Equal(t, tt.want, a.Kind)
			assert.InDelta(t, tt.similarity*tt.strategy.Tolerance(), a.Confidence, 1e-9)
			assert.Equal(t, "nullable true -> false", a.Reason)

			switch tt.want {
			case models.ActionAcceptA:
				require.NotNil(t, a.Desired)
				assert.True(t, a.Desired.Nullable)
			case models.ActionAcceptB:
				require.NotNil(t, a.Desired)
				assert.False(t, a.Desired.Nullable)
			case models.ActionMerge:
				require.NotNil(t, a.Desired)
				assert.True(t, a.Desired.Nullable, "merge keeps the field nullable when either side is")
			case models.ActionManualReview:
				assert.Nil(t, a.Desired)
			}
		})
	}
}

func TestResolverService_AutoResolveSimilarityOverride(t *testing.T) {
	svc := NewResolverService(zap.NewNop())
	cfg := models.ResolveConfig{Strategy: models.ResolveBalanced, PreferSource: models.PreferB, AutoResolveSimilarity: ptr(0.95)}

	plan, err := svc.Propose(modifiedDiff(0.9), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.ActionManualReview, plan.Actions[0].Kind)
}

func TestResolverService_ZeroSimilarityResolvesEverything(t *testing.T) {
	svc := NewResolverService(zap.NewNop())
	cfg := models.ResolveConfig{Strategy: models.ResolveBalanced, PreferSource: models.PreferB, AutoResolveSimilarity: ptr(0.0)}

	plan, err := svc.Propose(modifiedDiff(0.1), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.ActionAcceptB, plan.Actions[0].Kind)

	cfg.AutoResolveSimilarity = nil
	plan, err = svc.Propose(modifiedDiff(0.1), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.ActionManualReview, plan.Actions[0].Kind, "unset falls back to the default cut-off")
}

func TestResolverService_Determinism(t *testing.T) {
	diff := compareForTest(t, usersV1(t), usersV2(t), models.CompareConfig{Strategy: models.CompareHybrid, Threshold: 0.5})
	svc := NewResolverService(zap.NewNop())
	cfg := models.ResolveConfig{Strategy: models.ResolveAggressive, PreferSource: models.PreferMerge}

	first, err := svc.Propose(diff, cfg)
	require.NoError(t, err)
	firstDoc, err := documents.MarshalPlan(first)
	require.NoError(t, err)

	second, err := NewResolverService(zap.NewNop()).Propose(diff, cfg)
	require.NoError(t, err)
	secondDoc, err := documents.MarshalPlan(second)
	require.NoError(t, err)

	assert.Equal(t, string(firstDoc), string(secondDoc))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first.ID, second.ID)

	other, err := svc.Propose(diff, models.ResolveConfig{Strategy: models.ResolveConservative})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestResolverService_EntityRename(t *testing.T) {
	a := newSchema(t, "a", entity("customer", pkField("id", models.TypeInteger), field("email", models.TypeString)))
	b := newSchema(t, "b", entity("client",
		pkField("id", models.TypeInteger),
		field("email", models.TypeString),
		field("phone", models.TypeString),
	))
	diff := compareForTest(t, a, b, models.CompareConfig{Strategy: models.CompareSemantic, Threshold: 0.6})
	require.Len(t, diff.Changes.Modified, 1)

	svc := NewResolverService(zap.NewNop())

	t.Run("prefer b renames", func(t *testing.T) {
		plan, err := svc.Propose(diff, models.ResolveConfig{Strategy: models.ResolveAggressive, PreferSource: models.PreferB})
		require.NoError(t, err)
		require.Len(t, plan.Actions, 2)

		phone := plan.Actions[0]
		assert.Equal(t, "client.phone", phone.Target)
		assert.Equal(t, models.ActionAcceptB, phone.Kind)
		assert.Equal(t, "customer", phone.Entity, "field actions before the rename locate the a-side name")
		assert.Equal(t, "client", phone.EntityAlias)

		rename := plan.Actions[1]
		assert.Equal(t, models.ActionRename, rename.Kind)
		assert.Equal(t, "customer", rename.Entity)
		assert.Equal(t, "client", rename.RenameTo)
	})

	t.Run("merge keeps kind and takes b name", func(t *testing.T) {
		plan, err := svc.Propose(diff, models.ResolveConfig{Strategy: models.ResolveAggressive, PreferSource: models.PreferMerge})
		require.NoError(t, err)
		rename := plan.Actions[1]
		assert.Equal(t, models.ActionMerge, rename.Kind)
		assert.Equal(t, "client", rename.RenameTo)
	})

	t.Run("prefer a keeps entity", func(t *testing.T) {
		plan, err := svc.Propose(diff, models.ResolveConfig{Strategy: models.ResolveAggressive, PreferSource: models.PreferA})
		require.NoError(t, err)
		assert.Equal(t, models.ActionDrop, plan.Actions[0].Kind)
		assert.Equal(t, models.ActionAcceptA, plan.Actions[1].Kind)
		assert.Empty(t, plan.Actions[1].RenameTo)
	})
}

func TestResolverService_ContestedEntityNameHeldForReview(t *testing.T) {
	// a.users pairs with b.members by content while b also has an unrelated users.
	id := pkField("id", models.TypeInteger)
	a := newSchema(t, "a", entity("users", id, field("email", models.TypeString), field("name", models.TypeString)))
	b := newSchema(t, "b",
		entity("users", id, field("title", models.TypeString)),
		entity("members", id, field("email", models.TypeString), field("name", models.TypeString)),
	)
	diff := compareForTest(t, a, b, models.CompareConfig{Strategy: models.CompareSemantic, Threshold: 0.8})
	require.Len(t, diff.Matches, 1)
	require.Equal(t, "members", diff.Matches[0].B)

	svc := NewResolverService(zap.NewNop())
	for _, prefer := range []models.PreferSource{models.PreferA, models.PreferB, models.PreferMerge} {
		plan, err := svc.Propose(diff, models.ResolveConfig{Strategy: models.ResolveAggressive, PreferSource: prefer})
		require.NoError(t, err)

		held := 0
		for _, act := range plan.Actions {
			if act.Scope != models.ScopeEntity {
				continue
			}
			if act.Kind == models.ActionManualReview {
				assert.Contains(t, act.Reason, "entity name users refers to different entities", prefer)
				assert.Empty(t, act.RenameTo, prefer)
				assert.Nil(t, act.DesiredEntity, prefer)
				held++
				continue
			}
			assert.NotEqual(t, models.ActionDrop, act.Kind, "%s: %s", prefer, act.Target)
			assert.Empty(t, act.RenameTo, "%s: %s", prefer, act.Target)
			assert.Nil(t, act.DesiredEntity, "%s: %s", prefer, act.Target)
		}
		assert.Positive(t, held, prefer)
	}
}

func TestResolverService_FieldRename(t *testing.T) {
	a := newSchema(t, "a", entity("users",
		pkField("id", models.TypeInteger),
		field("name", models.TypeString),
		field("created_at", models.TypeTimestamp),
		field("mail", models.TypeString),
	))
	b := newSchema(t, "b", entity("users",
		pkField("id", models.TypeInteger),
		field("name", models.TypeString),
		field("created_at", models.TypeTimestamp),
		field("email", models.TypeString),
	))
	diff := compareForTest(t, a, b, models.CompareConfig{Strategy: models.CompareSemantic, Threshold: 0.5})

	plan, err := NewResolverService(zap.NewNop()).Propose(diff, models.ResolveConfig{Strategy: models.ResolveAggressive, PreferSource: models.PreferB})
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)

	a0 := plan.Actions[0]
	assert.Equal(t, models.ActionRename, a0.Kind)
	assert.Equal(t, "mail", a0.Field)
	assert.Equal(t, "email", a0.RenameTo)
	require.NotNil(t, a0.Desired)
	assert.Equal(t, "email", a0.Desired.Name)
}

func TestResolverService_InvalidInput(t *testing.T) {
	svc := NewResolverService(zap.NewNop())

	_, err := svc.Propose(nil, models.DefaultResolveConfig())
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))

	_, err = svc.Propose(modifiedDiff(1), models.ResolveConfig{Strategy: "reckless"})
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))

	_, err = svc.Propose(modifiedDiff(1), models.ResolveConfig{PreferSource: "c"})
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))

	broken := modifiedDiff(1)
	broken.Changes.Modified[0].Before = nil
	_, err = svc.Propose(broken, models.ResolveConfig{Strategy: models.ResolveAggressive})
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
}

func TestMergeFields(t *testing.T) {
	def := "0"
	a := models.Field{Name: "qty", DeclaredType: models.TypeInteger, Nullable: false, Default: &def, IsPrimaryKey: true, NativeType: "int4"}
	b := models.Field{Name: "quantity", DeclaredType: models.TypeDecimal, Nullable: true, NativeType: "numeric"}

	merged := mergeFields(a, b)

	assert.Equal(t, "quantity", merged.Name)
	assert.Equal(t, models.TypeDecimal, merged.DeclaredType)
	assert.Equal(t, "numeric", merged.NativeType)
	assert.True(t, merged.Nullable)
	require.NotNil(t, merged.Default)
	assert.Equal(t, "0", *merged.Default)
	assert.False(t, merged.IsPrimaryKey)
}

package services

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// Field similarity weights. They sum to 1.
const (
	weightType     = 0.4
	weightNullable = 0.2
	weightPK       = 0.1
	weightName     = 0.3
)

// normalizeName folds case, separators and plural forms so that "UserIDs",
// "user_ids" and "user_id" compare equal.
func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = inflection.Singular(n)
	return strings.NewReplacer("_", "", "-", "", " ", "", ".", "").Replace(n)
}

// nameSimilarity is 1 for names equal after normalization and otherwise the
// normalized Levenshtein ratio.
func nameSimilarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == nb {
		return 1
	}
	longest := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(na, nb)
	return clamp01(1 - float64(dist)/float64(longest))
}

// fieldSimilarity scores two fields as rename candidates.
func fieldSimilarity(a, b models.Field) float64 {
	score := weightType * models.TypeCompatibility(a.DeclaredType, b.DeclaredType)
	if a.Nullable == b.Nullable {
		score += weightNullable
	}
	if a.IsPrimaryKey == b.IsPrimaryKey {
		score += weightPK
	}
	score += weightName * nameSimilarity(a.Name, b.Name)
	return clamp01(score)
}

// entitySimilarity scores two entities as rename candidates from field-set
// overlap weighted by type compatibility. fieldKey maps a field name to its
// matching key.
func entitySimilarity(a, b *indexedEntity) float64 {
	union := len(a.fields)
	var sum float64
	for key, ia := range a.fields {
		ib, ok := b.fields[key]
		if !ok {
			continue
		}
		sum += models.TypeCompatibility(a.def.Fields[ia].DeclaredType, b.def.Fields[ib].DeclaredType)
	}
	for key := range b.fields {
		if _, ok := a.fields[key]; !ok {
			union++
		}
	}
	if union == 0 {
		if normalizeName(a.def.Name) == normalizeName(b.def.Name) {
			return 1
		}
		return 0
	}
	return clamp01(sum / float64(union))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

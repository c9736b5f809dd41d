package file

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// inferString classifies a single textual value. Empty strings are not
// classified; callers treat them as nulls.
func inferString(v string) models.TypeTag {
	v = strings.TrimSpace(v)
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return models.TypeInteger
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return models.TypeFloat
	}
	switch strings.ToLower(v) {
	case "true", "false":
		return models.TypeBoolean
	}
	if _, err := time.Parse(time.DateOnly, v); err == nil {
		return models.TypeDate
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return models.TypeTimestamp
		}
	}
	return models.TypeString
}

// inferJSONString is inferString without the numeric and boolean guesses:
// a JSON string holding "42" is still a string.
func inferJSONString(v string) models.TypeTag {
	if len(v) == 36 {
		if _, err := uuid.Parse(v); err == nil {
			return models.TypeUUID
		}
	}
	switch t := inferString(v); t {
	case models.TypeDate, models.TypeTimestamp:
		return t
	}
	return models.TypeString
}

// inferJSON classifies a decoded JSON value (decoded with UseNumber).
// ok is false for null.
func inferJSON(v any) (models.TypeTag, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case bool:
		return models.TypeBoolean, true
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return models.TypeInteger, true
		}
		return models.TypeFloat, true
	case float64:
		if x == float64(int64(x)) {
			return models.TypeInteger, true
		}
		return models.TypeFloat, true
	case string:
		return inferJSONString(x), true
	default:
		return models.TypeJSON, true
	}
}

// columnProfile accumulates observations for one field.
type columnProfile struct {
	name     string
	typ      models.TypeTag
	nullable bool
	seen     int
}

func (p *columnProfile) observe(t models.TypeTag) {
	p.seen++
	if p.typ == "" {
		p.typ = t
		return
	}
	if w, ok := models.WiderType(p.typ, t); ok {
		p.typ = w
		return
	}
	// Mixed families degrade to string, except json which holds anything.
	if p.typ == models.TypeJSON || t == models.TypeJSON {
		p.typ = models.TypeJSON
		return
	}
	p.typ = models.TypeString
}

func (p *columnProfile) observeNull() {
	p.nullable = true
}

func (p *columnProfile) field() models.Field {
	typ := p.typ
	if typ == "" {
		typ = models.TypeString
	}
	return models.Field{Name: p.name, DeclaredType: typ, Nullable: p.nullable}
}

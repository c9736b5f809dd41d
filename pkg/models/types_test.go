package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTypeTag(t *testing.T) {
	assert.Equal(t, TypeInteger, ParseTypeTag("INT"))
	assert.Equal(t, TypeString, ParseTypeTag(" varchar "))
	assert.Equal(t, TypeTimestamp, ParseTypeTag("datetime"))
	assert.Equal(t, TypeUnknown, ParseTypeTag(""))
	assert.Equal(t, TypeTag("geometry"), ParseTypeTag("Geometry"))
}

func TestWiderType(t *testing.T) {
	tests := []struct {
		a, b   TypeTag
		want   TypeTag
		wantOK bool
	}{
		{TypeInteger, TypeInteger, TypeInteger, true},
		{TypeInteger, TypeFloat, TypeFloat, true},
		{TypeDecimal, TypeInteger, TypeDecimal, true},
		{TypeUUID, TypeString, TypeString, true},
		{TypeDate, TypeTimestamp, TypeTimestamp, true},
		{TypeDate, TypeTime, TypeTimestamp, true},
		{TypeInteger, TypeString, "", false},
		{TypeBoolean, TypeJSON, "", false},
	}

	for _, tt := range tests {
		got, ok := WiderType(tt.a, tt.b)
		assert.Equal(t, tt.wantOK, ok, "%s/%s", tt.a, tt.b)
		assert.Equal(t, tt.want, got, "%s/%s", tt.a, tt.b)

		// order of arguments never matters
		got, ok = WiderType(tt.b, tt.a)
		assert.Equal(t, tt.wantOK, ok)
		assert.Equal(t, tt.want, got)
	}
}

func TestTypeCompatibility(t *testing.T) {
	assert.Equal(t, 1.0, TypeCompatibility(TypeString, TypeString))
	assert.Equal(t, 0.5, TypeCompatibility(TypeInteger, TypeDecimal))
	assert.Equal(t, 0.0, TypeCompatibility(TypeInteger, TypeBoolean))
	assert.Equal(t, 0.0, TypeCompatibility(TypeJSON, TypeBinary))
}

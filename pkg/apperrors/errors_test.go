package apperrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	var syntaxErr error
	{
		var v map[string]any
		syntaxErr = json.Unmarshal([]byte("{"), &v)
	}

	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"coded", New(CodeIOError, "read failed"), CodeIOError},
		{"wrapped coded", fmt.Errorf("outer: %w", New(CodeUnsupportedFormat, "xml")), CodeUnsupportedFormat},
		{"canceled", context.Canceled, CodeCancelled},
		{"deadline", fmt.Errorf("apply: %w", context.DeadlineExceeded), CodeTimeout},
		{"json syntax", syntaxErr, CodeJSON},
		{"plain", errors.New("boom"), CodeInternal},
		{"coded beats context", Wrap(CodeDBConnectionFailed, "connect", context.DeadlineExceeded), CodeDBConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("build: %w", Newf(CodeUnsupportedSource, "unknown source type %q", "ftp"))

	assert.True(t, errors.Is(err, ErrUnsupportedSource))
	assert.False(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestError_Message(t *testing.T) {
	err := Wrap(CodeIOError, "read schema file", errors.New("permission denied"))

	assert.Equal(t, "read schema file: permission denied", err.Error())
	assert.Equal(t, "read schema file: permission denied", MessageOf(fmt.Errorf("x: %w", err)))
	assert.Equal(t, "operation cancelled", MessageOf(context.Canceled))
}

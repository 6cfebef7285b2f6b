package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found sentinel", ErrDocumentNotFound, CodeNotFound},
		{"wrapped not found", fmt.Errorf("loading: %w", ErrDocumentNotFound), CodeNotFound},
		{"app error", Newf(ErrInvalidInput, "name %q", ""), CodeBadParam},
		{"timeout", ErrTimeout, CodeTimeout},
		{"unknown", fmt.Errorf("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := New(ErrDocumentNotFound, "doc x not found")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Equal(t, "document not found: doc x not found", err.Error())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(ErrInvalidInput))
	assert.Equal(t, 3, ExitCode(ErrDocumentNotFound))
	assert.Equal(t, 1, ExitCode(ErrInternal))
}

package prompt

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDeviceSpec(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"N:TNFS://host/", false},
		{"N2:HTTP://example.com/file.txt", false},
		{"TCP://localhost:23", false},
		{"N:", true},
		{"nothing", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateDeviceSpec(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, wrapError(nil))
	assert.ErrorIs(t, wrapError(promptui.ErrInterrupt), ErrAborted)
	assert.ErrorIs(t, wrapError(promptui.ErrAbort), ErrAborted)

	other := fmt.Errorf("boom")
	assert.Equal(t, other, wrapError(other))
	assert.True(t, IsAborted(ErrAborted))
	assert.False(t, IsAborted(other))
}

func TestValidateCredential(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "anonymous", false},
		{"empty", "", false},
		{"spaces kept", "pass word", false},
		{"NUL", "pa\x00ss", true},
		{"newline", "pass\n", true},
		{"ATASCII EOL", "pass\x9b", true},
		{"too long", strings.Repeat("x", 257), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredential(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfirmOverwrite_MissingFile(t *testing.T) {
	ok, err := ConfirmOverwrite(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.True(t, ok)
}

package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateGenerate(t *testing.T) {
	tests := []struct {
		name    string
		prompt  string
		opts    GenerateOptions
		wantErr error
	}{
		{"valid", "hello", GenerateOptions{Temperature: 0.3, MaxTokens: 100}, nil},
		{"zero max tokens uses default", "hello", GenerateOptions{}, nil},
		{"bounds inclusive", "hello", GenerateOptions{Temperature: 2, MaxTokens: 4096}, nil},
		{"empty prompt", "   ", GenerateOptions{}, ErrEmptyPrompt},
		{"negative temperature", "hello", GenerateOptions{Temperature: -0.1}, ErrInvalidTemperature},
		{"temperature too high", "hello", GenerateOptions{Temperature: 2.1}, ErrInvalidTemperature},
		{"negative max tokens", "hello", GenerateOptions{MaxTokens: -1}, ErrInvalidMaxTokens},
		{"max tokens too high", "hello", GenerateOptions{MaxTokens: 4097}, ErrInvalidMaxTokens},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGenerate(tt.prompt, tt.opts)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGenerateOptions_WithDefaults(t *testing.T) {
	assert.Equal(t, DefaultMaxTokens, GenerateOptions{}.WithDefaults().MaxTokens)
	assert.Equal(t, 7, GenerateOptions{MaxTokens: 7}.WithDefaults().MaxTokens)
}

package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewError tests the basic creation of errors.
func TestNewError(t *testing.T) {
	tests := []struct {
		name    string
		code    ErrorCode
		message string
	}{
		{
			name:    "NoCandidates",
			code:    NoCandidates,
			message: "no prompt candidates available",
		},
		{
			name:    "CredentialsExhausted",
			code:    CredentialsExhausted,
			message: "all credentials cooling down",
		},
		{
			name:    "LLMGenerationFailed",
			code:    LLMGenerationFailed,
			message: "generation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)

			customErr, ok := err.(*Error)

			assert.True(t, ok, "should be a custom *Error")
			assert.Equal(t, tt.code, customErr.Code())
			assert.Equal(t, tt.message, customErr.Error())

			// Test nil original error for new errors
			assert.Nil(t, customErr.Unwrap())
		})
	}
}

// TestWrapError tests error wrapping functionality.
func TestWrapError(t *testing.T) {
	originalErr := stderrors.New("connection reset")

	err := Wrap(originalErr, LLMGenerationFailed, "call failed")
	require.Error(t, err)

	customErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, LLMGenerationFailed, customErr.Code())
	assert.Equal(t, "call failed: connection reset", customErr.Error())
	assert.Equal(t, originalErr, customErr.Unwrap())

	// Wrapping nil stays nil.
	assert.Nil(t, Wrap(nil, Unknown, "ignored"))
}

func TestWithFields(t *testing.T) {
	err := WithFields(
		New(CredentialsExhausted, "no credential available"),
		Fields{"shortest_cooldown_s": 42},
	)

	customErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CredentialsExhausted, customErr.Code())
	assert.Contains(t, err.Error(), "shortest_cooldown_s=42")

	// Fields on a plain error promote it to *Error with Unknown code.
	plain := WithFields(stderrors.New("boom"), Fields{"k": "v"})
	plainErr, ok := plain.(*Error)
	require.True(t, ok)
	assert.Equal(t, Unknown, plainErr.Code())
}

func TestErrorIs(t *testing.T) {
	err := New(RateLimitExceeded, "429 from provider")
	target := New(RateLimitExceeded, "different message, same code")

	assert.True(t, stderrors.Is(err, target))
	assert.False(t, stderrors.Is(err, New(Timeout, "deadline")))
}

func TestErrorAs(t *testing.T) {
	wrapped := Wrap(stderrors.New("inner"), InvalidResponse, "unparsable payload")

	var customErr *Error
	require.True(t, stderrors.As(wrapped, &customErr))
	assert.Equal(t, InvalidResponse, customErr.Code())
}

func TestCode(t *testing.T) {
	assert.Equal(t, StorageFailed, Code(New(StorageFailed, "upsert failed")))
	assert.Equal(t, Unknown, Code(stderrors.New("plain")))
}

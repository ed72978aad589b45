package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "deedgate/pkg/domain-errors"
)

func TestParsePropertyID(t *testing.T) {
	t.Run("round trips a generated id", func(t *testing.T) {
		generated := NewPropertyID()
		parsed, err := ParsePropertyID(generated.String())
		require.NoError(t, err)
		assert.Equal(t, generated, parsed)
	})

	t.Run("rejects invalid forms", func(t *testing.T) {
		cases := map[string]string{
			"empty":          "",
			"whitespace":     "   ",
			"not a uuid":     "definitely-not-a-uuid-string-here-no",
			"nil uuid":       "00000000-0000-0000-0000-000000000000",
			"braces form":    "{c4fe9d1e-8a5b-4c8e-9f1a-2b3c4d5e6f70}",
			"truncated uuid": "c4fe9d1e-8a5b-4c8e-9f1a",
		}
		for name, input := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := ParsePropertyID(input)
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			})
		}
	})
}

func TestIDsMarshalAsCanonicalStrings(t *testing.T) {
	propertyID := NewPropertyID()
	verificationID := NewVerificationID()
	documentID := NewDocumentID()

	type envelope struct {
		Property     PropertyID     `json:"property"`
		Verification VerificationID `json:"verification"`
		Document     DocumentID     `json:"document"`
	}

	raw, err := json.Marshal(envelope{propertyID, verificationID, documentID})
	require.NoError(t, err)
	assert.Contains(t, string(raw), propertyID.String())
	assert.Contains(t, string(raw), verificationID.String())
	assert.Contains(t, string(raw), documentID.String())

	var decoded envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, propertyID, decoded.Property)
	assert.Equal(t, verificationID, decoded.Verification)
	assert.Equal(t, documentID, decoded.Document)
}

func TestParsePrincipal(t *testing.T) {
	t.Run("normalizes to lower case", func(t *testing.T) {
		p, err := ParsePrincipal("  0xABCdef0123  ")
		require.NoError(t, err)
		assert.Equal(t, Principal("0xabcdef0123"), p)
	})

	t.Run("rejects empty and oversized values", func(t *testing.T) {
		_, err := ParsePrincipal("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

		_, err = ParsePrincipal(strings.Repeat("a", 129))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("comparison is case-insensitive", func(t *testing.T) {
		assert.True(t, Principal("0xABC").Equal(Principal("0xabc")))
		assert.False(t, Principal("0xabc").Equal(Principal("0xabd")))
	})
}

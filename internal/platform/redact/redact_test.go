package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPseudonym(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "user identifier", input: "user-42"},
		{name: "email-like identifier", input: "alice@example.com"},
		{name: "uuid identifier", input: "0d4b176a-4b2d-4f26-9a2e-7a1c6c1c9a10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pseudonym(tt.input)
			assert.Equal(t, got, Pseudonym(tt.input), "pseudonyms must be stable")
			assert.NotContains(t, got, tt.input, "raw value must not leak")
			assert.Len(t, got, len("anon-")+8)
		})
	}
}

func TestPseudonym_DistinctInputs(t *testing.T) {
	assert.NotEqual(t, Pseudonym("user-1"), Pseudonym("user-2"))
}

func TestPseudonym_Empty(t *testing.T) {
	assert.Equal(t, "unknown", Pseudonym(""))
}

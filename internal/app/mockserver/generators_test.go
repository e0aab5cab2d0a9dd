package mockserver

import (
	"encoding/json"
	"testing"

	"github.com/form3tech-oss/pact-mock-server/internal/app/generator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBodyGenerators(t *testing.T) {
	state := map[string]interface{}{"id": json.Number("7"), "name": "sam"}
	fromState := func(expression string) generator.Generator {
		return generator.Generator{Type: generator.TypeProviderState, Expression: expression}
	}

	tests := []struct {
		name       string
		content    string
		generators map[string]generator.Generator
		expected   string
	}{
		{
			name:       "wildcards expand over every element",
			content:    `{"items": [{"id": 1}, {"id": 2}], "other": {"id": 3}}`,
			generators: map[string]generator.Generator{"$.items[*].id": fromState("${id}")},
			expected:   `{"items": [{"id": 7}, {"id": 7}], "other": {"id": 3}}`,
		},
		{
			name:       "star over object fields",
			content:    `{"names": {"a": "x", "b": "y"}}`,
			generators: map[string]generator.Generator{"$.names.*": fromState("${name}")},
			expected:   `{"names": {"a": "sam", "b": "sam"}}`,
		},
		{
			name:       "paths missing from the document are skipped",
			content:    `{"items": [], "id": 1}`,
			generators: map[string]generator.Generator{"$.items[*].id": fromState("${id}"), "$.absent": fromState("${id}"), "$.items[3]": fromState("${id}")},
			expected:   `{"items": [], "id": 1}`,
		},
		{
			name:       "field names with dots",
			content:    `{"a.b": "x"}`,
			generators: map[string]generator.Generator{"$['a.b']": fromState("${name}")},
			expected:   `{"a.b": "sam"}`,
		},
		{
			name:       "root generator replaces the document",
			content:    `"x"`,
			generators: map[string]generator.Generator{"$": fromState("${name}")},
			expected:   `"sam"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := applyBodyGenerators([]byte(tt.content), true, tt.generators, state)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(content))
		})
	}
}

func TestApplyBodyGenerators_Errors(t *testing.T) {
	state := map[string]interface{}{}
	gen := map[string]generator.Generator{"$.id": {Type: generator.TypeRandomInt}}

	_, err := applyBodyGenerators([]byte(`{"id": `), true, gen, state)
	assert.Error(t, err)

	_, err = applyBodyGenerators([]byte(`{"id": 1}`), true, map[string]generator.Generator{"id": {Type: generator.TypeRandomInt}}, state)
	assert.Error(t, err)
}

package pact

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const v2Pact = `{
  "consumer": {"name": "zoo-app"},
  "provider": {"name": "animal-service"},
  "interactions": [{
    "description": "a request for an alligator",
    "providerState": "there is an alligator named Mary",
    "request": {
      "method": "get",
      "path": "/alligators/Mary",
      "query": "name=Mary&name=Bob",
      "headers": {"Accept": "application/json"}
    },
    "response": {
      "status": 200,
      "headers": {"Content-Type": "application/json"},
      "body": {"name": "Mary", "age": 3},
      "matchingRules": {
        "$.body.name": {"match": "type"},
        "$.headers.Content-Type": {"regex": "application/json.*"}
      }
    }
  }],
  "metadata": {"pactSpecification": {"version": "2.0.0"}}
}`

const v3Pact = `{
  "consumer": {"name": "zoo-app"},
  "provider": {"name": "animal-service"},
  "interactions": [{
    "description": "create an alligator",
    "providerStates": [{"name": "no alligators", "params": {"count": 0}}],
    "request": {
      "method": "POST",
      "path": "/alligators",
      "query": {"type": ["reptile"]},
      "headers": {"Content-Type": ["application/json"]},
      "body": {"name": "Mary", "tags": ["green"]},
      "matchingRules": {
        "path": {"matchers": [{"match": "regex", "regex": "/alligators.*"}]},
        "body": {
          "$.tags": {"matchers": [{"match": "type", "min": 1}], "combine": "AND"}
        }
      }
    },
    "response": {
      "status": 201,
      "body": "created",
      "headers": {"Content-Type": "text/plain"},
      "generators": {
        "header": {"X-Id": {"type": "Uuid"}}
      }
    }
  }]
}`

func TestLoad_V2(t *testing.T) {
	p, err := Load([]byte(v2Pact))
	require.NoError(t, err)

	assert.Equal(t, "zoo-app", p.Consumer.Name)
	assert.Equal(t, "animal-service", p.Provider.Name)
	require.Len(t, p.Interactions, 1)

	i := p.Interactions[0]
	assert.Equal(t, "GET", i.Request.Method)
	assert.Equal(t, []ProviderState{{Name: "there is an alligator named Mary"}}, i.ProviderStates)
	assert.Equal(t, []string{"Mary", "Bob"}, i.Request.Query["name"])
	assert.Equal(t, []string{"application/json"}, i.Request.Headers["Accept"])
	assert.Equal(t, BodyMissing, i.Request.Body.State)

	assert.Equal(t, `{"name":"Mary","age":3}`, string(i.Response.Body.Content))
	rules, ok := i.Response.MatchingRules.Category(CategoryBody).Get("$.name")
	require.True(t, ok)
	assert.Equal(t, "type", rules.Rules[0].Match)
	rules, ok = i.Response.MatchingRules.Category(CategoryHeader).Get("Content-Type")
	require.True(t, ok)
	assert.Equal(t, "regex", rules.Rules[0].Match)
	assert.Equal(t, "application/json.*", rules.Rules[0].Regex)
}

func TestLoad_V3(t *testing.T) {
	p, err := Load([]byte(v3Pact))
	require.NoError(t, err)
	require.Len(t, p.Interactions, 1)

	i := p.Interactions[0]
	assert.Equal(t, "no alligators", i.ProviderStates[0].Name)
	assert.EqualValues(t, 0, i.ProviderStates[0].Params["count"])
	assert.Equal(t, []string{"reptile"}, i.Request.Query["type"])

	pathRules, ok := i.Request.MatchingRules.Category(CategoryPath).Get("")
	require.True(t, ok)
	assert.Equal(t, "/alligators.*", pathRules.Rules[0].Regex)

	tagRules, ok := i.Request.MatchingRules.Category(CategoryBody).Get("$.tags")
	require.True(t, ok)
	require.NotNil(t, tagRules.Rules[0].Min)
	assert.Equal(t, 1, *tagRules.Rules[0].Min)

	assert.Equal(t, 201, i.Response.Status)
	assert.Equal(t, "created", string(i.Response.Body.Content))
	assert.Equal(t, "Uuid", i.Response.Generators.Category(CategoryHeader)["X-Id"].Type)
}

func TestLoad_Errors(t *testing.T) {
	for _, tt := range []struct {
		name string
		doc  string
	}{
		{name: "malformed JSON", doc: `{"consumer": {"name": "c"}, `},
		{name: "missing provider", doc: `{"consumer": {"name": "c"}, "interactions": []}`},
		{name: "interaction without request", doc: `{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [{"description": "d", "response": {}}]}`},
		{name: "status out of range", doc: `{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [{"description": "d", "request": {}, "response": {"status": 1000}}]}`},
		{name: "header of the wrong type", doc: `{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [{"description": "d", "request": {"headers": {"A": 1}}, "response": {}}]}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, ErrParse, errors.Cause(err))
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	p, err := Load([]byte(`{"consumer": {"name": "c"}, "provider": {"name": "p"}, "interactions": [{"description": "d", "request": {}, "response": {}}]}`))
	require.NoError(t, err)

	i := p.Interactions[0]
	assert.Equal(t, "GET", i.Request.Method)
	assert.Equal(t, "/", i.Request.Path)
	assert.Equal(t, 200, i.Response.Status)
}

func TestMarshal(t *testing.T) {
	p := New("consumer", "provider")
	i := NewInteraction("a request")
	i.WithRequest("GET", "/status")
	i.WithHeader(PartResponse, "Content-Type", 0, "application/json")
	i.WithBody(PartResponse, "", `{"ok":true}`)
	p.Interactions = append(p.Interactions, i)

	data, err := Marshal(p)
	require.NoError(t, err)

	assert.JSONEq(t, `{
	  "consumer": {"name": "consumer"},
	  "provider": {"name": "provider"},
	  "interactions": [{
	    "description": "a request",
	    "request": {"method": "GET", "path": "/status"},
	    "response": {
	      "status": 200,
	      "headers": {"Content-Type": ["application/json"]},
	      "body": {"ok": true}
	    }
	  }],
	  "metadata": {"pactSpecification": {"version": "3.0.0"}}
	}`, string(data))

	again, err := Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestMarshal_ReloadsBinaryBody(t *testing.T) {
	p := New("consumer", "provider")
	i := NewInteraction("an image")
	i.WithBinaryFile(PartResponse, "image/png", []byte{0x89, 'P', 'N', 'G', 0x00, 0xff})
	p.Interactions = append(p.Interactions, i)

	data, err := Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"body": "iVBORwD/"`)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}, loaded.Interactions[0].Response.Body.Content)
	rules, ok := loaded.Interactions[0].Response.MatchingRules.Category(CategoryBody).Get("$")
	require.True(t, ok)
	assert.Equal(t, MatchingRule{Match: "contentType", Value: "image/png"}, rules.Rules[0])
}

func TestPact_Deduplicate(t *testing.T) {
	p := New("c", "p")
	first := NewInteraction("a request")
	other := NewInteraction("another request")
	replacement := NewInteraction("a request")
	replacement.ResponseStatus(204)
	withState := NewInteraction("a request")
	withState.Given("a state")
	p.Interactions = []*Interaction{first, other, replacement, withState}

	p.Deduplicate()

	require.Len(t, p.Interactions, 3)
	assert.Same(t, replacement, p.Interactions[0])
	assert.Same(t, other, p.Interactions[1])
	assert.Same(t, withState, p.Interactions[2])
}

func TestPact_FileName(t *testing.T) {
	assert.Equal(t, "my_consumer-api.json", New("my consumer", "api").FileName())
}

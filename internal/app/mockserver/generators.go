package mockserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/form3tech-oss/pact-mock-server/internal/app/generator"
	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/pkg/errors"
	"github.com/tidwall/sjson"
)

// generateResponse returns a copy of the response with its generators applied.
func generateResponse(response *pact.Response, params map[string]interface{}, baseURL string) (*pact.Response, error) {
	state := map[string]interface{}{}
	for k, v := range params {
		state[k] = v
	}
	state[generator.MockServerURLKey] = baseURL

	interaction := &pact.Interaction{Response: *response}
	out := interaction.Clone().Response
	if out.Generators.IsEmpty() {
		return &out, nil
	}

	if gen, ok := out.Generators.Category(pact.CategoryStatus)[""]; ok {
		value, err := gen.Generate(state)
		if err != nil {
			return nil, errors.Wrap(err, "status generator failed")
		}
		status, err := strconv.Atoi(fmt.Sprintf("%v", value))
		if err != nil {
			return nil, errors.Wrapf(err, "generated status '%v' is not a number", value)
		}
		out.Status = status
	}

	for name, gen := range out.Generators.Category(pact.CategoryHeader) {
		value, err := gen.Generate(state)
		if err != nil {
			return nil, errors.Wrapf(err, "generator for header '%s' failed", name)
		}
		out.SetHeader(name, 0, fmt.Sprintf("%v", value))
	}

	body := out.Generators.Category(pact.CategoryBody)
	if len(body) == 0 || !out.Body.IsPresent() {
		return &out, nil
	}
	content, err := applyBodyGenerators(out.Body.Content, pact.IsJSON(out.ContentType()), body, state)
	if err != nil {
		return nil, err
	}
	out.Body.Content = content
	return &out, nil
}

func applyBodyGenerators(content []byte, isJSON bool, generators map[string]generator.Generator, state map[string]interface{}) ([]byte, error) {
	if !isJSON {
		gen, ok := generators["$"]
		if !ok {
			return content, nil
		}
		value, err := gen.Generate(state)
		if err != nil {
			return nil, errors.Wrap(err, "body generator failed")
		}
		return []byte(fmt.Sprintf("%v", value)), nil
	}

	var document interface{}
	decoder := json.NewDecoder(bytes.NewReader(content))
	decoder.UseNumber()
	if err := decoder.Decode(&document); err != nil {
		return nil, errors.Wrap(err, "response body is not valid JSON")
	}

	for _, key := range sortedGeneratorKeys(generators) {
		tokens, err := pact.ParsePath(key)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid generator path '%s'", key)
		}
		for _, concrete := range expand(document, tokens[1:], nil) {
			value, err := generators[key].Generate(state)
			if err != nil {
				return nil, errors.Wrapf(err, "generator for '%s' failed", key)
			}
			if len(concrete) == 0 {
				content, err = json.Marshal(value)
			} else {
				content, err = sjson.SetBytes(content, sjsonPath(concrete), value)
			}
			if err != nil {
				return nil, errors.Wrapf(err, "unable to apply generator for '%s'", key)
			}
		}
	}
	return content, nil
}

// expand resolves wildcards against the document, yielding concrete paths
// made of field names and indexes only.
func expand(value interface{}, tokens []pact.PathToken, prefix []pact.PathToken) [][]pact.PathToken {
	if len(tokens) == 0 {
		return [][]pact.PathToken{append([]pact.PathToken(nil), prefix...)}
	}
	token, rest := tokens[0], tokens[1:]
	var out [][]pact.PathToken

	switch v := value.(type) {
	case map[string]interface{}:
		switch token.Kind {
		case pact.TokenField:
			if child, ok := v[token.Name]; ok {
				out = append(out, expand(child, rest, append(prefix, token))...)
			}
		case pact.TokenStar:
			for _, name := range sortedFields(v) {
				field := pact.PathToken{Kind: pact.TokenField, Name: name}
				out = append(out, expand(v[name], rest, append(prefix, field))...)
			}
		}
	case []interface{}:
		switch token.Kind {
		case pact.TokenIndex:
			if token.Index < len(v) {
				out = append(out, expand(v[token.Index], rest, append(prefix, token))...)
			}
		case pact.TokenStar, pact.TokenStarIndex:
			for i := range v {
				index := pact.PathToken{Kind: pact.TokenIndex, Index: i}
				out = append(out, expand(v[i], rest, append(prefix, index))...)
			}
		}
	}
	return out
}

var sjsonEscaper = strings.NewReplacer(
	`\`, `\\`,
	".", `\.`,
	"*", `\*`,
	"?", `\?`,
	"|", `\|`,
	"#", `\#`,
	"@", `\@`,
	":", `\:`,
)

func sjsonPath(tokens []pact.PathToken) string {
	parts := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token.Kind == pact.TokenIndex {
			parts = append(parts, strconv.Itoa(token.Index))
			continue
		}
		parts = append(parts, sjsonEscaper.Replace(token.Name))
	}
	return strings.Join(parts, ".")
}

func sortedGeneratorKeys(generators map[string]generator.Generator) []string {
	keys := make([]string, 0, len(generators))
	for key := range generators {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedFields(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

package pact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/form3tech-oss/pact-mock-server/internal/app/generator"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	matcherTypeKey   = "pact:matcher:type"
	generatorTypeKey = "pact:generator:type"

	// MultipartBoundary is fixed so that written pact files are reproducible.
	MultipartBoundary = "PactMockServerBoundary7MA4YWxkTrZu0gW"
)

var multipartContentTypeRegex = `multipart/form-data;(\s*charset=[^;]*;)?\s*boundary=.*`

func (i *Interaction) UponReceiving(description string) {
	i.Description = description
}

func (i *Interaction) Given(description string) {
	i.ProviderStates = append(i.ProviderStates, ProviderState{Name: description})
}

// GivenWithParam sets a parameter on the named provider state, adding the state
// when it is not there yet. Values that are valid JSON keep their JSON type.
func (i *Interaction) GivenWithParam(description, name, value string) {
	state := -1
	for idx := len(i.ProviderStates) - 1; idx >= 0; idx-- {
		if i.ProviderStates[idx].Name == description {
			state = idx
			break
		}
	}
	if state < 0 {
		i.ProviderStates = append(i.ProviderStates, ProviderState{Name: description})
		state = len(i.ProviderStates) - 1
	}
	if i.ProviderStates[state].Params == nil {
		i.ProviderStates[state].Params = map[string]interface{}{}
	}
	i.ProviderStates[state].Params[name] = parseParam(value)
}

func parseParam(value string) interface{} {
	var parsed interface{}
	if err := unmarshalNumber([]byte(value), &parsed); err == nil {
		return parsed
	}
	return value
}

func (i *Interaction) WithRequest(method, path string) {
	if method != "" {
		i.Request.Method = strings.ToUpper(method)
	}
	example, rules, gen := extractValue(path)
	i.Request.Path = example
	if rules != nil {
		i.Request.MatchingRules.Set(CategoryPath, "", *rules)
	}
	if gen != nil {
		i.Request.Generators.Set(CategoryPath, "", *gen)
	}
}

func (i *Interaction) WithHeader(part Part, name string, index int, value string) error {
	p := i.Part(part)
	example, rules, gen := extractValue(value)
	if err := p.SetHeader(name, index, example); err != nil {
		return err
	}
	if rules != nil {
		p.MatchingRules.Set(CategoryHeader, name, *rules)
	}
	if gen != nil {
		p.Generators.Set(CategoryHeader, name, *gen)
	}
	return nil
}

func (i *Interaction) WithQueryParameter(name string, index int, value string) error {
	example, rules, gen := extractValue(value)
	values, err := setIndexed(i.Request.Query[name], index, example)
	if err != nil {
		return errors.Wrapf(err, "query parameter '%s'", name)
	}
	if i.Request.Query == nil {
		i.Request.Query = map[string][]string{}
	}
	i.Request.Query[name] = values
	if rules != nil {
		i.Request.MatchingRules.Set(CategoryQuery, name, *rules)
	}
	if gen != nil {
		i.Request.Generators.Set(CategoryQuery, name, *gen)
	}
	return nil
}

// WithBody sets the body. A Content-Type header already present takes
// precedence over contentType. JSON bodies may embed integration matchers.
func (i *Interaction) WithBody(part Part, contentType, body string) {
	p := i.Part(part)
	contentType = p.declaredContentType(contentType, MediaTypeText)

	if body == "" {
		p.Body = Body{State: BodyEmpty, ContentType: contentType}
		return
	}

	if IsJSON(contentType) {
		var value interface{}
		if err := unmarshalNumber([]byte(body), &value); err == nil {
			x := extraction{part: p}
			example := x.walk(value, "$")
			encoded, err := marshalJSON(example)
			if err == nil {
				p.Body = NewBody(encoded, contentType)
				return
			}
		}
	}
	p.Body = NewBody([]byte(body), contentType)
}

// WithBinaryFile sets a binary body matched by its content type.
func (i *Interaction) WithBinaryFile(part Part, contentType string, body []byte) {
	p := i.Part(part)
	contentType = p.declaredContentType(contentType, MediaTypeBinary)
	p.Body = NewBody(append([]byte(nil), body...), contentType)
	p.MatchingRules.Set(CategoryBody, "$", RuleList{Rules: []MatchingRule{{Match: "contentType", Value: MediaType(contentType)}}})
}

// WithMultipartFile sets a multipart/form-data body with a single file part
// read from filePath.
func (i *Interaction) WithMultipartFile(part Part, contentType, filePath, partName string) error {
	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		return errors.Errorf("content type '%s' is not valid: %v", contentType, err)
	}
	if partName == "" {
		partName = "file"
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "could not read file '%s'", filePath)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.SetBoundary(MultipartBoundary); err != nil {
		return errors.Wrap(err, "could not set multipart boundary")
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, partName, filepath.Base(filePath)))
	header.Set("Content-Type", contentType)
	w, err := writer.CreatePart(header)
	if err != nil {
		return errors.Wrap(err, "could not create multipart body")
	}
	if _, err := w.Write(content); err != nil {
		return errors.Wrap(err, "could not write multipart body")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "could not close multipart body")
	}

	p := i.Part(part)
	bodyType := writer.FormDataContentType()
	p.SetHeader("Content-Type", 0, bodyType)
	p.Body = NewBody(buf.Bytes(), bodyType)
	p.MatchingRules.Set(CategoryBody, Field("$", partName), RuleList{Rules: []MatchingRule{{Match: "contentType", Value: MediaType(contentType)}}})
	p.MatchingRules.Set(CategoryHeader, "Content-Type", RuleList{Rules: []MatchingRule{{Match: "regex", Regex: multipartContentTypeRegex}}})
	return nil
}

func (i *Interaction) ResponseStatus(status int) {
	i.Response.Status = status
}

// declaredContentType returns the Content-Type header when set, otherwise
// records contentType (or fallback) as the header.
func (p *HTTPPart) declaredContentType(contentType, fallback string) string {
	if values, ok := p.Header("Content-Type"); ok && len(values) > 0 && values[0] != "" {
		return values[0]
	}
	if contentType == "" {
		contentType = fallback
	}
	p.SetHeader("Content-Type", 0, contentType)
	return contentType
}

// extraction pulls integration matchers and generators out of a JSON body.
type extraction struct {
	part *HTTPPart
}

func (x *extraction) walk(value interface{}, path string) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		if isIntegration(v) {
			return x.integration(v, path)
		}
		out := make(map[string]interface{}, len(v))
		for key, child := range v {
			out[key] = x.walk(child, Field(path, key))
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for idx, child := range v {
			out[idx] = x.walk(child, Index(path, idx))
		}
		return out
	}
	return value
}

func (x *extraction) integration(v map[string]interface{}, path string) interface{} {
	rules, gen := integrationRules(v)
	if rules != nil && rules.Has("arrayContains") {
		variants, _ := v["variants"].([]interface{})
		example := arrayContains(&rules.Rules[0], variants)
		x.part.MatchingRules.Set(CategoryBody, path, *rules)
		return example
	}
	if rules != nil {
		x.part.MatchingRules.Set(CategoryBody, path, *rules)
	}
	if gen != nil {
		x.part.Generators.Set(CategoryBody, path, *gen)
	}

	example, ok := v["value"]
	if !ok {
		return nil
	}

	switch ex := example.(type) {
	case []interface{}:
		if rules == nil || !rules.Has("type", "min", "max") {
			return x.walk(ex, path)
		}
		// every element of an eachLike is described by the first one
		minLen := 0
		for _, rule := range rules.Rules {
			if rule.Min != nil && *rule.Min > minLen {
				minLen = *rule.Min
			}
		}
		for len(ex) > 0 && len(ex) < minLen {
			ex = append(ex, ex[0])
		}
		out := make([]interface{}, len(ex))
		for idx, child := range ex {
			out[idx] = x.walk(child, path+"[*]")
		}
		return out
	case map[string]interface{}:
		if rules != nil && rules.Has("values") {
			out := make(map[string]interface{}, len(ex))
			for key, child := range ex {
				out[key] = x.walk(child, path+".*")
			}
			return out
		}
		return x.walk(ex, path)
	}
	return example
}

// arrayContains walks each variant on its own, so the rules found inside it
// are kept on the variant with paths relative to the element.
func arrayContains(rule *MatchingRule, variants []interface{}) []interface{} {
	out := make([]interface{}, len(variants))
	rule.Variants = nil
	for idx, variant := range variants {
		sub := extraction{part: &HTTPPart{}}
		out[idx] = sub.walk(variant, "$")
		found := Variant{Index: idx, Rules: map[string]RuleList{}}
		for _, entry := range sub.part.MatchingRules.Category(CategoryBody).Entries() {
			found.Rules[entry.Key] = entry.Rules
		}
		rule.Variants = append(rule.Variants, found)
	}
	return out
}

func isIntegration(v map[string]interface{}) bool {
	_, matcher := v[matcherTypeKey]
	_, gen := v[generatorTypeKey]
	return matcher || gen
}

// integrationRules converts an integration matcher object into a rule list and
// an optional generator.
func integrationRules(v map[string]interface{}) (*RuleList, *generator.Generator) {
	var rules *RuleList
	if matchType, ok := v[matcherTypeKey].(string); ok {
		if matchType == "array-contains" {
			matchType = "arrayContains"
		}
		rule := MatchingRule{Match: matchType}
		raw := map[string]interface{}{}
		for key, value := range v {
			raw[key] = value
		}
		raw["match"] = matchType
		delete(raw, matcherTypeKey)
		delete(raw, generatorTypeKey)
		delete(raw, "variants")
		if err := decodeIntegration(raw, &rule); err != nil {
			log.WithError(err).Warnf("ignoring the attributes of the '%s' matcher", matchType)
			rule = MatchingRule{Match: matchType}
		}
		// value is the example for every matcher except these
		switch matchType {
		case "include", "contentType":
			s, _ := v["value"].(string)
			rule.Value = s
		case "statusCode":
			rule.Value = fmt.Sprintf("%v", v["status"])
		default:
			rule.Value = ""
		}
		if matchType != "regex" {
			rule.Regex = ""
		}
		rules = &RuleList{Rules: []MatchingRule{rule}}
	}

	var gen *generator.Generator
	if genType, ok := v[generatorTypeKey].(string); ok {
		g := generator.Generator{}
		if err := decodeIntegration(v, &g); err != nil {
			log.WithError(err).Warnf("ignoring the attributes of the '%s' generator", genType)
			g = generator.Generator{}
		}
		g.Type = genType
		gen = &g
	}
	return rules, gen
}

func decodeIntegration(v map[string]interface{}, out interface{}) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

// extractValue handles header, query and path values, which may be a plain
// string or an integration matcher encoded as JSON.
func extractValue(value string) (string, *RuleList, *generator.Generator) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "{") {
		return value, nil, nil
	}
	var v map[string]interface{}
	if err := unmarshalNumber([]byte(trimmed), &v); err != nil || !isIntegration(v) {
		return value, nil, nil
	}
	rules, gen := integrationRules(v)
	example := ""
	switch ex := v["value"].(type) {
	case nil:
	case string:
		example = ex
	default:
		example = fmt.Sprintf("%v", ex)
	}
	return example, rules, gen
}

func unmarshalNumber(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// marshalJSON encodes without HTML escaping and without the trailing newline.
func marshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

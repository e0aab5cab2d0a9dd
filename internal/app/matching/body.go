package matching

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"

	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/pkg/errors"
)

// MatchBody compares bodies. Unexpected JSON keys are reported unless
// allowUnexpectedKeys is set, which is the case for responses.
func MatchBody(expected, actual *pact.HTTPPart, allowUnexpectedKeys bool) []Mismatch {
	switch expected.Body.State {
	case pact.BodyMissing:
		return nil
	case pact.BodyEmpty:
		if actual.Body.IsPresent() {
			return []Mismatch{{
				Type:     TypeBody,
				Path:     "$",
				Expected: "",
				Actual:   string(actual.Body.Content),
				Mismatch: fmt.Sprintf("Expected an empty body but received '%s'", truncate(actual.Body.Content)),
			}}
		}
		return nil
	}

	if !actual.Body.IsPresent() {
		return []Mismatch{{
			Type:     TypeBody,
			Path:     "$",
			Expected: string(expected.Body.Content),
			Mismatch: fmt.Sprintf("Expected body '%s' but was missing", truncate(expected.Body.Content)),
		}}
	}

	expectedType := expected.ContentType()
	declared := ""
	if values, ok := actual.Header("Content-Type"); ok && len(values) > 0 {
		declared = values[0]
	}

	m := &bodyMatcher{
		rules:               compileRules(expected.MatchingRules.Category(pact.CategoryBody)),
		category:            expected.MatchingRules.Category(pact.CategoryBody),
		allowUnexpectedKeys: allowUnexpectedKeys,
	}

	if rootRules, ok := m.category.Get("$"); ok && rootRules.Has("contentType") {
		m.matchContentType(rootRules, actual.Body.Content, declared)
		return m.mismatches
	}

	if declared != "" && pact.MediaType(declared) != pact.MediaType(expectedType) {
		return []Mismatch{{
			Type:     TypeBodyType,
			Expected: pact.MediaType(expectedType),
			Actual:   pact.MediaType(declared),
			Mismatch: fmt.Sprintf("Expected a body of '%s' but the actual content type was '%s'", pact.MediaType(expectedType), pact.MediaType(declared)),
		}}
	}

	actualType := declared
	if actualType == "" {
		actualType = expectedType
	}

	switch mediaType := pact.MediaType(expectedType); {
	case pact.IsJSON(expectedType):
		m.matchJSON(expected.Body.Content, actual.Body.Content)
	case mediaType == pact.MediaTypeMultipart:
		m.matchMultipart(expectedType, expected.Body.Content, actualType, actual.Body.Content)
	case mediaType == pact.MediaTypeForm:
		m.matchForm(expected.Body.Content, actual.Body.Content)
	default:
		m.matchRaw(expectedType, expected.Body.Content, actual.Body.Content)
	}
	return m.mismatches
}

type bodyMatcher struct {
	rules               []compiledRule
	category            *pact.RuleCategory
	allowUnexpectedKeys bool
	mismatches          []Mismatch
}

func (m *bodyMatcher) add(path string, expected, actual interface{}, mismatch string) {
	m.mismatches = append(m.mismatches, Mismatch{
		Type:     TypeBody,
		Path:     path,
		Expected: expected,
		Actual:   actual,
		Mismatch: mismatch,
	})
}

func (m *bodyMatcher) matchContentType(rules pact.RuleList, content []byte, declared string) {
	for _, rule := range rules.Rules {
		if rule.Match != "contentType" {
			continue
		}
		if !contentTypeMatches(rule.Value, content, declared) {
			actual := pact.MediaType(declared)
			if actual == "" {
				actual = pact.MediaType(pact.DetectContentType(content))
			}
			m.add("$", rule.Value, actual, fmt.Sprintf("Expected binary contents to have content type '%s' but detected contents was '%s'", rule.Value, actual))
		}
	}
}

func (m *bodyMatcher) matchJSON(expectedContent, actualContent []byte) {
	var expected, actual interface{}
	if err := decodeJSON(expectedContent, &expected); err != nil {
		m.add("$", string(expectedContent), string(actualContent), fmt.Sprintf("Failed to parse the expected body: %v", err))
		return
	}
	if err := decodeJSON(actualContent, &actual); err != nil {
		m.add("$", string(expectedContent), string(actualContent), fmt.Sprintf("Failed to parse the actual body: %v", err))
		return
	}
	m.compare(root, expected, actual)
}

func (m *bodyMatcher) compare(n node, expected, actual interface{}) {
	rules, exact, hasRules := selectRules(m.rules, n)

	switch e := expected.(type) {
	case map[string]interface{}:
		a, ok := actual.(map[string]interface{})
		if !ok {
			m.add(n.path, expected, actual, fmt.Sprintf("Type mismatch: Expected %s (%s) but received %s (%s)", describe(expected), kindOf(expected), describe(actual), kindOf(actual)))
			return
		}
		m.compareObject(n, e, a, hasRules && exact && rules.Has("values"))
	case []interface{}:
		a, ok := actual.([]interface{})
		if !ok {
			m.add(n.path, expected, actual, fmt.Sprintf("Type mismatch: Expected %s (%s) but received %s (%s)", describe(expected), kindOf(expected), describe(actual), kindOf(actual)))
			return
		}
		m.compareArray(n, e, a, rules, hasRules, exact)
	default:
		if hasRules {
			if err := matchRuleList(rules, expected, actual); err != nil {
				m.add(n.path, expected, actual, err.Error())
			}
			return
		}
		if !valuesEqual(expected, actual) {
			m.add(n.path, expected, actual, fmt.Sprintf("Expected %s but received %s", describe(expected), describe(actual)))
		}
	}
}

func (m *bodyMatcher) compareObject(n node, expected, actual map[string]interface{}, ignoreKeys bool) {
	if ignoreKeys {
		keys := sortedKeys(expected)
		if len(keys) == 0 {
			return
		}
		template := expected[keys[0]]
		for _, key := range sortedKeys(actual) {
			value, ok := expected[key]
			if !ok {
				value = template
			}
			m.compare(n.field(key), value, actual[key])
		}
		return
	}

	var missing []string
	for _, key := range sortedKeys(expected) {
		value, ok := actual[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		m.compare(n.field(key), expected[key], value)
	}
	if len(missing) > 0 {
		m.add(n.path, expected, actual, fmt.Sprintf("Actual map is missing the following keys: %s", strings.Join(missing, ", ")))
	}

	if m.allowUnexpectedKeys {
		return
	}
	var unexpected []string
	for _, key := range sortedKeys(actual) {
		if _, ok := expected[key]; !ok {
			unexpected = append(unexpected, key)
		}
	}
	if len(unexpected) > 0 {
		m.add(n.path, expected, actual, fmt.Sprintf("Actual map has unexpected keys: %s", strings.Join(unexpected, ", ")))
	}
}

func (m *bodyMatcher) compareArray(n node, expected, actual []interface{}, rules pact.RuleList, hasRules, exact bool) {
	if hasRules && exact && rules.Has("arrayContains") {
		for _, rule := range rules.Rules {
			if rule.Match == "arrayContains" {
				m.compareContains(n, expected, actual, rule.Variants)
			}
		}
		return
	}

	byTemplate := hasRules && rules.Has("type", "min", "max")

	if byTemplate && exact {
		for _, rule := range rules.Rules {
			if rule.Min != nil && len(actual) < *rule.Min {
				m.add(n.path, expected, actual, fmt.Sprintf("Expected %s to have minimum %d items", describe(actual), *rule.Min))
			}
			if rule.Max != nil && len(actual) > *rule.Max {
				m.add(n.path, expected, actual, fmt.Sprintf("Expected %s to have maximum %d items", describe(actual), *rule.Max))
			}
		}
	}

	if !byTemplate && len(expected) != len(actual) {
		m.add(n.path, expected, actual, fmt.Sprintf("Expected a List with %d elements but received %d elements", len(expected), len(actual)))
	}

	for i, value := range actual {
		switch {
		case i < len(expected):
			m.compare(n.index(i), expected[i], value)
		case byTemplate && len(expected) > 0:
			m.compare(n.index(i), expected[0], value)
		}
	}
}

// compareContains checks that every variant matches at least one actual
// element, in any order. Without variants each expected element is one.
func (m *bodyMatcher) compareContains(n node, expected, actual []interface{}, variants []pact.Variant) {
	if len(variants) == 0 {
		for i := range expected {
			variants = append(variants, pact.Variant{Index: i})
		}
	}
	for _, variant := range variants {
		if variant.Index < 0 || variant.Index >= len(expected) {
			m.add(n.path, expected, actual, fmt.Sprintf("arrayContains variant index %d is outside the expected list", variant.Index))
			continue
		}
		if !m.containsVariant(expected[variant.Index], actual, variant) {
			m.add(n.path, expected, actual, fmt.Sprintf("Variant at index %d (%s) was not found in the actual list", variant.Index, describe(expected[variant.Index])))
		}
	}
}

func (m *bodyMatcher) containsVariant(expected interface{}, actual []interface{}, variant pact.Variant) bool {
	category := variant.Category()
	for _, value := range actual {
		trial := &bodyMatcher{
			rules:               compileRules(category),
			category:            category,
			allowUnexpectedKeys: m.allowUnexpectedKeys,
		}
		trial.compare(root, expected, value)
		if len(trial.mismatches) == 0 {
			return true
		}
	}
	return false
}

type formPart struct {
	content     []byte
	contentType string
}

func readMultipart(contentType string, body []byte) (map[string]formPart, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, errors.Wrap(err, "invalid content type")
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, errors.New("no multipart boundary")
	}

	parts := map[string]formPart{}
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return parts, nil
		}
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(part)
		if err != nil {
			return nil, err
		}
		parts[part.FormName()] = formPart{content: content, contentType: part.Header.Get("Content-Type")}
	}
}

func (m *bodyMatcher) matchMultipart(expectedType string, expectedContent []byte, actualType string, actualContent []byte) {
	expected, err := readMultipart(expectedType, expectedContent)
	if err != nil {
		m.add("$", nil, nil, fmt.Sprintf("Failed to parse the expected multipart body: %v", err))
		return
	}
	actual, err := readMultipart(actualType, actualContent)
	if err != nil {
		m.add("$", nil, nil, fmt.Sprintf("Failed to parse the actual multipart body: %v", err))
		return
	}

	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := pact.Field("$", name)
		want := expected[name]
		got, ok := actual[name]
		if !ok {
			m.add(path, name, nil, fmt.Sprintf("Expected a multipart part named '%s' but was missing", name))
			continue
		}

		rules, hasRules := m.category.Get(path)
		switch {
		case hasRules && rules.Has("contentType"):
			for _, rule := range rules.Rules {
				if rule.Match == "contentType" && !contentTypeMatches(rule.Value, got.content, got.contentType) {
					m.add(path, rule.Value, got.contentType, fmt.Sprintf("Expected part '%s' to have content type '%s'", name, rule.Value))
				}
			}
		case hasRules:
			if err := matchRuleList(rules, string(want.content), string(got.content)); err != nil {
				m.add(path, string(want.content), string(got.content), err.Error())
			}
		case !bytes.Equal(want.content, got.content):
			m.add(path, string(want.content), string(got.content), fmt.Sprintf("Expected part '%s' to equal the expected content: %s", name, textDiff(string(want.content), string(got.content))))
		}
	}
}

func (m *bodyMatcher) matchForm(expectedContent, actualContent []byte) {
	expected, err := url.ParseQuery(string(expectedContent))
	if err != nil {
		m.add("$", string(expectedContent), string(actualContent), fmt.Sprintf("Failed to parse the expected form body: %v", err))
		return
	}
	actual, err := url.ParseQuery(string(actualContent))
	if err != nil {
		m.add("$", string(expectedContent), string(actualContent), fmt.Sprintf("Failed to parse the actual form body: %v", err))
		return
	}

	for _, name := range pact.SortedKeys(expected) {
		path := pact.Field("$", name)
		got, ok := actual[name]
		if !ok {
			m.add(path, expected[name], nil, fmt.Sprintf("Expected form field '%s' but was missing", name))
			continue
		}
		rules, hasRules := m.category.Get(path)
		for _, msg := range matchValues(rules, hasRules, expected[name], got) {
			m.add(path, expected[name], got, msg)
		}
	}
	if m.allowUnexpectedKeys {
		return
	}
	for _, name := range pact.SortedKeys(actual) {
		if _, ok := expected[name]; !ok {
			m.add(pact.Field("$", name), nil, actual[name], fmt.Sprintf("Unexpected form field '%s' received", name))
		}
	}
}

func (m *bodyMatcher) matchRaw(contentType string, expected, actual []byte) {
	if rules, ok := m.category.Get("$"); ok {
		if err := matchRuleList(rules, string(expected), string(actual)); err != nil {
			m.add("$", string(expected), string(actual), err.Error())
		}
		return
	}
	if bytes.Equal(expected, actual) {
		return
	}
	if pact.IsText(contentType) {
		m.add("$", string(expected), string(actual), fmt.Sprintf("Expected body '%s' to match '%s' using equality but did not match: %s", truncate(actual), truncate(expected), textDiff(string(expected), string(actual))))
		return
	}
	m.add("$", fmt.Sprintf("%d bytes", len(expected)), fmt.Sprintf("%d bytes", len(actual)), "Actual body does not match the expected binary body")
}

func decodeJSON(data []byte, v interface{}) error {
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

func sortedKeys(values map[string]interface{}) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(content []byte) string {
	const limit = 200
	if len(content) > limit {
		return string(content[:limit]) + "..."
	}
	return string(content)
}

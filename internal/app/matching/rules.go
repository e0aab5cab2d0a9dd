package matching

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/form3tech-oss/pact-mock-server/internal/app/generator"
	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type segment struct {
	field   string
	index   int
	isIndex bool
}

// node is a location inside a body, kept both as segments and in rendered form.
type node struct {
	segments []segment
	path     string
}

var root = node{path: "$"}

func (n node) field(name string) node {
	segments := append(append([]segment(nil), n.segments...), segment{field: name})
	return node{segments: segments, path: pact.Field(n.path, name)}
}

func (n node) index(i int) node {
	segments := append(append([]segment(nil), n.segments...), segment{index: i, isIndex: true})
	return node{segments: segments, path: pact.Index(n.path, i)}
}

type compiledRule struct {
	tokens []pact.PathToken
	rules  pact.RuleList
}

func compileRules(category *pact.RuleCategory) []compiledRule {
	var compiled []compiledRule
	for _, entry := range category.Entries() {
		tokens, err := pact.ParsePath(entry.Key)
		if err != nil {
			log.WithError(err).Warnf("ignoring matching rule with invalid path '%s'", entry.Key)
			continue
		}
		compiled = append(compiled, compiledRule{tokens: tokens, rules: entry.Rules})
	}
	return compiled
}

// weigh reports whether the rule path matches a prefix of the node, and how
// specific the match is. Exact tokens weigh 2, wildcards 1.
func weigh(tokens []pact.PathToken, segments []segment) (int, bool) {
	if len(tokens) == 0 || tokens[0].Kind != pact.TokenRoot || len(tokens)-1 > len(segments) {
		return 0, false
	}
	weight := 2
	for i, token := range tokens[1:] {
		seg := segments[i]
		switch {
		case token.Kind == pact.TokenField && !seg.isIndex && seg.field == token.Name:
			weight += 2
		case token.Kind == pact.TokenIndex && seg.isIndex && seg.index == token.Index:
			weight += 2
		case token.Kind == pact.TokenStar:
			weight++
		case token.Kind == pact.TokenStarIndex && seg.isIndex:
			weight++
		default:
			return 0, false
		}
	}
	return weight, true
}

// selectRules picks the rules that apply to n: the deepest matching path, then
// the most specific, then the last configured. exact is false when the rules
// were inherited from an ancestor.
func selectRules(compiled []compiledRule, n node) (rules pact.RuleList, exact bool, found bool) {
	bestDepth, bestWeight := -1, -1
	for _, c := range compiled {
		weight, ok := weigh(c.tokens, n.segments)
		if !ok {
			continue
		}
		depth := len(c.tokens)
		if depth > bestDepth || (depth == bestDepth && weight >= bestWeight) {
			rules, bestDepth, bestWeight = c.rules, depth, weight
		}
	}
	if bestDepth < 0 {
		return pact.RuleList{}, false, false
	}
	return rules, bestDepth-1 == len(n.segments), true
}

// matchRuleList applies every rule of the list, combined with AND or OR.
func matchRuleList(rules pact.RuleList, expected, actual interface{}) error {
	var failures []string
	for _, rule := range rules.Rules {
		err := matchRule(rule, expected, actual)
		switch {
		case err == nil && rules.IsOr():
			return nil
		case err != nil && !rules.IsOr():
			return err
		case err != nil:
			failures = append(failures, err.Error())
		}
	}
	if rules.IsOr() && len(failures) > 0 {
		return errors.New(strings.Join(failures, " or "))
	}
	return nil
}

func matchRule(rule pact.MatchingRule, expected, actual interface{}) error {
	switch rule.Match {
	case "equality":
		if !valuesEqual(expected, actual) {
			return errors.Errorf("Expected %s to be equal to %s", describe(actual), describe(expected))
		}
	case "regex":
		s, ok := asString(actual)
		if !ok || !generator.CheckRegex(rule.Regex, s) {
			return errors.Errorf("Expected %s to match '%s'", describe(actual), rule.Regex)
		}
	case "type", "min", "max":
		if kindOf(expected) != kindOf(actual) {
			return errors.Errorf("Expected %s (%s) to be the same type as %s (%s)", describe(actual), kindOf(actual), describe(expected), kindOf(expected))
		}
	case "timestamp", "datetime", "date", "time":
		s, ok := actual.(string)
		if !ok {
			return errors.Errorf("Expected %s to be a %s string", describe(actual), rule.Match)
		}
		format := rule.Format
		if format == "" {
			format = defaultFormat(rule.Match)
		}
		if _, err := generator.ParseDatetime(format, s); err != nil {
			return errors.Errorf("Expected '%s' to match a %s of '%s': %v", s, rule.Match, format, err)
		}
	case "include":
		s, ok := asString(actual)
		if !ok || !strings.Contains(s, rule.Value) {
			return errors.Errorf("Expected %s to include '%s'", describe(actual), rule.Value)
		}
	case "integer":
		if !isInteger(actual) {
			return errors.Errorf("Expected %s to be an integer", describe(actual))
		}
	case "decimal":
		if !isDecimal(actual) {
			return errors.Errorf("Expected %s to be a decimal number", describe(actual))
		}
	case "number":
		if !isNumber(actual) {
			return errors.Errorf("Expected %s to be a number", describe(actual))
		}
	case "boolean":
		switch v := actual.(type) {
		case bool:
		case string:
			if v != "true" && v != "false" {
				return errors.Errorf("Expected %s to be a boolean", describe(actual))
			}
		default:
			return errors.Errorf("Expected %s to be a boolean", describe(actual))
		}
	case "null":
		if actual != nil {
			return errors.Errorf("Expected %s to be null", describe(actual))
		}
	case "notEmpty":
		if isEmpty(actual) {
			return errors.Errorf("Expected %s to not be empty", describe(actual))
		}
	case "contentType":
		s, ok := asString(actual)
		if !ok || !contentTypeMatches(rule.Value, []byte(s), "") {
			return errors.Errorf("Expected content to have a content type of '%s'", rule.Value)
		}
	case "values", "statusCode", "arrayContains":
	default:
		return errors.Errorf("unsupported matcher '%s'", rule.Match)
	}
	return nil
}

func defaultFormat(kind string) string {
	switch kind {
	case "date":
		return generator.DefaultDateFormat
	case "time":
		return generator.DefaultTimeFormat
	}
	return generator.DefaultDateTimeFormat
}

// contentTypeMatches compares against the declared content type, then against
// the detected one.
func contentTypeMatches(expected string, content []byte, declared string) bool {
	want := pact.MediaType(expected)
	if declared != "" && pact.MediaType(declared) == want {
		return true
	}
	return pact.MediaType(pact.DetectContentType(content)) == want
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64, int:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

func isInteger(v interface{}) bool {
	switch n := v.(type) {
	case json.Number:
		return !strings.ContainsAny(n.String(), ".eE")
	case string:
		_, err := strconv.ParseInt(n, 10, 64)
		return err == nil
	case int:
		return true
	}
	return false
}

func isDecimal(v interface{}) bool {
	switch n := v.(type) {
	case json.Number:
		return strings.Contains(n.String(), ".")
	case string:
		_, err := strconv.ParseFloat(n, 64)
		return err == nil && strings.Contains(n, ".")
	case float64:
		return true
	}
	return false
}

func isNumber(v interface{}) bool {
	switch n := v.(type) {
	case json.Number, float64, int:
		return true
	case string:
		_, err := strconv.ParseFloat(n, 64)
		return err == nil
	}
	return false
}

func isEmpty(v interface{}) bool {
	switch n := v.(type) {
	case nil:
		return true
	case string:
		return n == ""
	case []interface{}:
		return len(n) == 0
	case map[string]interface{}:
		return len(n) == 0
	}
	return false
}

func valuesEqual(expected, actual interface{}) bool {
	e, eok := expected.(json.Number)
	a, aok := actual.(json.Number)
	if eok && aok {
		if e == a {
			return true
		}
		ef, err1 := e.Float64()
		af, err2 := a.Float64()
		return err1 == nil && err2 == nil && ef == af
	}
	return reflect.DeepEqual(expected, actual)
}

func describe(v interface{}) string {
	if s, ok := v.(string); ok {
		return "'" + s + "'"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

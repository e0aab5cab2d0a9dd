package matching

import (
	"fmt"
	"mime"
	"strings"

	"github.com/form3tech-oss/pact-mock-server/internal/app/pact"
)

// MatchRequest compares a received request with the request of an interaction.
// An empty result means the request matches.
//
// Unexpected headers and query parameters are ignored. In JSON bodies,
// unexpected keys are mismatches.
func MatchRequest(expected, actual *pact.Request) []Mismatch {
	var mismatches []Mismatch
	mismatches = append(mismatches, matchMethod(expected, actual)...)
	mismatches = append(mismatches, matchPath(expected, actual)...)
	mismatches = append(mismatches, matchQuery(expected, actual)...)
	mismatches = append(mismatches, MatchHeaders(&expected.HTTPPart, &actual.HTTPPart)...)
	mismatches = append(mismatches, MatchBody(&expected.HTTPPart, &actual.HTTPPart, false)...)
	return mismatches
}

// SameRoute reports whether the mismatches leave method and path untouched,
// i.e. the request was aimed at the interaction but differs in its details.
func SameRoute(mismatches []Mismatch) bool {
	for _, m := range mismatches {
		if m.Type == TypeMethod || m.Type == TypePath {
			return false
		}
	}
	return true
}

func matchMethod(expected, actual *pact.Request) []Mismatch {
	rules, ok := expected.MatchingRules.Category(pact.CategoryMethod).Get("")
	if ok && len(rules.Rules) > 0 {
		if err := matchRuleList(rules, expected.Method, actual.Method); err != nil {
			return []Mismatch{{Type: TypeMethod, Expected: expected.Method, Actual: actual.Method, Mismatch: err.Error()}}
		}
		return nil
	}
	if !strings.EqualFold(expected.Method, actual.Method) {
		return []Mismatch{{
			Type:     TypeMethod,
			Expected: strings.ToUpper(expected.Method),
			Actual:   strings.ToUpper(actual.Method),
			Mismatch: fmt.Sprintf("Expected method '%s' but received '%s'", strings.ToUpper(expected.Method), strings.ToUpper(actual.Method)),
		}}
	}
	return nil
}

func matchPath(expected, actual *pact.Request) []Mismatch {
	rules, ok := expected.MatchingRules.Category(pact.CategoryPath).Get("")
	if ok && len(rules.Rules) > 0 {
		if err := matchRuleList(rules, expected.Path, actual.Path); err != nil {
			return []Mismatch{{Type: TypePath, Expected: expected.Path, Actual: actual.Path, Mismatch: err.Error()}}
		}
		return nil
	}
	if expected.Path != actual.Path {
		return []Mismatch{{
			Type:     TypePath,
			Expected: expected.Path,
			Actual:   actual.Path,
			Mismatch: fmt.Sprintf("Expected path '%s' but received '%s'", expected.Path, actual.Path),
		}}
	}
	return nil
}

func matchQuery(expected, actual *pact.Request) []Mismatch {
	var mismatches []Mismatch
	category := expected.MatchingRules.Category(pact.CategoryQuery)

	for _, name := range pact.SortedKeys(expected.Query) {
		want := expected.Query[name]
		got, ok := actual.Query[name]
		if !ok {
			mismatches = append(mismatches, Mismatch{
				Type:      TypeQuery,
				Parameter: name,
				Expected:  want,
				Mismatch:  fmt.Sprintf("Expected query parameter '%s' but was missing", name),
			})
			continue
		}
		rules, hasRules := category.Get(name)
		for _, msg := range matchValues(rules, hasRules, want, got) {
			mismatches = append(mismatches, Mismatch{Type: TypeQuery, Parameter: name, Expected: want, Actual: got, Mismatch: msg})
		}
	}
	return mismatches
}

// MatchHeaders checks that every expected header is present with a matching value.
func MatchHeaders(expected, actual *pact.HTTPPart) []Mismatch {
	var mismatches []Mismatch
	category := expected.MatchingRules.Category(pact.CategoryHeader)

	for _, name := range pact.SortedKeys(expected.Headers) {
		want := expected.Headers[name]
		got, ok := actual.Header(name)
		if !ok {
			mismatches = append(mismatches, Mismatch{
				Type:     TypeHeader,
				Key:      name,
				Expected: strings.Join(want, ", "),
				Mismatch: fmt.Sprintf("Expected a header '%s' but was missing", name),
			})
			continue
		}

		rules, hasRules := category.GetFold(name)
		if !hasRules {
			want, got = splitHeader(want), splitHeader(got)
			if strings.EqualFold(name, "Content-Type") && len(want) == 1 && len(got) == 1 {
				if !sameMediaType(want[0], got[0]) {
					mismatches = append(mismatches, Mismatch{
						Type:     TypeHeader,
						Key:      name,
						Expected: want[0],
						Actual:   got[0],
						Mismatch: fmt.Sprintf("Expected header '%s' to have value '%s' but was '%s'", name, want[0], got[0]),
					})
				}
				continue
			}
		}

		for _, msg := range matchValues(rules, hasRules, want, got) {
			mismatches = append(mismatches, Mismatch{
				Type:     TypeHeader,
				Key:      name,
				Expected: strings.Join(want, ", "),
				Actual:   strings.Join(got, ", "),
				Mismatch: fmt.Sprintf("Mismatch with header '%s': %s", name, msg),
			})
		}
	}
	return mismatches
}

// matchValues compares multi-valued fields such as query parameters and headers.
func matchValues(rules pact.RuleList, hasRules bool, expected, actual []string) []string {
	var msgs []string
	if hasRules {
		for i, value := range actual {
			want := ""
			switch {
			case i < len(expected):
				want = expected[i]
			case len(expected) > 0:
				want = expected[0]
			}
			if err := matchRuleList(rules, want, value); err != nil {
				msgs = append(msgs, err.Error())
			}
		}
		return msgs
	}

	if len(expected) != len(actual) {
		msgs = append(msgs, fmt.Sprintf("Expected %s but received %s", describe(expected), describe(actual)))
	}
	for i := 0; i < len(expected) && i < len(actual); i++ {
		if expected[i] != actual[i] {
			msgs = append(msgs, fmt.Sprintf("Expected '%s' but received '%s'", expected[i], actual[i]))
		}
	}
	return msgs
}

func splitHeader(values []string) []string {
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			out = append(out, strings.TrimSpace(item))
		}
	}
	return out
}

// sameMediaType compares media types and the parameters the expected value declares.
func sameMediaType(expected, actual string) bool {
	wantType, wantParams, err1 := mime.ParseMediaType(expected)
	gotType, gotParams, err2 := mime.ParseMediaType(actual)
	if err1 != nil || err2 != nil {
		return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(actual))
	}
	if wantType != gotType {
		return false
	}
	for key, value := range wantParams {
		if !strings.EqualFold(gotParams[key], value) {
			return false
		}
	}
	return true
}

package generator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Generator types from the pact specification v3.
const (
	TypeRandomInt         = "RandomInt"
	TypeRandomDecimal     = "RandomDecimal"
	TypeRandomHexadecimal = "RandomHexadecimal"
	TypeRandomString      = "RandomString"
	TypeRandomBoolean     = "RandomBoolean"
	TypeRegex             = "Regex"
	TypeUUID              = "Uuid"
	TypeDate              = "Date"
	TypeTime              = "Time"
	TypeDateTime          = "DateTime"
	TypeProviderState     = "ProviderState"
	TypeMockServerURL     = "MockServerURL"
)

// MockServerURLKey is the state entry holding the base URL of the running mock server.
const MockServerURLKey = "mockServerURL"

var expressionPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Generator replaces an example value with a generated one when a response is served.
type Generator struct {
	Type       string `json:"type"`
	Min        *int   `json:"min,omitempty"`
	Max        *int   `json:"max,omitempty"`
	Digits     *int   `json:"digits,omitempty"`
	Size       *int   `json:"size,omitempty"`
	Regex      string `json:"regex,omitempty"`
	Format     string `json:"format,omitempty"`
	Expression string `json:"expression,omitempty"`
	DataType   string `json:"dataType,omitempty"`
	Example    string `json:"example,omitempty"`
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// Generate produces a value. The state holds provider state parameters used by
// ProviderState expressions.
func (g Generator) Generate(state map[string]interface{}) (interface{}, error) {
	switch g.Type {
	case TypeRandomInt:
		min, max := intOr(g.Min, 0), intOr(g.Max, 2147483647)
		if max < min {
			return nil, errors.Errorf("invalid RandomInt range %d..%d", min, max)
		}
		return min + rand.Intn(max-min+1), nil
	case TypeRandomDecimal:
		return json.Number(randomDecimal(intOr(g.Digits, 10))), nil
	case TypeRandomHexadecimal:
		return randomString(intOr(g.Digits, 10), "0123456789abcdef"), nil
	case TypeRandomString:
		return randomString(intOr(g.Size, 20), anyChars), nil
	case TypeRandomBoolean:
		return rand.Intn(2) == 0, nil
	case TypeRegex:
		return GenerateRegexValue(g.Regex)
	case TypeUUID:
		return formatUUID(uuid.New(), g.Format), nil
	case TypeDate, TypeTime, TypeDateTime:
		return g.generateDatetime(time.Now())
	case TypeProviderState:
		return evaluateExpression(g.Expression, state)
	case TypeMockServerURL:
		base, _ := state[MockServerURLKey].(string)
		return mockServerURL(g.Example, g.Regex, base)
	}
	return nil, errors.Errorf("unsupported generator type '%s'", g.Type)
}

// generateDatetime formats now, moved by the expression when there is one.
func (g Generator) generateDatetime(now time.Time) (string, error) {
	at, err := ResolveDateExpression(g.Expression, now)
	if err != nil {
		return "", err
	}
	format := DefaultDateTimeFormat
	switch g.Type {
	case TypeDate:
		format = DefaultDateFormat
	case TypeTime:
		format = DefaultTimeFormat
	}
	return FormatDatetime(formatOr(g.Format, format), at)
}

// mockServerURL rewrites example so that it points at the mock server. The
// first group of regex selects the part of the example to keep.
func mockServerURL(example, pattern, base string) (string, error) {
	if base == "" {
		return "", errors.New("MockServerURL generator used without a running mock server")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", errors.Wrapf(err, "invalid MockServerURL regex '%s'", pattern)
	}
	m := re.FindStringSubmatch(example)
	if len(m) < 2 {
		return "", errors.Errorf("MockServerURL regex '%s' does not match '%s'", pattern, example)
	}
	return strings.TrimSuffix(base, "/") + m[1], nil
}

func formatOr(format, def string) string {
	if format == "" {
		return def
	}
	return format
}

func formatUUID(id uuid.UUID, format string) string {
	switch format {
	case "simple":
		return strings.ReplaceAll(id.String(), "-", "")
	case "upper-case-hyphenated":
		return strings.ToUpper(id.String())
	case "URN":
		return id.URN()
	}
	return id.String()
}

func randomString(size int, alphabet string) string {
	b := make([]byte, size)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

func randomDecimal(digits int) string {
	if digits < 2 {
		digits = 2
	}
	integer := 1 + rand.Intn(digits-1)
	value := strconv.Itoa(1+rand.Intn(9)) + randomString(integer-1, "0123456789")
	return value + "." + randomString(digits-integer, "0123456789")
}

// evaluateExpression resolves ${name} placeholders against the provider state
// parameters. An expression made of a single placeholder keeps the type of the value.
func evaluateExpression(expression string, state map[string]interface{}) (interface{}, error) {
	if expression == "" {
		return nil, errors.New("ProviderState generator has no expression")
	}
	if !strings.Contains(expression, "${") {
		expression = "${" + expression + "}"
	}

	lookup := func(name string) (interface{}, error) {
		value, err := jsonpath.Get("$."+strings.TrimSpace(name), state)
		if err != nil {
			return nil, errors.Wrapf(err, "provider state has no value for '%s'", name)
		}
		return value, nil
	}

	if m := expressionPattern.FindStringSubmatch(expression); m != nil && m[0] == expression {
		return lookup(m[1])
	}

	var lookupErr error
	result := expressionPattern.ReplaceAllStringFunc(expression, func(placeholder string) string {
		value, err := lookup(placeholder[2 : len(placeholder)-1])
		if err != nil {
			lookupErr = err
			return placeholder
		}
		return fmt.Sprintf("%v", value)
	})
	if lookupErr != nil {
		return nil, lookupErr
	}
	return result, nil
}

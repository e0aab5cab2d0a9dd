package pact

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type TokenKind int

const (
	TokenRoot TokenKind = iota
	TokenField
	TokenIndex
	TokenStar
	TokenStarIndex
)

// PathToken is one step of a matching rule path such as $.items[*].id
type PathToken struct {
	Kind  TokenKind
	Name  string
	Index int
}

var identifier = regexp.MustCompile(`^[A-Za-z_$@][A-Za-z0-9_\-$@]*$`)

// ParsePath parses the JSON path subset used by pact matching rules.
func ParsePath(path string) ([]PathToken, error) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "$") {
		return nil, errors.Errorf("path '%s' does not start with '$'", path)
	}

	tokens := []PathToken{{Kind: TokenRoot}}
	for i := 1; i < len(path); {
		switch path[i] {
		case '.':
			i++
			start := i
			for i < len(path) && path[i] != '.' && path[i] != '[' {
				i++
			}
			name := path[start:i]
			switch name {
			case "":
				return nil, errors.Errorf("path '%s' has an empty field name", path)
			case "*":
				tokens = append(tokens, PathToken{Kind: TokenStar})
			default:
				tokens = append(tokens, PathToken{Kind: TokenField, Name: name})
			}
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, errors.Errorf("path '%s' has an unterminated '['", path)
			}
			inner := strings.TrimSpace(path[i+1 : i+end])
			if strings.HasPrefix(inner, "'") {
				// quoted field names may contain ']'
				closing := strings.Index(path[i+2:], "']")
				if closing < 0 {
					return nil, errors.Errorf("path '%s' has an unterminated quoted field", path)
				}
				tokens = append(tokens, PathToken{Kind: TokenField, Name: path[i+2 : i+2+closing]})
				i = i + 2 + closing + 2
				continue
			}
			switch inner {
			case "*":
				tokens = append(tokens, PathToken{Kind: TokenStarIndex})
			default:
				index, err := strconv.Atoi(inner)
				if err != nil || index < 0 {
					return nil, errors.Errorf("path '%s' has an invalid index '%s'", path, inner)
				}
				tokens = append(tokens, PathToken{Kind: TokenIndex, Index: index})
			}
			i += end + 1
		default:
			return nil, errors.Errorf("path '%s' has an unexpected character '%c'", path, path[i])
		}
	}
	return tokens, nil
}

// FormatPath renders tokens back into a rule path.
func FormatPath(tokens []PathToken) string {
	var sb strings.Builder
	for _, token := range tokens {
		switch token.Kind {
		case TokenRoot:
			sb.WriteString("$")
		case TokenField:
			sb.WriteString(fieldSuffix(token.Name))
		case TokenIndex:
			sb.WriteString("[" + strconv.Itoa(token.Index) + "]")
		case TokenStar:
			sb.WriteString(".*")
		case TokenStarIndex:
			sb.WriteString("[*]")
		}
	}
	return sb.String()
}

func fieldSuffix(name string) string {
	if identifier.MatchString(name) {
		return "." + name
	}
	return "['" + name + "']"
}

// Field appends a field step to a rendered path.
func Field(path, name string) string {
	return path + fieldSuffix(name)
}

// Index appends an index step to a rendered path.
func Index(path string, index int) string {
	return path + "[" + strconv.Itoa(index) + "]"
}

package generator

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultDateFormat     = "yyyy-MM-dd"
	DefaultTimeFormat     = "HH:mm:ss"
	DefaultDateTimeFormat = "yyyy-MM-dd'T'HH:mm:ss"
)

// dateToken is either a literal or a Go layout fragment.
type dateToken struct {
	literal string
	layout  string
	// fraction layouts are formatted with a leading '.' which is stripped again
	fraction bool
}

// DateFormat is a parsed Java style date/time pattern (yyyy-MM-dd'T'HH:mm:ss).
type DateFormat struct {
	pattern string
	tokens  []dateToken
}

// ParseDateFormat converts a Java DateTimeFormatter/SimpleDateFormat pattern.
func ParseDateFormat(pattern string) (*DateFormat, error) {
	f := &DateFormat{pattern: pattern}
	runes := []rune(pattern)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\'':
			literal, next, err := quotedLiteral(runes, i)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid date format %q", pattern)
			}
			f.tokens = append(f.tokens, dateToken{literal: literal})
			i = next
		case isPatternLetter(r):
			count := 1
			for i+count < len(runes) && runes[i+count] == r {
				count++
			}
			token, err := layoutFor(r, count, f.tokens)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid date format %q", pattern)
			}
			f.tokens = append(f.tokens, token)
			i += count
		default:
			f.tokens = append(f.tokens, dateToken{literal: string(r)})
			i++
		}
	}

	return f, nil
}

func quotedLiteral(runes []rune, start int) (string, int, error) {
	if start+1 < len(runes) && runes[start+1] == '\'' {
		return "'", start + 2, nil
	}

	var sb strings.Builder
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != '\'' {
			sb.WriteRune(runes[i])
			continue
		}
		if i+1 < len(runes) && runes[i+1] == '\'' {
			sb.WriteRune('\'')
			i++
			continue
		}
		return sb.String(), i + 1, nil
	}
	return "", 0, errors.New("unterminated quoted literal")
}

func isPatternLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func layoutFor(letter rune, count int, previous []dateToken) (dateToken, error) {
	pick := func(layouts ...string) dateToken {
		if count > len(layouts) {
			count = len(layouts)
		}
		return dateToken{layout: layouts[count-1]}
	}

	switch letter {
	case 'y', 'u':
		if count == 2 {
			return dateToken{layout: "06"}, nil
		}
		return dateToken{layout: "2006"}, nil
	case 'M', 'L':
		return pick("1", "01", "Jan", "January"), nil
	case 'd':
		return pick("2", "02"), nil
	case 'D':
		return dateToken{layout: "002"}, nil
	case 'H', 'k':
		return dateToken{layout: "15"}, nil
	case 'h', 'K':
		return pick("3", "03"), nil
	case 'm':
		return pick("4", "04"), nil
	case 's':
		return pick("5", "05"), nil
	case 'S':
		if count > 9 {
			return dateToken{}, errors.Errorf("too many fraction digits (%d)", count)
		}
		if len(previous) == 0 || (previous[len(previous)-1].literal != "." && previous[len(previous)-1].literal != ",") {
			return dateToken{}, errors.New("fraction of second must follow '.' or ','")
		}
		return dateToken{layout: "." + strings.Repeat("0", count), fraction: true}, nil
	case 'a':
		return dateToken{layout: "PM"}, nil
	case 'E':
		if count >= 4 {
			return dateToken{layout: "Monday"}, nil
		}
		return dateToken{layout: "Mon"}, nil
	case 'Z':
		if count >= 5 {
			return dateToken{layout: "-07:00"}, nil
		}
		return dateToken{layout: "-0700"}, nil
	case 'X':
		return pick("Z07", "Z0700", "Z07:00"), nil
	case 'x':
		return pick("-07", "-0700", "-07:00"), nil
	case 'z':
		return dateToken{layout: "MST"}, nil
	}
	return dateToken{}, errors.Errorf("unsupported pattern letter '%c'", letter)
}

// Format renders t using the pattern.
func (f *DateFormat) Format(t time.Time) string {
	var sb strings.Builder
	for _, token := range f.tokens {
		switch {
		case token.literal != "":
			sb.WriteString(token.literal)
		case token.fraction:
			sb.WriteString(t.Format(token.layout)[1:])
		default:
			sb.WriteString(t.Format(token.layout))
		}
	}
	return sb.String()
}

// Parse parses value according to the pattern.
func (f *DateFormat) Parse(value string) (time.Time, error) {
	var layout strings.Builder
	for _, token := range f.tokens {
		switch {
		case token.literal != "":
			layout.WriteString(token.literal)
		case token.fraction:
			layout.WriteString(token.layout[1:])
		default:
			layout.WriteString(token.layout)
		}
	}

	t, err := time.Parse(layout.String(), value)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "'%s' does not match the date format '%s'", value, f.pattern)
	}
	return t, nil
}

// GenerateDatetime formats the current time with a Java style pattern.
func GenerateDatetime(format string) (string, error) {
	return FormatDatetime(format, time.Now())
}

func FormatDatetime(format string, t time.Time) (string, error) {
	if format == "" {
		return "", errors.New("date format is empty")
	}
	f, err := ParseDateFormat(format)
	if err != nil {
		return "", err
	}
	return f.Format(t), nil
}

// ParseDatetime checks that value is a valid timestamp for format.
func ParseDatetime(format, value string) (time.Time, error) {
	f, err := ParseDateFormat(format)
	if err != nil {
		return time.Time{}, err
	}
	return f.Parse(value)
}

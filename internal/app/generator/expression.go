package generator

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var expressionToken = regexp.MustCompile(`[+-]|\d+|[a-z']+`)

// ResolveDateExpression moves base according to a date/time expression such as
// "today", "tomorrow 5pm", "now + 2 hours" or "yesterday @ midnight". An empty
// expression returns base unchanged.
func ResolveDateExpression(expression string, base time.Time) (time.Time, error) {
	text := strings.ToLower(strings.ReplaceAll(expression, "@", " "))
	if rest := strings.TrimSpace(expressionToken.ReplaceAllString(text, "")); rest != "" {
		return base, errors.Errorf("invalid date expression '%s': unexpected '%s'", expression, rest)
	}
	tokens := expressionToken.FindAllString(text, -1)

	t := base
	for i := 0; i < len(tokens); i++ {
		next := func() (string, error) {
			i++
			if i >= len(tokens) {
				return "", errors.Errorf("invalid date expression '%s': unexpected end", expression)
			}
			return tokens[i], nil
		}

		switch token := tokens[i]; token {
		case "now", "today":
		case "tomorrow":
			t = t.AddDate(0, 0, 1)
		case "yesterday":
			t = t.AddDate(0, 0, -1)
		case "midnight":
			t = atHour(t, 0)
		case "noon":
			t = atHour(t, 12)
		case "+", "-", "next", "last":
			amount := 1
			if token == "+" || token == "-" {
				number, err := next()
				if err != nil {
					return base, err
				}
				if amount, err = strconv.Atoi(number); err != nil {
					return base, errors.Errorf("invalid date expression '%s': expected a number after '%s'", expression, token)
				}
			}
			if token == "-" || token == "last" {
				amount = -amount
			}
			unit, err := next()
			if err != nil {
				return base, err
			}
			if t, err = addUnits(t, amount, unit); err != nil {
				return base, errors.Wrapf(err, "invalid date expression '%s'", expression)
			}
		default:
			hour, err := strconv.Atoi(token)
			if err != nil {
				return base, errors.Errorf("invalid date expression '%s': unknown word '%s'", expression, token)
			}
			suffix, err := next()
			if err != nil {
				return base, err
			}
			if hour, err = clockHour(hour, suffix); err != nil {
				return base, errors.Wrapf(err, "invalid date expression '%s'", expression)
			}
			t = atHour(t, hour)
		}
	}
	return t, nil
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

func clockHour(hour int, suffix string) (int, error) {
	switch suffix {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return 0, errors.Errorf("%d%s is not a valid hour", hour, suffix)
		}
		if suffix == "pm" {
			return hour%12 + 12, nil
		}
		return hour % 12, nil
	case "o'clock":
		if hour > 23 {
			return 0, errors.Errorf("%d o'clock is not a valid hour", hour)
		}
		return hour, nil
	}
	return 0, errors.Errorf("expected am, pm or o'clock after %d", hour)
}

func addUnits(t time.Time, amount int, unit string) (time.Time, error) {
	switch strings.TrimSuffix(unit, "s") {
	case "millisecond":
		return t.Add(time.Duration(amount) * time.Millisecond), nil
	case "second":
		return t.Add(time.Duration(amount) * time.Second), nil
	case "minute":
		return t.Add(time.Duration(amount) * time.Minute), nil
	case "hour":
		return t.Add(time.Duration(amount) * time.Hour), nil
	case "day":
		return t.AddDate(0, 0, amount), nil
	case "week":
		return t.AddDate(0, 0, 7*amount), nil
	case "fortnight":
		return t.AddDate(0, 0, 14*amount), nil
	case "month":
		return t.AddDate(0, amount, 0), nil
	case "year":
		return t.AddDate(amount, 0, 0), nil
	}
	return t, errors.Errorf("unknown unit '%s'", unit)
}

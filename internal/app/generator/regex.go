package generator

import (
	"math/rand"
	"regexp"
	"regexp/syntax"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
)

const (
	maxRepeat   = 10
	maxAttempts = 20
	anyChars    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var regexCache sync.Map

// CompileAnchored compiles pattern so that it has to match the whole input.
// Compiled expressions are cached as the same rules are evaluated for every request.
func CompileAnchored(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, errors.Wrapf(err, "invalid regex %q", pattern)
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// CheckRegex reports whether example fully matches pattern.
func CheckRegex(pattern, example string) bool {
	re, err := CompileAnchored(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(example)
}

// GenerateRegexValue returns a random string that satisfies pattern.
func GenerateRegexValue(pattern string) (string, error) {
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return "", errors.Wrapf(err, "invalid regex %q", pattern)
	}
	parsed = parsed.Simplify()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var sb strings.Builder
		if !generate(&sb, parsed) {
			break
		}
		if value := sb.String(); CheckRegex(pattern, value) {
			return value, nil
		}
	}

	return "", errors.Errorf("unable to generate a value that matches regex %q", pattern)
}

// generate writes a candidate for re into sb. It returns false when re can never match.
func generate(sb *strings.Builder, re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpNoMatch:
		return false
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine,
		syntax.OpBeginText, syntax.OpEndText, syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return true
	case syntax.OpLiteral:
		for _, r := range re.Rune {
			if re.Flags&syntax.FoldCase != 0 && rand.Intn(2) == 0 {
				if unicode.IsUpper(r) {
					r = unicode.ToLower(r)
				} else {
					r = unicode.ToUpper(r)
				}
			}
			sb.WriteRune(r)
		}
		return true
	case syntax.OpCharClass:
		r, ok := randomFromClass(re.Rune)
		if !ok {
			return false
		}
		sb.WriteRune(r)
		return true
	case syntax.OpAnyCharNotNL, syntax.OpAnyChar:
		sb.WriteByte(anyChars[rand.Intn(len(anyChars))])
		return true
	case syntax.OpCapture:
		return generate(sb, re.Sub[0])
	case syntax.OpStar:
		return repeat(sb, re.Sub[0], 0, maxRepeat)
	case syntax.OpPlus:
		return repeat(sb, re.Sub[0], 1, 1+maxRepeat)
	case syntax.OpQuest:
		return repeat(sb, re.Sub[0], 0, 1)
	case syntax.OpRepeat:
		max := re.Max
		if max < 0 {
			max = re.Min + maxRepeat
		}
		return repeat(sb, re.Sub[0], re.Min, max)
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if !generate(sb, sub) {
				return false
			}
		}
		return true
	case syntax.OpAlternate:
		return generate(sb, re.Sub[rand.Intn(len(re.Sub))])
	}
	return false
}

func repeat(sb *strings.Builder, re *syntax.Regexp, min, max int) bool {
	count := min
	if max > min {
		count += rand.Intn(max - min + 1)
	}
	for i := 0; i < count; i++ {
		if !generate(sb, re) {
			return false
		}
	}
	return true
}

// randomFromClass picks a rune from the [lo, hi] pairs of a character class,
// preferring printable ASCII so generated examples stay readable.
func randomFromClass(ranges []rune) (rune, bool) {
	if len(ranges) == 0 {
		return 0, false
	}

	var printable []rune
	for i := 0; i+1 < len(ranges); i += 2 {
		lo, hi := ranges[i], ranges[i+1]
		if lo < 0x21 {
			lo = 0x21
		}
		if hi > 0x7e {
			hi = 0x7e
		}
		if lo <= hi {
			printable = append(printable, lo, hi)
		}
	}
	if len(printable) > 0 {
		ranges = printable
	}

	total := 0
	for i := 0; i+1 < len(ranges); i += 2 {
		total += int(ranges[i+1]-ranges[i]) + 1
	}
	n := rand.Intn(total)
	for i := 0; i+1 < len(ranges); i += 2 {
		size := int(ranges[i+1]-ranges[i]) + 1
		if n < size {
			return ranges[i] + rune(n), true
		}
		n -= size
	}
	return ranges[0], true
}

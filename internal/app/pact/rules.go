package pact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Matching rule categories.
const (
	CategoryMethod = "method"
	CategoryPath   = "path"
	CategoryQuery  = "query"
	CategoryHeader = "header"
	CategoryBody   = "body"
	CategoryStatus = "status"
)

// MatchingRule is one matcher, e.g. {"match": "regex", "regex": "\\d+"}.
type MatchingRule struct {
	Match  string `json:"match"`
	Regex  string `json:"regex,omitempty"`
	Min    *int   `json:"min,omitempty"`
	Max    *int   `json:"max,omitempty"`
	Format string `json:"format,omitempty"`
	Value  string `json:"value,omitempty"`

	// Variants is only set for arrayContains.
	Variants []Variant `json:"variants,omitempty"`
}

// Variant is one element an arrayContains matcher looks for. Index points into
// the expected array and Rules paths are relative to that element.
type Variant struct {
	Index int                 `json:"index"`
	Rules map[string]RuleList `json:"rules"`
}

// Category returns the variant rules ordered by path.
func (v Variant) Category() *RuleCategory {
	category := &RuleCategory{}
	for _, path := range SortedKeys(v.Rules) {
		category.Set(path, v.Rules[path])
	}
	return category
}

// UnmarshalJSON accepts both v3 rules and the shorter v2 forms ({"regex": "..."}, {"min": 1}).
func (r *MatchingRule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Match     string      `json:"match"`
		Regex     string      `json:"regex"`
		Min       *int        `json:"min"`
		Max       *int        `json:"max"`
		Format    string      `json:"format"`
		Timestamp string      `json:"timestamp"`
		Date      string      `json:"date"`
		Time      string      `json:"time"`
		Value     interface{} `json:"value"`
		Variants  []Variant   `json:"variants"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "invalid matching rule")
	}

	*r = MatchingRule{Match: raw.Match, Regex: raw.Regex, Min: raw.Min, Max: raw.Max, Variants: raw.Variants}
	for _, format := range []string{raw.Format, raw.Timestamp, raw.Date, raw.Time} {
		if format != "" {
			r.Format = format
			break
		}
	}
	switch v := raw.Value.(type) {
	case nil:
	case string:
		r.Value = v
	default:
		r.Value = fmt.Sprintf("%v", v)
	}

	if r.Match == "" {
		switch {
		case raw.Regex != "":
			r.Match = "regex"
		case raw.Timestamp != "":
			r.Match = "timestamp"
		case raw.Date != "":
			r.Match = "date"
		case raw.Time != "":
			r.Match = "time"
		default:
			r.Match = "type"
		}
	}
	return nil
}

// RuleList is the set of matchers that apply at one path.
type RuleList struct {
	Rules   []MatchingRule `json:"matchers"`
	Combine string         `json:"combine,omitempty"`
}

func (l RuleList) MarshalJSON() ([]byte, error) {
	combine := strings.ToUpper(l.Combine)
	if combine == "" {
		combine = "AND"
	}
	rules := l.Rules
	if rules == nil {
		rules = []MatchingRule{}
	}
	return json.Marshal(struct {
		Rules   []MatchingRule `json:"matchers"`
		Combine string         `json:"combine"`
	}{Rules: rules, Combine: combine})
}

// UnmarshalJSON normalises combine to AND or OR, defaulting to AND.
func (l *RuleList) UnmarshalJSON(data []byte) error {
	var raw struct {
		Rules   []MatchingRule `json:"matchers"`
		Combine string         `json:"combine"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = RuleList{Rules: raw.Rules, Combine: normaliseCombine(raw.Combine)}
	return nil
}

func normaliseCombine(combine string) string {
	if strings.EqualFold(combine, "OR") {
		return "OR"
	}
	return "AND"
}

func (l RuleList) IsOr() bool {
	return strings.EqualFold(l.Combine, "OR")
}

// Has reports whether any matcher in the list is one of the given kinds.
func (l RuleList) Has(kinds ...string) bool {
	for _, rule := range l.Rules {
		for _, kind := range kinds {
			if rule.Match == kind {
				return true
			}
		}
	}
	return false
}

// RuleEntry associates a rule list with a path (body), a name (headers, query)
// or the empty key (path, method, status).
type RuleEntry struct {
	Key   string
	Rules RuleList
}

// RuleCategory keeps entries in configuration order.
type RuleCategory struct {
	entries []RuleEntry
}

// Set replaces the rules at key. The entry becomes the most recently configured one.
func (c *RuleCategory) Set(key string, rules RuleList) {
	for i, entry := range c.entries {
		if entry.Key == key {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
	c.entries = append(c.entries, RuleEntry{Key: key, Rules: rules})
}

func (c *RuleCategory) Get(key string) (RuleList, bool) {
	if c == nil {
		return RuleList{}, false
	}
	for _, entry := range c.entries {
		if entry.Key == key {
			return entry.Rules, true
		}
	}
	return RuleList{}, false
}

// GetFold looks a key up ignoring case, as used for header names.
func (c *RuleCategory) GetFold(key string) (RuleList, bool) {
	if c == nil {
		return RuleList{}, false
	}
	var found RuleList
	ok := false
	for _, entry := range c.entries {
		if strings.EqualFold(entry.Key, key) {
			found, ok = entry.Rules, true
		}
	}
	return found, ok
}

func (c *RuleCategory) Entries() []RuleEntry {
	if c == nil {
		return nil
	}
	return c.entries
}

func (c *RuleCategory) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// MatchingRules groups rule categories. The zero value is ready to use.
type MatchingRules struct {
	categories map[string]*RuleCategory
}

func (m *MatchingRules) Category(name string) *RuleCategory {
	if m.categories == nil {
		return nil
	}
	return m.categories[name]
}

// AddCategory returns the named category, creating it when missing.
func (m *MatchingRules) AddCategory(name string) *RuleCategory {
	if m.categories == nil {
		m.categories = map[string]*RuleCategory{}
	}
	category, ok := m.categories[name]
	if !ok {
		category = &RuleCategory{}
		m.categories[name] = category
	}
	return category
}

func (m *MatchingRules) Set(category, key string, rules RuleList) {
	m.AddCategory(category).Set(key, rules)
}

func (m *MatchingRules) IsEmpty() bool {
	for _, category := range m.categories {
		if category.Len() > 0 {
			return false
		}
	}
	return true
}

func (m *MatchingRules) Clone() MatchingRules {
	clone := MatchingRules{}
	for name, category := range m.categories {
		copied := clone.AddCategory(name)
		for _, entry := range category.entries {
			rules := RuleList{Combine: entry.Rules.Combine, Rules: append([]MatchingRule(nil), entry.Rules.Rules...)}
			copied.entries = append(copied.entries, RuleEntry{Key: entry.Key, Rules: rules})
		}
	}
	return clone
}

func singleKeyCategory(name string) bool {
	return name == CategoryPath || name == CategoryMethod || name == CategoryStatus
}

// MarshalJSON writes the v3 representation.
func (m MatchingRules) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for name, category := range m.categories {
		if category.Len() == 0 {
			continue
		}
		if singleKeyCategory(name) {
			rules, _ := category.Get("")
			out[name] = rules
			continue
		}
		keyed := map[string]RuleList{}
		for _, entry := range category.entries {
			keyed[entry.Key] = entry.Rules
		}
		out[name] = keyed
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads v2 ("$.body.name": {...}) and v3 ("body": {"$.name": {"matchers": [...]}}) rules.
func (m *MatchingRules) UnmarshalJSON(data []byte) error {
	entries, err := decodeOrdered(data)
	if err != nil {
		return errors.Wrap(err, "invalid matching rules")
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Key, "$") {
			if err := m.addV2Rule(entry.Key, entry.Value); err != nil {
				return err
			}
			continue
		}
		if err := m.addV3Category(entry.Key, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

func (m *MatchingRules) addV2Rule(key string, data json.RawMessage) error {
	var rule MatchingRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return errors.Wrapf(err, "invalid matching rule for '%s'", key)
	}
	rules := RuleList{Rules: []MatchingRule{rule}, Combine: normaliseCombine("")}

	switch {
	case key == "$.body" || strings.HasPrefix(key, "$.body.") || strings.HasPrefix(key, "$.body["):
		m.Set(CategoryBody, "$"+strings.TrimPrefix(key, "$.body"), rules)
	case strings.HasPrefix(key, "$.headers."):
		m.Set(CategoryHeader, normaliseKey(strings.TrimPrefix(key, "$.headers.")), rules)
	case strings.HasPrefix(key, "$.header."):
		m.Set(CategoryHeader, normaliseKey(strings.TrimPrefix(key, "$.header.")), rules)
	case strings.HasPrefix(key, "$.query."):
		m.Set(CategoryQuery, normaliseKey(strings.TrimPrefix(key, "$.query.")), rules)
	case key == "$.path":
		m.Set(CategoryPath, "", rules)
	case key == "$.method":
		m.Set(CategoryMethod, "", rules)
	default:
		return errors.Errorf("unsupported matching rule path '%s'", key)
	}
	return nil
}

func (m *MatchingRules) addV3Category(name string, data json.RawMessage) error {
	entries, err := decodeOrdered(data)
	if err != nil {
		return errors.Wrapf(err, "invalid '%s' matching rules", name)
	}

	if hasKey(entries, "matchers") {
		var rules RuleList
		if err := json.Unmarshal(data, &rules); err != nil {
			return errors.Wrapf(err, "invalid '%s' matching rules", name)
		}
		m.Set(name, "", rules)
		return nil
	}

	for _, entry := range entries {
		var rules RuleList
		if err := json.Unmarshal(entry.Value, &rules); err != nil {
			return errors.Wrapf(err, "invalid '%s' matching rules for '%s'", name, entry.Key)
		}
		key := entry.Key
		switch name {
		case CategoryBody:
			if !strings.HasPrefix(key, "$") {
				key = "$." + key
			}
		default:
			key = normaliseKey(key)
		}
		m.Set(name, key, rules)
	}
	return nil
}

// normaliseKey strips JSON path decoration from header and query keys: $.name, $['name'].
func normaliseKey(key string) string {
	key = strings.TrimPrefix(key, "$.")
	if strings.HasPrefix(key, "$['") && strings.HasSuffix(key, "']") {
		key = key[3 : len(key)-2]
	}
	return key
}

func hasKey(entries []orderedEntry, key string) bool {
	for _, entry := range entries {
		if entry.Key == key {
			return true
		}
	}
	return false
}

type orderedEntry struct {
	Key   string
	Value json.RawMessage
}

// decodeOrdered decodes a JSON object keeping the order of its keys.
func decodeOrdered(data []byte) ([]orderedEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("expected a JSON object")
	}

	var entries []orderedEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errors.New("expected an object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		entries = append(entries, orderedEntry{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return entries, nil
}

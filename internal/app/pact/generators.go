package pact

import (
	"encoding/json"
	"strings"

	"github.com/form3tech-oss/pact-mock-server/internal/app/generator"
	"github.com/pkg/errors"
)

// Generators holds generators per category, keyed like matching rules.
// The path and status categories use the empty key.
type Generators struct {
	categories map[string]map[string]generator.Generator
}

func (g *Generators) Set(category, key string, gen generator.Generator) {
	if g.categories == nil {
		g.categories = map[string]map[string]generator.Generator{}
	}
	if g.categories[category] == nil {
		g.categories[category] = map[string]generator.Generator{}
	}
	g.categories[category][key] = gen
}

func (g *Generators) Category(name string) map[string]generator.Generator {
	if g.categories == nil {
		return nil
	}
	return g.categories[name]
}

func (g *Generators) IsEmpty() bool {
	for _, category := range g.categories {
		if len(category) > 0 {
			return false
		}
	}
	return true
}

func (g *Generators) Clone() Generators {
	clone := Generators{}
	for name, category := range g.categories {
		for key, gen := range category {
			clone.Set(name, key, gen)
		}
	}
	return clone
}

func (g Generators) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for name, category := range g.categories {
		if len(category) == 0 {
			continue
		}
		if singleKeyCategory(name) {
			out[name] = category[""]
			continue
		}
		out[name] = category
	}
	return json.Marshal(out)
}

func (g *Generators) UnmarshalJSON(data []byte) error {
	var categories map[string]json.RawMessage
	if err := json.Unmarshal(data, &categories); err != nil {
		return errors.Wrap(err, "invalid generators")
	}

	for name, raw := range categories {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return errors.Wrapf(err, "invalid '%s' generators", name)
		}

		if _, single := probe["type"]; single && singleKeyCategory(name) {
			var gen generator.Generator
			if err := json.Unmarshal(raw, &gen); err != nil {
				return errors.Wrapf(err, "invalid '%s' generator", name)
			}
			g.Set(name, "", gen)
			continue
		}

		for key, value := range probe {
			var gen generator.Generator
			if err := json.Unmarshal(value, &gen); err != nil {
				return errors.Wrapf(err, "invalid '%s' generator for '%s'", name, key)
			}
			if name == CategoryBody && !strings.HasPrefix(key, "$") {
				key = "$." + key
			}
			g.Set(name, key, gen)
		}
	}
	return nil
}

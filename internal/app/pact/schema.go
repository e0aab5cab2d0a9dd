package pact

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed pact.schema.json
var pactSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compileSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		if err := compiler.AddResource("pact.schema.json", bytes.NewReader([]byte(pactSchema))); err != nil {
			schemaErr = errors.Wrap(err, "failed to add pact schema")
			return
		}
		compiledSchema, schemaErr = compiler.Compile("pact.schema.json")
	})
	return compiledSchema, schemaErr
}

// Validate checks a pact document against the pact JSON schema.
func Validate(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "invalid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return errors.New(firstCause(validationErr).Error())
		}
		return err
	}
	return nil
}

// firstCause descends to the innermost validation error, which names the offending location.
func firstCause(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

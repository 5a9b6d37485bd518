// Package schema holds the embedded JSON Schema for livequery.yml and
// validates configuration documents against it.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/grovetools/livequery/errors"
)

//go:embed livequery.embedded.schema.json
var embeddedSchemaData []byte

const schemaURL = "livequery.json"

// EmbeddedSchema returns a copy of the embedded schema document.
func EmbeddedSchema() []byte {
	return bytes.Clone(embeddedSchemaData)
}

// Validator checks configuration documents against the embedded schema.
type Validator struct {
	schema *jsonschema.Schema
}

var (
	shared     *Validator
	sharedErr  error
	sharedOnce sync.Once
)

// NewValidator compiles the embedded schema. The compiled schema is shared
// by every caller.
func NewValidator() (*Validator, error) {
	sharedOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(embeddedSchemaData)); err != nil {
			sharedErr = errors.Wrap(err, errors.ErrCodeInternal, "embedded schema is unreadable")
			return
		}
		s, err := compiler.Compile(schemaURL)
		if err != nil {
			sharedErr = errors.Wrap(err, errors.ErrCodeInternal, "embedded schema does not compile")
			return
		}
		shared = &Validator{schema: s}
	})
	return shared, sharedErr
}

// Validate checks doc, which may be any JSON-encodable value. Violations are
// reported as one CONFIG_INVALID error listing each failing location.
func (v *Validator) Validate(doc interface{}) error {
	// Round trip through JSON so YAML and TOML decoder types become plain
	// JSON values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "configuration is not JSON-encodable")
	}
	var plain interface{}
	if err := json.Unmarshal(raw, &plain); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "configuration is not JSON-encodable")
	}

	err = v.schema.Validate(plain)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "schema validation failed")
	}
	violations := leafViolations(verr, nil)
	sort.Strings(violations)
	return errors.ConfigInvalid("schema validation failed:\n"+strings.Join(violations, "\n")).
		WithDetail("violations", violations)
}

// leafViolations flattens the cause tree, keeping entries that name an
// instance location.
func leafViolations(e *jsonschema.ValidationError, out []string) []string {
	if e.InstanceLocation != "" {
		out = append(out, fmt.Sprintf("- %s: %s", e.InstanceLocation, e.Message))
	}
	for _, c := range e.Causes {
		out = leafViolations(c, out)
	}
	return out
}

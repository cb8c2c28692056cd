package workflow

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const catalogSchemaURL = "catalog.schema.json"

const catalogSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["code", "label", "order_index", "workflow_type"],
        "properties": {
          "code": {"type": "string", "minLength": 1},
          "label": {"type": "string", "minLength": 1},
          "order_index": {"type": "integer", "minimum": 0},
          "workflow_type": {"enum": ["acquereur", "vendeur"]},
          "is_automatic": {"type": "boolean"},
          "send_email": {"type": "boolean"},
          "email_subject": {"type": "string"},
          "email_body": {"type": "string"},
          "email_recipients": {
            "type": "array",
            "items": {"enum": ["acquereur", "vendeur", "bo"]},
            "uniqueItems": true
          },
          "delay_days": {"type": "integer", "minimum": 0}
        },
        "additionalProperties": false
      }
    }
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func catalogSchemaCompiled() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(catalogSchemaURL, strings.NewReader(catalogSchema)); err != nil {
			compileErr = err
			return
		}
		compiledSchema, compileErr = compiler.Compile(catalogSchemaURL)
	})
	return compiledSchema, compileErr
}

// ValidateCatalog checks a decoded catalog document against the catalog schema.
func ValidateCatalog(doc interface{}) error {
	schema, err := catalogSchemaCompiled()
	if err != nil {
		return fmt.Errorf("compile catalog schema: %w", err)
	}
	value, err := toJSONValue(doc)
	if err != nil {
		return fmt.Errorf("normalize catalog: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}
	return nil
}

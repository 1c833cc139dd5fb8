package credential

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const hashPattern = "^[0-9a-f]{64}$"

const valueSchema = `{
  "type": "object",
  "required": ["type", "value"],
  "properties": {
    "type": {"enum": ["int", "string"]}
  }
}`

var presentationSchema = mustSchema(`{
  "type": "object",
  "required": ["revealed", "signature", "signerPublicKey"],
  "properties": {
    "signature": {"type": "string"},
    "signerPublicKey": {"type": "string"},
    "revealed": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["value", "proof"],
        "properties": {
          "value": ` + valueSchema + `,
          "proof": {
            "type": "object",
            "required": ["root", "leaf", "siblings"],
            "properties": {
              "root": {"type": "string", "pattern": "` + hashPattern + `"},
              "leaf": {"type": "string", "pattern": "` + hashPattern + `"},
              "siblings": {"type": "array", "items": {"type": "string", "pattern": "` + hashPattern + `"}}
            }
          }
        }
      }
    }
  }
}`)

var bundleSchema = mustSchema(`{
  "type": "object",
  "required": ["pod", "issuerPk"],
  "properties": {
    "issuerPk": {"type": "string"},
    "pod": {
      "type": "object",
      "required": ["entries", "signature", "signerPublicKey"],
      "properties": {
        "entries": {"type": "object", "additionalProperties": ` + valueSchema + `},
        "signature": {"type": "string"},
        "signerPublicKey": {"type": "string"}
      }
    }
  }
}`)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("compile JSON schema: %v", err))
	}

	return schema
}

type validationErrors []gojsonschema.ResultError

func (e validationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, msg := range e {
		msgs[i] = msg.String()
	}

	return "[" + strings.Join(msgs, "; ") + "]"
}

func validate(schema *gojsonschema.Schema, data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %v", ErrParse, validationErrors(result.Errors()))
	}

	return nil
}

func validatePresentation(data []byte) error { return validate(presentationSchema, data) }

func validateBundle(data []byte) error { return validate(bundleSchema, data) }

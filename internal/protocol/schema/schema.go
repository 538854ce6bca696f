package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Envelope field names on the wire.
const (
	FieldType          = "type"
	FieldData          = "data"
	FieldChannel       = "channel"
	FieldExtensionName = "extensionName"
)

// envelopeSchema is the JSON Schema every inbound frame body must satisfy.
// Unknown properties are ignored so peers may carry extra metadata.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "channel": {"type": ["string", "null"]},
    "extensionName": {"type": ["string", "null"]}
  }
}`

var (
	compileOnce sync.Once
	compiled    *gojsonschema.Schema
	compileErr  error
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: envelope: %s", e.Reason)
	}
	return fmt.Sprintf("schema: envelope field=%s: %s", e.Field, e.Reason)
}

func envelope() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	})
	return compiled, compileErr
}

// ValidateEnvelope checks one frame body against the envelope schema and
// returns the first violation as a ValidationError.
func ValidateEnvelope(body []byte) error {
	s, err := envelope()
	if err != nil {
		return fmt.Errorf("schema: compile envelope: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return ValidationError{Reason: err.Error()}
	}
	if result.Valid() {
		return nil
	}
	errs := result.Errors()
	first := errs[0]
	field := first.Field()
	if field == "(root)" {
		if p, ok := first.Details()["property"].(string); ok {
			field = p
		} else {
			field = ""
		}
	}
	details := make([]string, 0, len(errs))
	for _, desc := range errs {
		details = append(details, desc.Description())
	}
	log.Debug().Str("field", field).Int("violations", len(errs)).Msg("schema.ValidateEnvelope rejected frame")
	return ValidationError{Field: field, Reason: strings.Join(details, "; ")}
}

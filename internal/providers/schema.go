package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"weft/internal/services"
)

//go:embed schema/result.json
var resultSchemaJSON []byte

//go:embed schema/advice.json
var adviceSchemaJSON []byte

var (
	resultSchemaOnce sync.Once
	resultSchema     *jsonschema.Schema
	resultSchemaErr  error

	adviceSchemaOnce sync.Once
	adviceSchema     *jsonschema.Schema
	adviceSchemaErr  error
)

func compiledResultSchema() (*jsonschema.Schema, error) {
	resultSchemaOnce.Do(func() {
		resultSchema, resultSchemaErr = compileSchema("result.json", resultSchemaJSON)
	})
	return resultSchema, resultSchemaErr
}

func compiledAdviceSchema() (*jsonschema.Schema, error) {
	adviceSchemaOnce.Do(func() {
		adviceSchema, adviceSchemaErr = compileSchema("advice.json", adviceSchemaJSON)
	})
	return adviceSchema, adviceSchemaErr
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return compiler.Compile(name)
}

// ParseResult decodes and validates a model's content string into a Result.
// Failures carry a payload snippet and classify as schema errors so the job
// fails instead of retrying a response the model already malformed.
func ParseResult(content string) (*Result, error) {
	var doc any
	if err := DecodeModelJSON(content, &doc); err != nil {
		return nil, services.Wrap(services.ErrSchema, "translate", "decode response", "", err)
	}

	schema, err := compiledResultSchema()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "translate", "compile schema", "", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, services.Wrap(services.ErrSchema, "translate", "validate response",
			fmt.Sprintf("payload snippet: %s", payloadSnippet(content)), err)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, services.Wrap(services.ErrSchema, "translate", "normalize response", "", err)
	}
	var result Result
	if err := json.Unmarshal(normalized, &result); err != nil {
		return nil, services.Wrap(services.ErrSchema, "translate", "decode result", "", err)
	}
	return normalizeResult(&result, content), nil
}

// ParseAdvice decodes and validates a model's advice payload.
func ParseAdvice(content string) (*Advice, error) {
	var doc any
	if err := DecodeModelJSON(content, &doc); err != nil {
		return nil, services.Wrap(services.ErrSchema, "advice", "decode response", "", err)
	}

	schema, err := compiledAdviceSchema()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "advice", "compile schema", "", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, services.Wrap(services.ErrSchema, "advice", "validate response",
			fmt.Sprintf("payload snippet: %s", payloadSnippet(content)), err)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, services.Wrap(services.ErrSchema, "advice", "normalize response", "", err)
	}
	var advice Advice
	if err := json.Unmarshal(normalized, &advice); err != nil {
		return nil, services.Wrap(services.ErrSchema, "advice", "decode advice", "", err)
	}

	options := advice.Options[:0]
	for _, option := range advice.Options {
		if trimmed := strings.TrimSpace(option); trimmed != "" {
			options = append(options, trimmed)
		}
	}
	advice.Options = options
	if len(advice.Options) == 0 {
		return nil, services.Wrap(services.ErrSchema, "advice", "validate response",
			fmt.Sprintf("no usable options (payload snippet: %s)", payloadSnippet(content)), nil)
	}
	advice.Message = strings.TrimSpace(advice.Message)
	advice.Raw = content
	return &advice, nil
}

package llm

import (
	"encoding/json"
	"fmt"

	"github.com/alexanderramin/blueprint/internal/extract"
)

// SchemaValidator validates a parsed struct after JSON extraction.
// Returns nil if valid, or a descriptive error if invalid.
type SchemaValidator[T any] func(T) error

// ExtractJSON extracts a JSON value of type T from raw LLM text output.
// It handles markdown code fences, leading/trailing text, nested braces and
// top-level arrays. If validator is non-nil, the extracted value is validated
// before return.
func ExtractJSON[T any](raw string, validator SchemaValidator[T]) (T, error) {
	var zero T

	block, ok := extract.CleanJSON(raw)
	if !ok {
		return zero, fmt.Errorf("%w: no JSON value found in response", ErrInvalidOutput)
	}

	var result T
	if err := json.Unmarshal([]byte(block), &result); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	if validator != nil {
		if err := validator(result); err != nil {
			return zero, fmt.Errorf("%w: validation failed: %v", ErrInvalidOutput, err)
		}
	}

	return result, nil
}

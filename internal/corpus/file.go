package corpus

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

// LoadFile reads a JSON corpus file of the form {"entries":[{"text":..,"source":..}]}.
// The document is validated against the embedded schema before decoding.
func LoadFile(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes a JSON corpus document.
func Parse(data []byte) (Static, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("corpus.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("corpus.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("corpus does not match schema: %w", err)
	}

	var doc struct {
		Entries []Entry `json:"entries"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	return Static(doc.Entries), nil
}

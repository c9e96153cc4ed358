package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/annotations/annotations"
)

// readDocument reads a JSON or YAML file into generic Go values.
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func readDocument(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read file", err)
	}

	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to decode %s", path), err)
		}
	default:
		doc, err = annotations.DecodeJSON(data)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to decode %s", path), err)
		}
	}
	return doc, nil
}

// loadDefinitions reads a file holding one annotation object or a list of them.
func loadDefinitions(path string) ([]any, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	if list, ok := doc.([]any); ok {
		return list, nil
	}
	return []any{doc}, nil
}

// loadEvent reads a file holding a single event object.
func loadEvent(path string) (annotations.Event, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	switch m := doc.(type) {
	case map[string]any:
		return annotations.Event(m), nil
	case map[any]any:
		event := make(annotations.Event, len(m))
		for k, v := range m {
			key, ok := k.(string)
			if !ok {
				return nil, NewExitError(ExitCommandError, fmt.Sprintf("event field name %v is not a string", k))
			}
			event[key] = v
		}
		return event, nil
	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("event in %s must be an object, got %T", path, doc))
	}
}

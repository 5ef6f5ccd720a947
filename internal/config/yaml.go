package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// detectFormat picks the decoder from the extension. Files without a known
// extension are JSON when they start with '{' and YAML otherwise.
func detectFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	}
	if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '{' {
		return formatJSON
	}
	return formatYAML
}

// coerceToJSONBytes converts YAML input to JSON so both formats share the
// strict decoder, which then rejects unknown keys with the JSON field path.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	format := detectFormat(path, data)
	if format == formatJSON {
		return data, format, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		// yaml.v3 errors already carry "line N:"
		return nil, format, fmt.Errorf("yaml config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, format, fmt.Errorf("yaml config: convert to json: %w", err)
	}
	return out, format, nil
}

// stringKeys rewrites map[any]any (non-string YAML keys such as `1:`) into
// map[string]any, which encoding/json can marshal.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = stringKeys(e)
		}
		return m
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	}
	return v
}

// Package loader reads rule-pack documents off the filesystem, validates
// them against the embedded JSON Schema, decodes them into static
// definitions, and registers any Lua-defined helper functions shipped
// alongside the pack.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lockpick/tracker/internal/engine"
	"github.com/lockpick/tracker/pkg/gamedef"
)

// Result is a loaded rule pack plus the registry populated for it.
type Result struct {
	Pack     *gamedef.Pack
	Raw      json.RawMessage
	Registry *engine.Registry
}

// LoadPack reads and validates a rule-pack JSON document. If a helpers.lua
// file sits next to the pack, its functions are registered as helpers.
func LoadPack(path string, log *slog.Logger) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule pack %s: %w", path, err)
	}

	if err := ValidateDocument(data); err != nil {
		return nil, fmt.Errorf("rule pack %s: %w", filepath.Base(path), err)
	}

	var pack gamedef.Pack
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("decoding rule pack %s: %w", path, err)
	}

	registry := engine.NewRegistry()
	luaPath := filepath.Join(filepath.Dir(path), "helpers.lua")
	if _, err := os.Stat(luaPath); err == nil {
		n, err := RegisterLuaHelpers(registry, luaPath)
		if err != nil {
			return nil, fmt.Errorf("loading helpers from %s: %w", luaPath, err)
		}
		log.Info("registered lua helpers", "file", luaPath, "count", n)
	}

	if err := pack.Validate(registry.HelperNames()); err != nil {
		return nil, fmt.Errorf("rule pack %s: %w", filepath.Base(path), err)
	}

	return &Result{Pack: &pack, Raw: data, Registry: registry}, nil
}

// ValidateDocument checks a rule-pack document against the embedded schema.
func ValidateDocument(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("document is not valid JSON")
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rulepack.schema.json", strings.NewReader(packSchema)); err != nil {
		return fmt.Errorf("loading embedded schema: %w", err)
	}
	schema, err := compiler.Compile("rulepack.schema.json")
	if err != nil {
		return fmt.Errorf("compiling embedded schema: %w", err)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// packSchema constrains the pack envelope. Rule trees are left open-shaped
// here ("type" is the only required node field); structural rule errors are
// caught by decode and referential checks, where the messages are better.
const packSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["game", "items", "regions", "locations"],
  "properties": {
    "game": {"type": "string", "minLength": 1},
    "version": {"type": "string"},
    "items": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "max": {"type": "integer", "minimum": 0}
        }
      }
    },
    "groups": {
      "type": "object",
      "additionalProperties": {"type": "array", "items": {"type": "string"}}
    },
    "regions": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "start": {"type": "boolean"},
          "exits": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["to"],
              "properties": {
                "to": {"type": "string"},
                "rule": {"$ref": "#/$defs/rule"}
              }
            }
          }
        }
      }
    },
    "locations": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["region"],
        "properties": {
          "name": {"type": "string"},
          "region": {"type": "string"},
          "rule": {"$ref": "#/$defs/rule"}
        }
      }
    },
    "settings": {"type": "object"}
  },
  "$defs": {
    "rule": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string", "minLength": 1}
      }
    }
  }
}`

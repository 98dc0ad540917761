// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// parseArguments turns command-line words into message arguments.
// Each word that is valid JSON (comments allowed) becomes the decoded
// value, with integral numbers as int64; anything else is a string.
// With raw set every word stays a string.
func parseArguments(words []string, raw bool) []any {
	args := make([]any, len(words))
	for index, word := range words {
		if raw {
			args[index] = word
			continue
		}
		args[index] = parseArgument(word)
	}
	return args
}

func parseArgument(word string) any {
	trimmed := strings.TrimSpace(word)
	if trimmed == "" {
		return word
	}
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON([]byte(trimmed))))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil || decoder.More() {
		return word
	}
	return normalizeNumbers(value)
}

func normalizeNumbers(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if integer, err := typed.Int64(); err == nil {
			return integer
		}
		float, _ := typed.Float64()
		return float
	case []any:
		for index := range typed {
			typed[index] = normalizeNumbers(typed[index])
		}
		return typed
	case map[string]any:
		for key := range typed {
			typed[key] = normalizeNumbers(typed[key])
		}
		return typed
	default:
		return value
	}
}

// formatArguments renders arguments as one JSON array for output.
func formatArguments(args []any) string {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(jsonSafe(args))
	if err != nil {
		return fmt.Sprint(args...)
	}
	return string(encoded)
}

// jsonSafe converts values decoded from the wire that encoding/json
// cannot marshal, such as maps with non-string keys.
func jsonSafe(value any) any {
	switch typed := value.(type) {
	case []any:
		converted := make([]any, len(typed))
		for index, element := range typed {
			converted[index] = jsonSafe(element)
		}
		return converted
	case map[string]any:
		converted := make(map[string]any, len(typed))
		for key, element := range typed {
			converted[key] = jsonSafe(element)
		}
		return converted
	case map[any]any:
		converted := make(map[string]any, len(typed))
		for key, element := range typed {
			converted[fmt.Sprint(key)] = jsonSafe(element)
		}
		return converted
	default:
		return value
	}
}

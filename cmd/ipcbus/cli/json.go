// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"io"
	"os"
	"reflect"
)

// JSONOutput adds --json output to a command. Bind OutputJSON to a
// flag and call EmitJSON before any text formatting.
type JSONOutput struct {
	OutputJSON bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// AddFlag registers --json on flagSet.
func (j *JSONOutput) AddFlag(flagSet interface {
	BoolVar(*bool, string, bool, string)
}) {
	flagSet.BoolVar(&j.OutputJSON, "json", false, "output as JSON")
}

// EmitJSON writes result as indented JSON if --json is set and reports
// whether it did. Nil slices are written as [].
func (j *JSONOutput) EmitJSON(result any) (bool, error) {
	if !j.OutputJSON {
		return false, nil
	}
	output := j.Output
	if output == nil {
		output = os.Stdout
	}
	return true, WriteJSON(output, normalizeNilSlice(result))
}

// WriteJSON writes value to w as indented JSON.
func WriteJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Bus payloads never use non-string map keys, and untyped
		// arguments must be usable as map[string]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored so
// older peers accept envelopes from newer ones.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, usable as a field type to
// delay decoding.
type RawMessage = cbor.RawMessage

// Convert copies src into the value pointed to by dst by encoding and
// re-decoding it. Use it to turn an argument decoded generically
// (map[string]any, int64, []any) into a concrete struct.
func Convert(src, dst any) error {
	data, err := Marshal(src)
	if err != nil {
		return fmt.Errorf("codec: encoding %T: %w", src, err)
	}
	if err := Unmarshal(data, dst); err != nil {
		return fmt.Errorf("codec: decoding into %T: %w", dst, err)
	}
	return nil
}

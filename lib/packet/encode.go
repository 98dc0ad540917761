// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packet

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/bureau-foundation/ipcbus/lib/codec"
)

// RawObject is a pre-encoded CBOR value. Appending a RawObject writes
// it as an object frame without re-encoding.
type RawObject []byte

// Encode returns the frame for a single value. See [Append] for the
// mapping from Go values to frame types.
func Encode(value any) ([]byte, error) {
	return Append(nil, value)
}

// EncodeArray returns an array frame holding one element frame per
// value.
func EncodeArray(values ...any) ([]byte, error) {
	return AppendArray(nil, values...)
}

// Append appends the frame for value to dst and returns the extended
// slice.
//
//   - string: string frame (UTF-8 bytes)
//   - []byte: buffer frame
//   - bool: boolean frame
//   - signed, unsigned and floating point numbers: number frame
//   - []any: array frame
//   - RawObject: object frame carrying the bytes verbatim
//   - anything else (maps, structs, pointers, nil): object frame with
//     the CBOR encoding of the value
func Append(dst []byte, value any) ([]byte, error) {
	switch typed := value.(type) {
	case string:
		return appendSized(dst, TypeString, []byte(typed)), nil
	case []byte:
		return appendSized(dst, TypeBuffer, typed), nil
	case bool:
		var flag byte
		if typed {
			flag = 1
		}
		return append(dst, headerSeparator, byte(TypeBoolean), flag, footerSeparator), nil
	case int:
		return appendNumber(dst, strconv.FormatInt(int64(typed), 10)), nil
	case int8:
		return appendNumber(dst, strconv.FormatInt(int64(typed), 10)), nil
	case int16:
		return appendNumber(dst, strconv.FormatInt(int64(typed), 10)), nil
	case int32:
		return appendNumber(dst, strconv.FormatInt(int64(typed), 10)), nil
	case int64:
		return appendNumber(dst, strconv.FormatInt(typed, 10)), nil
	case uint:
		return appendNumber(dst, strconv.FormatUint(uint64(typed), 10)), nil
	case uint8:
		return appendNumber(dst, strconv.FormatUint(uint64(typed), 10)), nil
	case uint16:
		return appendNumber(dst, strconv.FormatUint(uint64(typed), 10)), nil
	case uint32:
		return appendNumber(dst, strconv.FormatUint(uint64(typed), 10)), nil
	case uint64:
		return appendNumber(dst, strconv.FormatUint(typed, 10)), nil
	case float32:
		return appendNumber(dst, formatFloat(float64(typed), 32)), nil
	case float64:
		return appendNumber(dst, formatFloat(typed, 64)), nil
	case []any:
		return AppendArray(dst, typed...)
	case RawObject:
		return appendSized(dst, TypeObject, typed), nil
	default:
		encoded, err := codec.Marshal(value)
		if err != nil {
			return dst, fmt.Errorf("encoding %T as object: %w", value, err)
		}
		return appendSized(dst, TypeObject, encoded), nil
	}
}

// AppendArray appends an array frame whose content is the element
// frames of values, in order.
func AppendArray(dst []byte, values ...any) ([]byte, error) {
	start := len(dst)
	dst = append(dst, headerSeparator, byte(TypeArray), 0, 0, 0, 0)
	for index, value := range values {
		var err error
		dst, err = Append(dst, value)
		if err != nil {
			return dst[:start], fmt.Errorf("array element %d: %w", index, err)
		}
	}
	dst = append(dst, footerSeparator)
	size := len(dst) - start
	if size > MaxPacketSize {
		return dst[:start], fmt.Errorf("array frame of %d bytes exceeds maximum %d", size, MaxPacketSize)
	}
	binary.LittleEndian.PutUint32(dst[start+markerLength:start+SizedHeaderLength], uint32(size))
	return dst, nil
}

// formatFloat keeps a decimal point (or exponent) in the text so that
// integral floats decode as float64 rather than int64.
func formatFloat(value float64, bitSize int) string {
	text := strconv.FormatFloat(value, 'g', -1, bitSize)
	if !strings.ContainsAny(text, ".eEnN") {
		text += ".0"
	}
	return text
}

func appendNumber(dst []byte, text string) []byte {
	return appendSized(dst, TypeNumber, []byte(text))
}

func appendSized(dst []byte, bufferType BufferType, content []byte) []byte {
	var header [SizedHeaderLength]byte
	header[0] = headerSeparator
	header[1] = byte(bufferType)
	binary.LittleEndian.PutUint32(header[markerLength:], uint32(SizedHeaderLength+len(content)+FooterLength))
	dst = append(dst, header[:]...)
	dst = append(dst, content...)
	return append(dst, footerSeparator)
}

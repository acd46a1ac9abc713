// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2). Depmap
// node files and action digests are hashed over these bytes, so the
// same logical value must always encode identically.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields.
var decMode cbor.DecMode

// strictMode rejects unknown fields, duplicate map keys and
// indefinite-length items. Content-addressed records decode through
// it: a record that would not re-encode to the same bytes is damaged.
var strictMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Hashes serialize through MarshalText as "sha256:..." strings.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decOptions := cbor.DecOptions{
		// any-typed targets decode maps as map[string]any so the
		// result is usable with encoding/json in CLI output.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}
	decMode, err = decOptions.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}

	decOptions.DupMapKey = cbor.DupMapKeyEnforcedAPF
	decOptions.IndefLength = cbor.IndefLengthForbidden
	decOptions.ExtraReturnErrors = cbor.ExtraDecErrorUnknownField
	strictMode, err = decOptions.DecMode()
	if err != nil {
		panic("codec: strict CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// UnmarshalStrict decodes CBOR data into v, failing on unknown
// fields, duplicate keys, indefinite-length items, and trailing
// bytes.
func UnmarshalStrict(data []byte, v any) error {
	return strictMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value. Decoding into a RawMessage
// defers parsing of that value, which is how node headers are read
// without touching the tree payload.
type RawMessage = cbor.RawMessage

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for
// data. "depot depmap show --raw" uses it to dump node records.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

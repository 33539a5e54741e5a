// Package codec is the CBOR wire codec for topic payloads.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// message always produces identical bytes. Unknown fields are ignored on
// decode so producers can add fields without breaking this bridge.
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
	// Enumerations implementing encoding.TextMarshaler travel as their
	// names rather than as integers.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	// Scans and map graphs can carry long arrays.
	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler:  cbor.TextUnmarshalerTextString,
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("codec: empty payload")
	}
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation of data, for logging
// undecodable payloads.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

// Package codec encodes stored history records as CBOR.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so identical
// records produce identical bytes, which lets the store detect no-op
// writes by comparing blobs. Types carry json tags only; fxamacker/cbor
// falls back to them, so omitempty keeps absent optional fields absent
// and an explicit false or 0 survives a round trip.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
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

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the CBOR diagnostic notation of data, for debug logs.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

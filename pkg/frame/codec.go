// Package frame encodes and decodes framed messages: a 4-byte big-endian
// length followed by exactly one CBOR data item.
//
// Decoding is written for input produced by an untrusted process. It works
// on a complete byte slice with an explicit budget, never streams, rejects
// anything but one well-formed item, and reports failures with tagged errors.
package frame

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// RawMessage is a raw encoded CBOR value, used to delay decoding of arguments
// and results to the typed entry point.
type RawMessage = cbor.RawMessage

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("frame: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		MaxNestedLevels:   32,
		MaxArrayElements:  1 << 17,
		MaxMapPairs:       1 << 17,
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("frame: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR without a frame header
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal strictly decodes exactly one CBOR item from data into v
func Unmarshal(data []byte, v any) error {
	rest, err := decMode.UnmarshalFirst(data, v)
	if err != nil {
		return classify(err)
	}
	if len(rest) > 0 {
		return trailing(len(rest))
	}
	return nil
}

// classify tags a CBOR decode error
func classify(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	var extra *cbor.ExtraneousDataError
	if errors.As(err, &extra) {
		return fmt.Errorf("%w: %v", ErrTrailingData, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

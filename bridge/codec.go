package bridge

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bridge: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		MaxNestedLevels:  16,
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("bridge: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Marshal encodes v with the boundary encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes boundary-encoded data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// OK encodes a successful Result envelope holding v.
func OK(v any) ([]byte, error) {
	payload, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return Marshal(Result{OK: payload})
}

// Failed encodes a Result envelope carrying a provider error message.
func Failed(msg string) []byte {
	data, err := Marshal(Result{Error: msg})
	if err != nil {
		// a struct of one string always encodes
		panic(err)
	}
	return data
}

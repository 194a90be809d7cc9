// Package canon produces the canonical byte representation of an entity
// descriptor used both for content-addressed hashing and for the message
// signed by an auth chain. Canonicalization follows RFC 8785 (JSON
// Canonicalization Scheme).
package canon

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Bytes returns the RFC 8785 canonical JSON encoding of v.
//
// v is first marshaled with the standard encoding/json (so struct tags and
// custom MarshalJSON methods are honored), then re-serialized into JCS
// form: object keys sorted by UTF-16 code unit, no insignificant
// whitespace, numbers in their shortest round-tripping form.
func Bytes(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	transformed, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canon: jcs transform: %w", err)
	}
	return transformed, nil
}

// String is Bytes rendered as a string, for logging and message signing.
func String(v interface{}) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

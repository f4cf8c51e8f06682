package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"streamscraper/pkg/errors"
)

// Decoder checks a record before it is persisted
type Decoder func(record []byte) error

// JSONDecoder accepts well-formed JSON values
func JSONDecoder(record []byte) error {
	if !json.Valid(record) {
		return errors.New(errors.ErrorTypeDecode, "record is not valid JSON")
	}
	return nil
}

// RawDecoder accepts every non-blank line
func RawDecoder([]byte) error {
	return nil
}

// DecoderFor maps the session.decode setting onto a Decoder
func DecoderFor(name string) (Decoder, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONDecoder, nil
	case "raw":
		return RawDecoder, nil
	default:
		return nil, fmt.Errorf("unknown decode mode %q", name)
	}
}

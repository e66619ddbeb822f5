package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is one decoded JSON object. Numbers are kept as json.Number so
// integer columns do not lose precision through float64.
type Record map[string]any

// EachRecord decodes a stream of JSON objects (newline-delimited or simply
// concatenated) and calls fn for each one. Non-object values are an error.
func EachRecord(r io.Reader, fn func(Record) error) (int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	n := 0
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("decode record %d: %w", n+1, err)
		}

		var rec Record
		if err := decodeObject(raw, &rec); err != nil {
			return n, fmt.Errorf("decode record %d: %w", n+1, err)
		}
		if err := fn(rec); err != nil {
			return n, err
		}
		n++
	}
}

func decodeObject(raw json.RawMessage, rec *Record) error {
	if len(raw) == 0 || raw[0] != '{' {
		return errors.New("value is not a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(rec)
}

// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// ErrFloat is returned when the value to encode contains a number that
// is not representable as an integer. Floats have no canonical form.
var ErrFloat = errors.New("canonical: floating-point numbers cannot be encoded")

// Encode serializes v into its canonical JSON form.
//
// v is first marshaled with encoding/json (honoring json struct tags
// and custom marshalers), then re-emitted with sorted object keys and
// NFC-normalized strings. Any non-integer number fails with ErrFloat.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	return Transform(raw)
}

// Transform rewrites an existing JSON document into canonical form.
// The input must be a single valid JSON value.
func Transform(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	if dec.More() {
		return nil, errors.New("canonical: trailing data after JSON value")
	}

	var buf bytes.Buffer
	if err := write(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func write(w *bytes.Buffer, v any) error {
	switch v := v.(type) {
	case nil:
		w.WriteString("null")
	case bool:
		if v {
			w.WriteString("true")
		} else {
			w.WriteString("false")
		}
	case json.Number:
		return writeNumber(w, v)
	case string:
		return writeString(w, v)
	case []any:
		w.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				w.WriteByte(',')
			}
			if err := write(w, elem); err != nil {
				return err
			}
		}
		w.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				w.WriteByte(',')
			}
			if err := writeString(w, k); err != nil {
				return err
			}
			w.WriteByte(':')
			if err := write(w, v[k]); err != nil {
				return err
			}
		}
		w.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported value of type %T", v)
	}
	return nil
}

func writeNumber(w *bytes.Buffer, n json.Number) error {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		w.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		w.WriteString(strconv.FormatUint(u, 10))
		return nil
	}
	return ErrFloat
}

func writeString(w *bytes.Buffer, s string) error {
	enc := json.NewEncoder(discardNewline{w})
	enc.SetEscapeHTML(false)
	return enc.Encode(norm.NFC.String(s))
}

// discardNewline drops the trailing newline json.Encoder emits after
// every value.
type discardNewline struct {
	w io.Writer
}

func (d discardNewline) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 && p[len(p)-1] == '\n' {
		p = p[:len(p)-1]
	}
	if len(p) > 0 {
		if _, err := d.w.Write(p); err != nil {
			return 0, err
		}
	}
	return n, nil
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalRecord produces the stored encoding of a record: sorted keys, no
// whitespace, numbers kept as literal text. Strings are written byte for
// byte, so ids and payloads read back exactly as they were given.
func MarshalRecord(v any) ([]byte, error) {
	return encoder{}.marshal(v)
}

// MarshalCanonical is MarshalRecord with every string and key NFC
// normalized. Use it to compare values, never to store them.
//
// Structs and other Go values are first encoded with encoding/json and then
// re-decoded (with json.Number) so the output is independent of struct field
// order and map iteration order.
func MarshalCanonical(v any) ([]byte, error) {
	return encoder{nfc: true}.marshal(v)
}

// encoder writes sorted-key JSON. nfc selects Unicode normalization of
// strings.
type encoder struct {
	nfc bool
}

func (e encoder) marshal(v any) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	return e.value(generic)
}

// toGeneric converts v to the decoded-JSON value space: nil, bool, string,
// json.Number, []any and map[string]any.
func toGeneric(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, json.Number, []any, map[string]any:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: encode %T: %w", v, err)
	}
	return decodeGeneric(raw)
}

func decodeGeneric(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	return out, nil
}

func (e encoder) value(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case string:
		return e.str(val)
	case json.Number:
		if !json.Valid([]byte(val)) {
			return nil, fmt.Errorf("invalid number literal %q", string(val))
		}
		return []byte(val), nil
	case float64:
		return json.Marshal(val)
	case []any:
		return e.array(val)
	case map[string]any:
		return e.object(val)
	default:
		generic, err := toGeneric(val)
		if err != nil {
			return nil, err
		}
		return e.value(generic)
	}
}

// str encodes s without HTML escaping. U+2028 and U+2029 are left literal.
func (e encoder) str(s string) ([]byte, error) {
	if e.nfc {
		s = norm.NFC.String(s)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return unescapeLineSeparators(out), nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes emitted by
// encoding/json back into literal characters. An escape preceded by an odd
// number of backslashes is literal text and stays as is.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+6 <= len(data) && data[i] == '\\' && bytes.HasPrefix(data[i+1:], []byte("u202")) &&
			(data[i+5] == '8' || data[i+5] == '9') {
			backslashes := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				backslashes++
			}
			if backslashes%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

func (e encoder) array(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := e.value(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (e encoder) object(obj map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range sortedKeys(obj) {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := e.str(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := e.value(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// sortedKeys orders keys by UTF-16 code units. sort.Strings compares UTF-8
// bytes, which orders supplementary-plane characters differently.
func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	return slices.Compare(ua, ub)
}

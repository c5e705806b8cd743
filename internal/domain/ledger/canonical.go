package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Canonicalize produces a deterministic serialization of a payload tree.
// Map keys are emitted in code point order, sequence order is preserved, and
// scalars use strict JSON encoding with no whitespace. Two semantically equal
// trees always serialize to identical bytes, which is what makes stored
// hashes re-verifiable.
//
// Supported values are nil, bool, strings, Go integer and float types,
// []any, and map[string]any. NaN and infinities are rejected rather than
// silently hashed.
func Canonicalize(v any) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case map[string]any:
		return writeObject(b, val)
	case []any:
		return writeArray(b, val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("canonicalize: non-finite number %v", val)
		}
	case float32:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("canonicalize: non-finite number %v", f)
		}
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}

	// Scalars defer to encoding/json for escaping and number formatting so
	// the output matches what any strict JSON implementation would produce.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}
	b.Write(data)
	return nil
}

func writeObject(b *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("canonicalize: key %q: %w", k, err)
		}
		b.Write(keyJSON)
		b.WriteByte(':')
		if err := writeCanonical(b, m[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeArray(b *strings.Builder, a []any) error {
	b.WriteByte('[')
	for i, item := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeCanonical(b, item); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

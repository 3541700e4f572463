// Package plan builds the versioned plan artifact consumed by external SQL
// emitters and routing engines, with deterministic SHA-256 fingerprints over
// canonical JSON so identical decision content always hashes identically.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// CanonicalJSON marshals obj deterministically: object keys sorted, no
// extraneous whitespace, floats rounded to ndigits. Input key ordering never
// affects the output bytes.
func CanonicalJSON(obj any, ndigits int) ([]byte, error) {
	norm, err := normalize(obj, ndigits)
	if err != nil {
		return nil, err
	}
	return marshalCanonical(norm)
}

// normalize round-trips obj through encoding/json into generic values and
// rounds every float, so struct, map and scalar inputs all canonicalize the
// same way.
func normalize(obj any, ndigits int) (any, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("plan: marshal for canonicalization: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("plan: unmarshal for canonicalization: %w", err)
	}
	return roundFloats(generic, ndigits), nil
}

func roundFloats(v any, ndigits int) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return t
		}
		scale := math.Pow10(ndigits)
		return math.Round(t*scale) / scale
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = roundFloats(val, ndigits)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = roundFloats(val, ndigits)
		}
		return out
	default:
		return v
	}
}

// marshalCanonical writes generic JSON values with sorted keys and compact
// separators. encoding/json already sorts map keys; this keeps the property
// explicit and avoids HTML escaping surprises by marshaling scalars directly.
func marshalCanonical(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := marshalCanonical(t[k])
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			out = append(out, vb...)
		}
		return append(out, '}'), nil
	case []any:
		out := []byte{'['}
		for i, item := range t {
			if i > 0 {
				out = append(out, ',')
			}
			vb, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		return append(out, ']'), nil
	default:
		return json.Marshal(v)
	}
}

// sha256Hex hashes canonical bytes to lowercase hex.
func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// FingerprintObject returns the SHA-256 over the canonical JSON of obj.
// Reordering input keys does not change the fingerprint.
func FingerprintObject(obj any) (string, error) {
	data, err := CanonicalJSON(obj, floatDigits)
	if err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

// FingerprintBytes hashes raw bytes (e.g. a policy file) to hex.
func FingerprintBytes(data []byte) string {
	return sha256Hex(data)
}

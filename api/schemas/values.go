package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind discriminates the closed Value variant.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindJSON // nested object or array, kept as a raw blob
)

// String returns a human-readable kind name, mostly for diagnostics.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a closed variant over the property types the graph accepts:
// string, integer, float, boolean, null and nested JSON blobs. Using a tagged
// variant instead of interface{} keeps coercion rules explicit at the
// boundary.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	raw  json.RawMessage
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// String wraps a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int wraps an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float value. Whole-valued floats normalize to the int kind:
// JSON renders 2.0 as 2 and a decode yields an int, so without normalization
// a value would change kind across a storage round trip.
func Float(f float64) Value {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53 {
		return Int(int64(f))
	}
	return Value{kind: KindFloat, f: f}
}

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// JSON wraps a nested object or array as a raw blob. The blob is stored
// verbatim; invalid JSON surfaces when the property set is marshaled.
func JSON(raw json.RawMessage) Value {
	return Value{kind: KindJSON, raw: raw}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload if the value is a string.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsInt returns the integer payload if the value is an int.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsFloat returns a float payload. Int values widen to float64 so numeric
// callers (e.g. edge probabilities) accept either numeric kind.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsBool returns the boolean payload if the value is a bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsJSON returns the raw blob if the value is a nested JSON value.
func (v Value) AsJSON() (json.RawMessage, bool) {
	if v.kind != KindJSON {
		return nil, false
	}
	return v.raw, true
}

// Equal compares two values by kind and payload. JSON blobs compare by
// compacted byte equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindBool:
		return v.b == o.b
	case KindJSON:
		var a, b bytes.Buffer
		if json.Compact(&a, v.raw) != nil || json.Compact(&b, o.raw) != nil {
			return bytes.Equal(v.raw, o.raw)
		}
		return bytes.Equal(a.Bytes(), b.Bytes())
	}
	return false
}

// MarshalJSON encodes the payload as plain JSON (no kind envelope).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		return json.Marshal(v.f)
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindJSON:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	}
	return nil, fmt.Errorf("cannot marshal value of kind %s", v.kind)
}

// UnmarshalJSON decodes plain JSON into the matching variant. Numbers that
// parse as integers become KindInt, everything else numeric becomes
// KindFloat. Objects and arrays are kept as raw blobs.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty value payload")
	}
	switch trimmed[0] {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '{', '[':
		raw := make(json.RawMessage, len(trimmed))
		copy(raw, trimmed)
		*v = JSON(raw)
		return nil
	default:
		if i, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return fmt.Errorf("invalid value payload %q: %w", string(trimmed), err)
		}
		*v = Float(f)
		return nil
	}
}

// CoerceValue converts an untyped decoded value (as produced by yaml or json
// unmarshaling into interface{}) into the closed variant. Strings that carry
// a JSON-encoded array or object coerce to the JSON kind, covering legacy
// payloads where list-typed fields (e.g. skills) arrive as JSON strings.
func CoerceValue(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		trimmed := strings.TrimSpace(t)
		if len(trimmed) > 1 && (trimmed[0] == '[' || trimmed[0] == '{') && json.Valid([]byte(trimmed)) {
			return JSON(json.RawMessage(trimmed)), nil
		}
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid numeric property %q: %w", t.String(), err)
		}
		return Float(f), nil
	case json.RawMessage:
		var v Value
		if err := v.UnmarshalJSON(t); err != nil {
			return Value{}, err
		}
		return v, nil
	case map[string]interface{}, []interface{}:
		blob, err := json.Marshal(t)
		if err != nil {
			return Value{}, fmt.Errorf("cannot encode nested property: %w", err)
		}
		return JSON(blob), nil
	default:
		return Value{}, fmt.Errorf("unsupported property type %T", raw)
	}
}

// Properties is an ordered map of property names to values. Key order follows
// first insertion and survives a JSON round trip, which keeps version
// snapshots and diffs stable.
type Properties struct {
	keys   []string
	values map[string]Value
}

// NewProperties returns an empty property set.
func NewProperties() *Properties {
	return &Properties{values: make(map[string]Value)}
}

// PropsFromMap builds an ordered property set from an untyped map, coercing
// each value. Keys are inserted in sorted-stable order of the given pairs
// slice when provided via PropsFromPairs; plain maps iterate in Go map order,
// so callers that care about ordering should use Set directly.
func PropsFromMap(m map[string]interface{}) (*Properties, error) {
	p := NewProperties()
	for _, k := range sortedKeys(m) {
		v, err := CoerceValue(m[k])
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		p.Set(k, v)
	}
	return p, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort; property sets are small
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// Set inserts or replaces a property, preserving first-insertion order.
func (p *Properties) Set(key string, v Value) *Properties {
	if p.values == nil {
		p.values = make(map[string]Value)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
	return p
}

// Get returns the value stored under key.
func (p *Properties) Get(key string) (Value, bool) {
	if p == nil || p.values == nil {
		return Value{}, false
	}
	v, ok := p.values[key]
	return v, ok
}

// GetString is a convenience accessor for string properties.
func (p *Properties) GetString(key string) (string, bool) {
	v, ok := p.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// GetFloat is a convenience accessor for numeric properties.
func (p *Properties) GetFloat(key string) (float64, bool) {
	v, ok := p.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsFloat()
}

// Has reports whether key is present.
func (p *Properties) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Delete removes a property if present.
func (p *Properties) Delete(key string) {
	if p == nil || p.values == nil {
		return
	}
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Keys returns the property names in insertion order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Clone returns a deep-enough copy; Value payloads are immutable except raw
// JSON blobs, which are copied.
func (p *Properties) Clone() *Properties {
	c := NewProperties()
	if p == nil {
		return c
	}
	for _, k := range p.keys {
		v := p.values[k]
		if v.kind == KindJSON && v.raw != nil {
			raw := make(json.RawMessage, len(v.raw))
			copy(raw, v.raw)
			v.raw = raw
		}
		c.Set(k, v)
	}
	return c
}

// Merge applies patch on top of p, returning a new set. Null patch values
// delete the key; everything else overwrites or appends.
func (p *Properties) Merge(patch *Properties) *Properties {
	merged := p.Clone()
	if patch == nil {
		return merged
	}
	for _, k := range patch.keys {
		v := patch.values[k]
		if v.IsNull() {
			merged.Delete(k)
			continue
		}
		merged.Set(k, v)
	}
	return merged
}

// Equal compares two property sets by content, ignoring key order.
func (p *Properties) Equal(o *Properties) bool {
	if p.Len() != o.Len() {
		return false
	}
	for _, k := range p.Keys() {
		ov, ok := o.Get(k)
		if !ok {
			return false
		}
		v, _ := p.Get(k)
		if !v.Equal(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the properties as a JSON object in insertion order.
func (p *Properties) MarshalJSON() ([]byte, error) {
	if p == nil || len(p.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := p.values[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order via token-level
// decoding.
func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("properties payload must be a JSON object")
	}

	fresh := NewProperties()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected property key token %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		fresh.Set(key, v)
	}
	if _, err := dec.Token(); err != nil { // consume closing brace
		return err
	}

	*p = *fresh
	return nil
}

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Entries is a string-keyed map that remembers the order keys appeared in
// the source document. Menus are rendered in that order.
type Entries[V any] struct {
	keys   []string
	values map[string]V
}

// NewEntries builds Entries from alternating key/value pairs in order.
func NewEntries[V any](pairs ...Entry[V]) Entries[V] {
	var e Entries[V]
	for _, p := range pairs {
		e.Set(p.Key, p.Value)
	}
	return e
}

// Entry is one key/value pair of Entries.
type Entry[V any] struct {
	Key   string
	Value V
}

// Set inserts or replaces a value. Replacing keeps the original position.
func (e *Entries[V]) Set(key string, v V) {
	if e.values == nil {
		e.values = make(map[string]V)
	}
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = v
}

// Get returns the value stored under key.
func (e Entries[V]) Get(key string) (V, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Keys returns the keys in document order.
func (e Entries[V]) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// Len returns the number of entries.
func (e Entries[V]) Len() int {
	return len(e.keys)
}

// All returns the pairs in document order.
func (e Entries[V]) All() []Entry[V] {
	out := make([]Entry[V], 0, len(e.keys))
	for _, k := range e.keys {
		out = append(out, Entry[V]{Key: k, Value: e.values[k]})
	}
	return out
}

func (e *Entries[V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	*e = Entries[V]{}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var v V
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		e.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

func (e Entries[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range e.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(e.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Entries[V]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	*e = Entries[V]{}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var v V
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		e.Set(key, v)
	}
	return nil
}

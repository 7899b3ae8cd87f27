package storage

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

/*
	CustomFields is an ordered string -> string mapping of user-defined lead attributes.

	The zero value is an empty mapping and is safe to use. Order is the order keys were
	first Set (or appeared in the decoded JSON object).
*/
type CustomFields struct {
	keys   []string
	values map[string]string
}

// NewCustomFields builds a mapping from alternating key, value arguments
func NewCustomFields(kv ...string) CustomFields {
	c := CustomFields{}
	for i := 0; i+1 < len(kv); i += 2 {
		c.Set(kv[i], kv[i+1])
	}
	return c
}

func (c *CustomFields) Set(key, value string) {
	if c.values == nil {
		c.values = map[string]string{}
	}
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

func (c CustomFields) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *CustomFields) Delete(key string) {
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

func (c CustomFields) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c CustomFields) Len() int {
	return len(c.keys)
}

// Map returns an unordered copy
func (c CustomFields) Map() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Equal compares key sets and values, ignoring order
func (c CustomFields) Equal(o CustomFields) bool {
	if c.Len() != o.Len() {
		return false
	}
	for k, v := range c.values {
		ov, ok := o.values[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so cached values can't be mutated through a caller's copy
func (c CustomFields) Clone() CustomFields {
	out := CustomFields{}
	for _, k := range c.keys {
		out.Set(k, c.values[k])
	}
	return out
}

func (c CustomFields) MarshalJSON() ([]byte, error) {
	buf := bytes.Buffer{}
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(c.values[k])
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

func (c *CustomFields) UnmarshalJSON(data []byte) error {
	*c = CustomFields{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("customFields must be a JSON object")
	}

	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("customFields: unexpected key %v", tok)
		}

		// values are strings but numbers and bools from older rows are kept as their literal text
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		c.Set(key, s)
	}

	_, err = dec.Token()
	return err
}

// Value stores the mapping in a jsonb column
func (c CustomFields) Value() (driver.Value, error) {
	b, err := c.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a json/jsonb column; NULL becomes the empty mapping
func (c *CustomFields) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = CustomFields{}
		return nil
	case []byte:
		return c.UnmarshalJSON(v)
	case string:
		return c.UnmarshalJSON([]byte(v))
	}
	return fmt.Errorf("customFields: cannot scan %T", src)
}

package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomFieldsKeepOrder(t *testing.T) {
	c := CustomFields{}
	require.NoError(t, json.Unmarshal([]byte(`{"zeta":"1","alpha":"2","mid":"3"}`), &c))

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, c.Keys())

	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"1","alpha":"2","mid":"3"}`, string(b))
}

func TestCustomFieldsZeroValue(t *testing.T) {
	var c CustomFields
	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))

	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	assert.Equal(t, 0, c.Len())

	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &c))
}

func TestCustomFieldsNonStringValues(t *testing.T) {
	c := CustomFields{}
	require.NoError(t, json.Unmarshal([]byte(`{"seats":12,"vip":true}`), &c))

	v, _ := c.Get("seats")
	assert.Equal(t, "12", v)
	v, _ = c.Get("vip")
	assert.Equal(t, "true", v)
}

func TestCustomFieldsSetDelete(t *testing.T) {
	c := NewCustomFields("a", "1", "b", "2")
	c.Set("a", "10")
	c.Set("c", "3")
	c.Delete("b")
	c.Delete("missing")

	assert.Equal(t, []string{"a", "c"}, c.Keys())
	assert.Equal(t, map[string]string{"a": "10", "c": "3"}, c.Map())
}

func TestCustomFieldsCloneIsDeep(t *testing.T) {
	c := NewCustomFields("a", "1")
	clone := c.Clone()
	clone.Set("a", "2")
	clone.Set("b", "3")

	v, _ := c.Get("a")
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Equal(clone))
	assert.True(t, NewCustomFields("x", "1", "y", "2").Equal(NewCustomFields("y", "2", "x", "1")))
}

func TestCustomFieldsSQL(t *testing.T) {
	c := NewCustomFields("industry", "retail")
	v, err := c.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"industry":"retail"}`, v)

	out := CustomFields{}
	require.NoError(t, out.Scan([]byte(`{"industry":"retail"}`)))
	assert.True(t, c.Equal(out))

	require.NoError(t, out.Scan(nil))
	assert.Equal(t, 0, out.Len())

	assert.Error(t, out.Scan(42))
}

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadListKeyIgnoresFieldOrder(t *testing.T) {
	a, err := LeadFiltersFromMap(map[string]string{"status": "New", "assignedTo": "u1", "search": "acme"})
	require.NoError(t, err)
	b, err := LeadFiltersFromMap(map[string]string{"search": "acme", "assigned_to": "u1", "status": "New"})
	require.NoError(t, err)

	assert.Equal(t, leadListKey("crm", a), leadListKey("crm", b))
	assert.Equal(t, "service:crm|leads|assigned_to=u1|search=acme|status=New", leadListKey("crm", a))
}

func TestLeadListKeyNormalizesFilters(t *testing.T) {
	tests := []struct {
		name string
		a, b LeadFilters
	}{
		{"empty equals all", LeadFilters{Status: "all", PipelineID: "All"}, LeadFilters{}},
		{"search case", LeadFilters{Search: "ACME"}, LeadFilters{Search: "acme"}},
		{"whitespace", LeadFilters{Search: " acme ", AssignedTo: " u1"}, LeadFilters{Search: "acme", AssignedTo: "u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, leadListKey("crm", tt.a), leadListKey("crm", tt.b))
		})
	}
}

func TestLeadListKeyDistinguishesFilters(t *testing.T) {
	keys := map[string]LeadFilters{}
	for _, f := range []LeadFilters{
		{},
		{Status: "New"},
		{Status: "Won"},
		{AssignedTo: "u1"},
		{PipelineID: "u1"},
		{Search: "a|status=New"},
		{Search: "a", Status: "New"},
	} {
		k := leadListKey("crm", f)
		_, dup := keys[k]
		assert.False(t, dup, "key %q produced twice", k)
		keys[k] = f
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	assert.Equal(t, "service:crm|leads|id=l1", leadKey("crm", "l1"))
	assert.Equal(t, "service:crm|contacts|lead_id=l1", contactsKey("crm", "l1"))
	assert.Equal(t, "service:crm|users", referenceKey("crm", tableUsers))
	assert.NotEqual(t, leadKey("crm", "l1"), leadKey("other", "l1"))
}

func TestLeadFiltersFromMapRejectsUnknown(t *testing.T) {
	_, err := LeadFiltersFromMap(map[string]string{"colour": "red"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLeadFiltersValidate(t *testing.T) {
	assert.NoError(t, LeadFilters{Status: "Qualified"}.normalized().validate())
	assert.ErrorIs(t, LeadFilters{Status: "Maybe"}.normalized().validate(), ErrInvalidInput)
}

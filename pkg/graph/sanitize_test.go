package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeIdentifier(t *testing.T) {
	assert.Equal(t, "valid_name", SanitizeIdentifier("valid_name"))
	assert.Equal(t, "a_b_c", SanitizeIdentifier("a.b;c"))
	assert.Equal(t, "field", SanitizeIdentifier(""))
	assert.Equal(t, "___", SanitizeIdentifier("!!!"))
	assert.Equal(t, "DROP_TABLE_x", SanitizeIdentifier("DROP TABLE x"))
}

func TestSanitizeProps(t *testing.T) {
	got := SanitizeProps(map[string]string{"first seen": "a", "count": "b"})
	assert.Equal(t, map[string]string{"first_seen": "a", "count": "b"}, got)
}

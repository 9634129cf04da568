package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyListAdmitsEverything(t *testing.T) {
	l := New(nil)
	assert.True(t, l.Admit("10.0.0.9"))
	assert.True(t, l.Admit("anything"))
}

func TestNonEmptyListRequiresExactMatch(t *testing.T) {
	l := New([]string{"10.0.0.2", "10.0.0.3"})
	assert.True(t, l.Admit("10.0.0.2"))
	assert.False(t, l.Admit("10.0.0.9"))
	assert.False(t, l.Admit("10.0.0.20")) // no substring/wildcard matching
}

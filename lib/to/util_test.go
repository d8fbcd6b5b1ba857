package to

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestEmptyString(t *testing.T) {
	assert.Equal(t, "", EmptyString(nil))
	assert.Equal(t, "Org-1", EmptyString(Ptr("Org-1")))
}

func TestPtr(t *testing.T) {
	assert.Equal(t, 5, *Ptr(5))
}

package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckBinariesCoversRequiredSet(t *testing.T) {
	results := CheckBinaries()
	assert.Len(t, results, len(RequiredBinaries))
	for i, r := range results {
		assert.Equal(t, RequiredBinaries[i], r.Binary)
	}
}

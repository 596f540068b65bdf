package action_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/overseer-labs/warden/pkg/action"
	"github.com/overseer-labs/warden/pkg/maturity"
)

func TestComplexityOf_Catalog(t *testing.T) {
	assert.Equal(t, action.Low, action.ComplexityOf("search"))
	assert.Equal(t, action.Medium, action.ComplexityOf("create_record"))
	assert.Equal(t, action.High, action.ComplexityOf("send_email"))
	assert.Equal(t, action.Critical, action.ComplexityOf("send_payment"))
}

func TestComplexityOf_UnknownDefaultsToMedium(t *testing.T) {
	assert.Equal(t, action.Medium, action.ComplexityOf("never_seen_before"))
	assert.False(t, action.Known("never_seen_before"))
}

func TestRequiredMaturity_Table(t *testing.T) {
	tests := []struct {
		c        action.Complexity
		expected maturity.Level
	}{
		{action.Low, maturity.Student},
		{action.Medium, maturity.Intern},
		{action.High, maturity.Supervised},
		{action.Critical, maturity.Autonomous},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, action.RequiredMaturity(tt.c))
	}
}

func TestRequiredMaturity_OutOfRange(t *testing.T) {
	// A complexity outside the table must never be weaker than critical.
	assert.Equal(t, maturity.Autonomous, action.RequiredMaturity(action.Complexity(9)))
	assert.Equal(t, maturity.Autonomous, action.RequiredMaturity(action.Complexity(0)))
}

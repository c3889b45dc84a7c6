package upg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCmpOrdersByFieldNotLexically(t *testing.T) {
	// Lexical comparison would get this backwards (since "9" > "10" as
	// strings); the 4-field dotted comparator must not.
	require.Equal(t, -1, Cmp("1.0.0.9", "1.0.0.10"))
	require.Equal(t, 1, Cmp("1.0.0.10", "1.0.0.9"))
}

func TestCmpEqual(t *testing.T) {
	require.Equal(t, 0, Cmp("1.0.0.1", "1.0.0.1"))
}

func TestCmpMissingTrailingFieldTreatedAsZero(t *testing.T) {
	require.Equal(t, 0, Cmp("1.0", "1.0.0.0"))
	require.Equal(t, -1, Cmp("1.0", "1.0.0.1"))
}

func TestLatestAtLeastFourFields(t *testing.T) {
	require.Equal(t, 0, Cmp(Latest(), "1.0.0.1"))
}

package xid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("sal")
	b := New("sal")

	require.NotEqual(t, a, b)
	require.True(t, Valid("sal", a))
	require.False(t, Valid("prd", a))
	require.False(t, Valid("sal", "sal-123"))
}

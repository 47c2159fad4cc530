package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	table := NewTable[*int](time.Minute)
	one, two := 1, 2

	stored, added := table.PutIfAbsent("a", &one)
	require.True(t, added)
	require.Equal(t, &one, stored)

	stored, added = table.PutIfAbsent("a", &two)
	require.False(t, added)
	require.Equal(t, 1, *stored)

	table.Put("b", &two)
	require.Equal(t, 2, table.Len())
	require.Len(t, table.Items(), 2)

	v, ok := table.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, *v)

	table.Delete("a")
	_, ok = table.Get("a")
	require.False(t, ok)
	require.Equal(t, 1, table.Len())
}

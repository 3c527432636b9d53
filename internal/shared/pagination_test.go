package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPaginationClamps(t *testing.T) {
	p := NewPagination(0, 0, 120)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 50, p.PerPage)
	require.Equal(t, 3, p.TotalPages)

	p = NewPagination(2, 10_000, 10)
	require.Equal(t, 500, p.PerPage)
	require.Equal(t, 1, p.TotalPages)
}

func TestPaginationBounds(t *testing.T) {
	start, end := NewPagination(3, 50, 120).Bounds()
	require.Equal(t, 100, start)
	require.Equal(t, 120, end)

	start, end = NewPagination(9, 50, 120).Bounds()
	require.Equal(t, 120, start)
	require.Equal(t, 120, end)
}

package idx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/tokengate/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.NotEqual(t, idx.Zero, id)

	parsed, err := idx.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	for _, bad := range []string{"", "nope", "01HQ7T3Z1MZ0JQ3M6MZQ1FQ3Z"} {
		_, err := idx.Parse(bad)
		require.ErrorIs(t, err, idx.ErrInvalid, bad)
	}
}

func TestMonotonic(t *testing.T) {
	at := time.Unix(1700000000, 0)
	a := idx.NewAt(at)
	b := idx.NewAt(at)
	require.Less(t, a.String(), b.String())
}

func TestFromHeader(t *testing.T) {
	id := idx.New()
	require.Equal(t, id, idx.FromHeader(id.String()))

	fresh := idx.FromHeader("<script>")
	require.NotEqual(t, idx.ID("<script>"), fresh)
	_, err := idx.Parse(fresh.String())
	require.NoError(t, err)
}

package env

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	t.Setenv("MEMBERSYNC_TEST_VALUE", "  bolt  ")
	t.Setenv("MEMBERSYNC_TEST_BLANK", "   ")

	require.Equal(t, "bolt", Get("MEMBERSYNC_TEST_VALUE", "x"))
	require.Equal(t, "x", Get("MEMBERSYNC_TEST_BLANK", "x"))
	require.Equal(t, "x", Get("MEMBERSYNC_TEST_UNSET", "x"))
}

func TestFirst(t *testing.T) {
	t.Setenv("MEMBERSYNC_TEST_SECOND", "8081")

	require.Equal(t, "8081", First("8080", "MEMBERSYNC_TEST_FIRST", "MEMBERSYNC_TEST_SECOND"))
	require.Equal(t, "8080", First("8080", "MEMBERSYNC_TEST_FIRST"))
}

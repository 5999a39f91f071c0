package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	got, err := ParseType("task")
	require.NoError(t, err)
	require.Equal(t, TypeTask, got)

	got, err = ParseType(" URGENT ")
	require.NoError(t, err)
	require.Equal(t, TypeUrgent, got)

	_, err = ParseType("shout")
	require.Error(t, err)

	_, err = ParseType("")
	require.Error(t, err)
}

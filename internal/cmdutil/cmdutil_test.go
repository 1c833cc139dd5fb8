package cmdutil

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testFlag = "test-flag"
	testEnv  = "CMDUTIL_TEST_FLAG"
)

func newCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()

	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	cmd.Flags().String(testFlag, "", "")
	require.NoError(t, cmd.ParseFlags(args))

	return cmd
}

func TestGetUserSetVarFromString(t *testing.T) {
	t.Run("flag wins over env", func(t *testing.T) {
		t.Setenv(testEnv, "env")

		v, err := GetUserSetVarFromString(newCmd(t, "--"+testFlag, "flag"), testFlag, testEnv, false)
		require.NoError(t, err)
		assert.Equal(t, "flag", v)
	})

	t.Run("env fallback", func(t *testing.T) {
		t.Setenv(testEnv, "env")

		v, err := GetUserSetVarFromString(newCmd(t), testFlag, testEnv, false)
		require.NoError(t, err)
		assert.Equal(t, "env", v)
	})

	t.Run("empty flag", func(t *testing.T) {
		_, err := GetUserSetVarFromString(newCmd(t, "--"+testFlag, ""), testFlag, testEnv, true)
		require.EqualError(t, err, "test-flag value is empty")
	})

	t.Run("empty env", func(t *testing.T) {
		t.Setenv(testEnv, "")

		_, err := GetUserSetVarFromString(newCmd(t), testFlag, testEnv, true)
		require.EqualError(t, err, testEnv+" value is empty")
	})

	t.Run("missing required", func(t *testing.T) {
		_, err := GetUserSetVarFromString(newCmd(t), testFlag, testEnv, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "neither test-flag (command line flag) nor "+testEnv)
	})

	t.Run("missing optional", func(t *testing.T) {
		assert.Empty(t, GetUserSetOptionalVarFromString(newCmd(t), testFlag, testEnv))
	})
}

func TestTypedGetters(t *testing.T) {
	d, err := GetDuration(newCmd(t, "--"+testFlag, "90s"), testFlag, testEnv, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = GetDuration(newCmd(t), testFlag, testEnv, time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = GetDuration(newCmd(t, "--"+testFlag, "soon"), testFlag, testEnv, time.Second)
	assert.ErrorContains(t, err, "invalid value [soon]")

	b, err := GetBool(newCmd(t, "--"+testFlag, "true"), testFlag, testEnv, false)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = GetBool(newCmd(t, "--"+testFlag, "maybe"), testFlag, testEnv, false)
	assert.Error(t, err)

	n, err := GetInt(newCmd(t, "--"+testFlag, "12"), testFlag, testEnv, 3)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	list, err := GetList(newCmd(t, "--"+testFlag, "a, b,,c"), testFlag, testEnv)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, list)
}

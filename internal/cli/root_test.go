package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "diarystore", cmd.Use)
	assert.Contains(t, cmd.Long, "append-only")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"append", "branch", "annotate", "resolve",
		"state", "history", "as-of", "conflicts", "annotations",
		"verify", "rebuild", "export", "import", "scenario",
	}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "db", "driver", "actor", "role", "sites"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestAppendCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	appendCmd, _, err := cmd.Find([]string{"append"})
	require.NoError(t, err)

	parentFlag := appendCmd.Flags().Lookup("parent")
	require.NotNil(t, parentFlag)
	assert.Equal(t, "0", parentFlag.DefValue)

	opFlag := appendCmd.Flags().Lookup("op")
	require.NotNil(t, opFlag)
	assert.Equal(t, []string{"true"}, opFlag.Annotations[cobra.BashCompOneRequiredFlag])
}

func TestBranchRequiresParent(t *testing.T) {
	cmd := NewRootCommand()
	branchCmd, _, err := cmd.Find([]string{"branch"})
	require.NoError(t, err)

	parentFlag := branchCmd.Flags().Lookup("parent")
	require.NotNil(t, parentFlag)
	assert.Equal(t, []string{"true"}, parentFlag.Annotations[cobra.BashCompOneRequiredFlag])
}

func TestInvalidFormat(t *testing.T) {
	stdout, stderr, code := runCLI(t, "--format", "xml", "conflicts")
	assert.Equal(t, ExitCommandError, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, `invalid format "xml"`)
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
}

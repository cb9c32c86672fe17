package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSlashCommands_NamespacesByDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	commandsDir := filepath.Join(dir, ".mira", "commands", "git")
	require.NoError(t, os.MkdirAll(commandsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(commandsDir, "commit.md"), []byte("commit with message: $ARGUMENTS"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mira", "commands", "review.md"), []byte("review $ARGUMENTS"), 0o644))

	cmds, err := LoadSlashCommands(dir)
	require.NoError(t, err)
	require.Len(t, cmds, 2)

	byName := map[string]SlashCommand{}
	for _, c := range cmds {
		byName[c.Name] = c
	}
	require.Contains(t, byName, "git:commit")
	require.Contains(t, byName, "review")
	require.Equal(t, "commit with message: fix the bug", byName["git:commit"].Expand("fix the bug"))
}

func TestLoadSlashCommands_MissingDirReturnsEmpty(t *testing.T) {
	t.Parallel()
	cmds, err := LoadSlashCommands(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, cmds)
}

package transport

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	commandsDirName    = "commands"
	commandArgsToken   = "$ARGUMENTS"
	commandFileSuffix  = ".md"
)

// SlashCommand is a loaded .mira/commands/**/*.md file. Its directory
// segments below the commands root become a colon-joined prefix, so
// .mira/commands/git/commit.md loads as "git:commit" (spec.md §6.4).
type SlashCommand struct {
	Name string
	Path string
	Body string
}

// Expand substitutes every occurrence of $ARGUMENTS with args, verbatim.
func (c SlashCommand) Expand(args string) string {
	return strings.ReplaceAll(c.Body, commandArgsToken, args)
}

// LoadSlashCommands walks {projectDir}/.mira/commands and parses every
// Markdown file into a namespaced SlashCommand.
func LoadSlashCommands(projectDir string) ([]SlashCommand, error) {
	root := filepath.Join(projectDir, ".mira", commandsDirName)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	var out []SlashCommand
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), commandFileSuffix) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		cmd, err := parseSlashCommand(root, rel)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		out = append(out, cmd)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

func parseSlashCommand(root, rel string) (SlashCommand, error) {
	path := filepath.Join(root, rel)
	data, err := os.ReadFile(path)
	if err != nil {
		return SlashCommand{}, fmt.Errorf("read: %w", err)
	}

	trimmed := strings.TrimSuffix(rel, commandFileSuffix)
	segments := strings.Split(filepath.ToSlash(trimmed), "/")
	name := strings.Join(segments, ":")

	return SlashCommand{Name: name, Path: filepath.Clean(path), Body: string(data)}, nil
}

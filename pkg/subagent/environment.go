package subagent

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// EnvFunc renders the Environment Context block appended to an agent's
// system prompt. Hosts may substitute their own; the executor falls back to
// DefaultEnvironment.
type EnvFunc func(workDir, model string) string

// maxEnvEntries caps the directory listing so a crowded working directory
// does not crowd out the actual instructions.
const maxEnvEntries = 50

// DefaultEnvironment reports the date, the working directory, and its
// top-level entries. Agents run non-interactively, so this listing is often
// the only orientation the model gets before its first tool call.
func DefaultEnvironment(workDir, model string) string {
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	var sb strings.Builder
	sb.WriteString("# Environment Context\n\n")
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("Monday, January 2, 2006"))
	fmt.Fprintf(&sb, "Working directory: %s\n", workDir)

	entries := listDirEntries(workDir)
	if len(entries) == 0 {
		sb.WriteString("The working directory is empty or unreadable.\n")
		return sb.String()
	}

	sb.WriteString("Top-level entries:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "  %s\n", e)
	}
	return sb.String()
}

// listDirEntries returns sorted top-level names, directories suffixed with
// "/", truncated to maxEnvEntries with an ellipsis line.
func listDirEntries(dir string) []string {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(dirents))
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > maxEnvEntries {
		trimmed := names[:maxEnvEntries]
		trimmed = append(trimmed, fmt.Sprintf("... (%d more entries)", len(names)-maxEnvEntries))
		return trimmed
	}
	return names
}

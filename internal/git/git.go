// Package git holds the small amount of git inspection the orchestrator
// needs: naming and recording the branch a drone session works on.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SessionBranch returns the branch name recorded for a drone session:
// drone/<name>/<first 8 chars of the session id>.
func SessionBranch(droneName, sessionID string) string {
	safe := strings.ReplaceAll(droneName, " ", "-")
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("drone/%s/%s", safe, short)
}

// CurrentBranch returns the checked-out branch in repoDir, or "" when
// repoDir is empty or not a git repository (best-effort diagnostics
// only; the caller records whatever comes back).
func CurrentBranch(ctx context.Context, repoDir string) (string, error) {
	if repoDir == "" {
		return "", nil
	}
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = repoDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

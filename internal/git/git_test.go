package git

import (
	"context"
	"testing"
)

func TestSessionBranch(t *testing.T) {
	t.Parallel()

	if got := SessionBranch("scout", "abc123def456"); got != "drone/scout/abc123de" {
		t.Errorf("SessionBranch: got %q", got)
	}
	if got := SessionBranch("my drone", "ab"); got != "drone/my-drone/ab" {
		t.Errorf("SessionBranch with space and short id: got %q", got)
	}
}

func TestCurrentBranch_emptyDir(t *testing.T) {
	t.Parallel()
	got, err := CurrentBranch(context.Background(), "")
	if err != nil || got != "" {
		t.Fatalf("CurrentBranch(\"\"): got %q, %v", got, err)
	}
}

func TestCurrentBranch_notARepo(t *testing.T) {
	t.Parallel()
	if _, err := CurrentBranch(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error outside a git repository")
	}
}

package version

import (
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	if Version != "dev" {
		t.Errorf("default Version = %q, want %q", Version, "dev")
	}
	if GitCommit != "unknown" {
		t.Errorf("default GitCommit = %q, want %q", GitCommit, "unknown")
	}
}

func TestLine(t *testing.T) {
	if got := Line("tbkit"); !strings.HasPrefix(got, "tbkit dev build") {
		t.Errorf("Line() = %q", got)
	}

	Version, GitCommit = "v1.2.0", "abc1234"
	defer func() { Version, GitCommit = "dev", "unknown" }()
	if got := Line("tbkit"); got != "tbkit v1.2.0 (abc1234)" {
		t.Errorf("Line() = %q", got)
	}
}

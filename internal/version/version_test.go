package version

import (
	"strings"
	"testing"
)

func TestVersion_DefaultValues(t *testing.T) {
	if Version == "" {
		t.Error("Version should have a default value")
	}
	if ToolName == "" {
		t.Error("ToolName should have a default value")
	}
	_ = GitCommit
	_ = BuildDate
}

func TestVersion_CanBeOverridden(t *testing.T) {
	origVersion := Version
	origGitCommit := GitCommit
	origBuildDate := BuildDate
	defer func() {
		Version = origVersion
		GitCommit = origGitCommit
		BuildDate = origBuildDate
	}()

	Version = "1.2.3"
	GitCommit = "abc123def456"
	BuildDate = "2024-01-15T10:30:00Z"

	if Version != "1.2.3" {
		t.Errorf("Version = %q, want %q", Version, "1.2.3")
	}
	if GitCommit != "abc123def456" {
		t.Errorf("GitCommit = %q, want %q", GitCommit, "abc123def456")
	}
	if BuildDate != "2024-01-15T10:30:00Z" {
		t.Errorf("BuildDate = %q, want %q", BuildDate, "2024-01-15T10:30:00Z")
	}
}

func TestPlain_StripsColorSequences(t *testing.T) {
	origVersion := Version
	defer func() { Version = origVersion }()

	Version = "\x1b[33;1m0\x1b[0m.\x1b[32;1m3\x1b[0m.\x1b[34;1m0\x1b[0m-dev"
	if got := Plain(); got != "0.3.0-dev" {
		t.Fatalf("Plain() = %q, want %q", got, "0.3.0-dev")
	}

	Version = "2.0.0-alpha"
	if got := Plain(); got != "2.0.0-alpha" {
		t.Fatalf("Plain() = %q, want %q", got, "2.0.0-alpha")
	}
}

func TestPlain_DefaultIsSemver(t *testing.T) {
	plain := Plain()
	if strings.ContainsRune(plain, 0x1b) {
		t.Fatalf("Plain() still contains escape: %q", plain)
	}
	if strings.Count(plain, ".") < 2 {
		t.Fatalf("Plain() = %q, expected major.minor.patch", plain)
	}
}

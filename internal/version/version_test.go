package version

import "testing"

func TestString(t *testing.T) {
	oldVersion, oldSHA, oldTime := Version, GitSHA, BuildTime
	defer func() { Version, GitSHA, BuildTime = oldVersion, oldSHA, oldTime }()

	Version, GitSHA, BuildTime = "1.2.0", "abc123", "2026-10-01T00:00:00Z"
	want := "fusion-bridge 1.2.0 (abc123, built 2026-10-01T00:00:00Z)"
	if got := String("fusion-bridge"); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

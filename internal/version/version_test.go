package version

import "testing"

func TestString(t *testing.T) {
	Version, GitSHA, BuildTime = "v0.3.0", "abc1234", "2025-01-02T03:04:05Z"
	t.Cleanup(func() { Version, GitSHA, BuildTime = "dev", "unknown", "unknown" })

	want := "sync-replay v0.3.0 (abc1234, built 2025-01-02T03:04:05Z)"
	if got := String("sync-replay"); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

package version

import (
	"runtime"
	"testing"
)

func TestString(t *testing.T) {
	oldV, oldC, oldB := Version, Commit, BuildTime
	defer func() { Version, Commit, BuildTime = oldV, oldC, oldB }()

	Version, Commit, BuildTime = "1.2.0", "abc1234", "2024-01-15T12:00:00Z"

	if got, want := String(), "1.2.0 (abc1234) built 2024-01-15T12:00:00Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	info := Get()
	if info.Version != "1.2.0" || info.Commit != "abc1234" || info.GoVersion != runtime.Version() {
		t.Errorf("Get() = %+v", info)
	}
}

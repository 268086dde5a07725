package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abc"}
	if got := v.String(); got != "Version: 1.2.3-rc1\nBuild: abc" {
		t.Errorf("got %q", got)
	}
	if got := JSDebugVersion.String(); !strings.HasPrefix(got, "Version: 0.3.0\nBuild: ") {
		t.Errorf("got %q", got)
	}
}

func TestBuildInfo(t *testing.T) {
	got := BuildInfo()
	if !strings.HasPrefix(got, runtime.Version()+"\n") {
		t.Errorf("missing toolchain version: %q", got)
	}
	if !strings.Contains(got, " mod\t") && !strings.Contains(got, "not built in module mode") {
		t.Errorf("missing main module: %q", got)
	}
}

func TestFixBuildKeepsExplicitBuild(t *testing.T) {
	v := Version{Build: "release"}
	revisionFromBuildInfo(&v)
	if v.Build != "release" {
		t.Errorf("build overwritten: %q", v.Build)
	}
}

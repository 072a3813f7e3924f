package config

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	oldV, oldC := Version, Commit
	defer func() { Version, Commit = oldV, oldC }()
	Version = "v1.2.0"
	Commit = "0123456789abcdef"

	s := VersionString("lognexus-agent")
	for _, want := range []string{"lognexus-agent v1.2.0", "(0123456789ab,", runtime.GOOS + "/" + runtime.GOARCH} {
		if !strings.Contains(s, want) {
			t.Errorf("VersionString = %q, missing %q", s, want)
		}
	}
	if strings.Contains(s, "cdef") {
		t.Errorf("commit not shortened: %q", s)
	}
}

func TestUserAgent(t *testing.T) {
	oldV := Version
	defer func() { Version = oldV }()
	Version = "v2"

	if got := UserAgent("lognexusctl"); !strings.HasPrefix(got, "lognexusctl/v2 (") {
		t.Errorf("UserAgent = %q", got)
	}
}
